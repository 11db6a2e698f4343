package wbh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BlackHole is one watched root directory plus its remote destination
// and encryption policy. ID is zero until resolved against the catalog.
type BlackHole struct {
	ID          int64
	Name        string
	RootPath    string
	Destination string
	Encryption  EncryptionType
	Secret      string
}

// Validate checks that the BlackHole is usable.
func (b *BlackHole) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("blackhole name is required")
	}
	if b.RootPath == "" {
		return fmt.Errorf("blackhole %s: root path is required", b.Name)
	}
	if b.Encryption == EncryptionChaCha20Poly1305 && b.Secret == "" {
		return fmt.Errorf("blackhole %s: encryption secret is required for %s", b.Name, b.Encryption)
	}
	return nil
}

// Dir returns the per-root working directory with the given name.
func (b *BlackHole) Dir(name string) string {
	return filepath.Join(b.RootPath, name)
}

// HoleFile is the per-root metadata file written into a BlackHole root.
// It lets a root be recognized after the daemon's config is lost.
type HoleFile struct {
	ID          int64  `json:"id"`
	DirPath     string `json:"dirpath"`
	Name        string `json:"name"`
	Destination string `json:"destination"`
	Encryption  string `json:"encryption_type"`
}

// WriteHoleFile writes the metadata file for b at path.
func WriteHoleFile(path string, b *BlackHole) error {
	data, err := json.MarshalIndent(HoleFile{
		ID:          b.ID,
		DirPath:     b.RootPath,
		Name:        b.Name,
		Destination: b.Destination,
		Encryption:  b.Encryption.String(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding blackhole file: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing blackhole file: %w", err)
	}
	return nil
}

// ReadHoleFile reads a metadata file written by WriteHoleFile.
// The secret is never stored in it.
func ReadHoleFile(path string) (*BlackHole, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blackhole file: %w", err)
	}
	var hf HoleFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("%w: decoding blackhole file %s: %w", ErrSerialization, path, err)
	}
	enc, err := ParseEncryptionType(hf.Encryption)
	if err != nil {
		return nil, err
	}
	return &BlackHole{
		ID:          hf.ID,
		Name:        hf.Name,
		RootPath:    hf.DirPath,
		Destination: hf.Destination,
		Encryption:  enc,
	}, nil
}
