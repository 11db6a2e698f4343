// Package secrets keeps BlackHole and backup secrets in a single file
// encrypted with an age scrypt passphrase. The plaintext is a flat TOML
// table of name = "secret".
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"filippo.io/age"
	"github.com/BurntSushi/toml"
	"github.com/google/renameio"

	"wbh-go/internal/config"
	"wbh-go/internal/crypto"
	"wbh-go/internal/wbh"
)

// PassphraseEnv overrides the interactive passphrase prompt.
const PassphraseEnv = "WBH_SECRETS_PASSPHRASE"

// BackupSecretName is the entry `secrets init` generates for catalog backups.
const BackupSecretName = "backup"

// Secrets maps secret names to their values.
type Secrets map[string]string

// Names returns the secret names in sorted order.
func (s Secrets) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named secret.
func (s Secrets) Lookup(name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("secret %q not found in store", name)
	}
	return v, nil
}

// Store is an age-encrypted secrets file on disk.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the encrypted file.
func (s *Store) Path() string { return s.path }

// Exists reports whether the encrypted file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save encrypts secrets with passphrase and atomically replaces the file.
func (s *Store) Save(passphrase string, secrets Secrets) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty passphrase", wbh.ErrCrypto)
	}
	var plain bytes.Buffer
	if err := toml.NewEncoder(&plain).Encode(map[string]string(secrets)); err != nil {
		return fmt.Errorf("%w: encoding secrets: %v", wbh.ErrSerialization, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	t, err := renameio.TempFile("", s.path)
	if err != nil {
		return fmt.Errorf("creating secrets file: %w", err)
	}
	defer t.Cleanup()
	if err := t.Chmod(0600); err != nil {
		return fmt.Errorf("setting secrets file mode: %w", err)
	}

	w, err := age.Encrypt(t, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain.Bytes()); err != nil {
		return fmt.Errorf("writing encrypted secrets: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted secrets: %w", err)
	}
	return t.CloseAtomicallyReplace()
}

// Unlock decrypts the file with passphrase. A wrong passphrase yields
// an error wrapping wbh.ErrAuthentication.
func (s *Store) Unlock(passphrase string) (Secrets, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, fmt.Errorf("%w: wrong passphrase for %s", wbh.ErrAuthentication, s.path)
		}
		return nil, fmt.Errorf("%w: decrypting secrets: %v", wbh.ErrCrypto, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading decrypted secrets: %v", wbh.ErrCrypto, err)
	}

	out := Secrets{}
	if _, err := toml.Decode(string(plain), &out); err != nil {
		return nil, fmt.Errorf("%w: parsing secrets: %v", wbh.ErrSerialization, err)
	}
	return out, nil
}

// Generate returns a random secret suitable for the backup code.
func Generate() (string, error) {
	return crypto.RandomHex(16)
}

// NeedsStore reports whether cfg refers to any secret by name.
func NeedsStore(cfg *config.Config) bool {
	if cfg.Backup.Secret == "" && cfg.Backup.SecretRef != "" {
		return true
	}
	for _, bh := range cfg.BlackHoles {
		if bh.Secret == "" && bh.SecretRef != "" {
			return true
		}
	}
	return false
}

// Resolve fills every empty secret in cfg from its secret_ref. Inline
// secrets win over references.
func Resolve(cfg *config.Config, s Secrets) error {
	var errs []error
	if cfg.Backup.Secret == "" && cfg.Backup.SecretRef != "" {
		v, err := s.Lookup(cfg.Backup.SecretRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("backup: %w", err))
		}
		cfg.Backup.Secret = v
	}
	for i := range cfg.BlackHoles {
		bh := &cfg.BlackHoles[i]
		if bh.Secret != "" || bh.SecretRef == "" {
			continue
		}
		v, err := s.Lookup(bh.SecretRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("blackhole %s: %w", bh.Name, err))
			continue
		}
		bh.Secret = v
	}
	return errors.Join(errs...)
}
