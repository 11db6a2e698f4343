// Package dbbackup snapshots the catalog to the transport and rebuilds it
// from a recovery code.
//
// A recovery code is base64(zlib(key ‖ nonce ‖ AEAD(descriptors))) where
// descriptors are "ENC;MATERIAL;CHK;CHECKSUM;BLOB" entries joined by '^',
// one per snapshot chunk in index order. The backup secret is the AEAD
// associated data, both for the chunks and for the code itself.
package dbbackup

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"wbh-go/internal/crypto"
	"wbh-go/internal/transfer"
	"wbh-go/internal/wbh"
)

const (
	descriptorSeparator = "^"
	fieldSeparator      = ";"
)

// FormatDescriptor renders one chunk reference.
func FormatDescriptor(ref transfer.ChunkRef) string {
	return strings.Join([]string{
		ref.Encryption.String(),
		ref.Material,
		ref.ChecksumType.String(),
		ref.Checksum,
		ref.BlobID,
	}, fieldSeparator)
}

// ParseDescriptor parses a descriptor produced by FormatDescriptor.
func ParseDescriptor(s string, index int) (transfer.ChunkRef, error) {
	parts := strings.Split(s, fieldSeparator)
	if len(parts) != 5 {
		return transfer.ChunkRef{}, fmt.Errorf("%w: descriptor %d has %d fields, want 5", wbh.ErrSerialization, index, len(parts))
	}
	enc, err := wbh.ParseEncryptionType(parts[0])
	if err != nil {
		return transfer.ChunkRef{}, err
	}
	chk, err := wbh.ParseChecksumType(parts[2])
	if err != nil {
		return transfer.ChunkRef{}, err
	}
	if parts[4] == "" {
		return transfer.ChunkRef{}, fmt.Errorf("%w: descriptor %d has no blob handle", wbh.ErrSerialization, index)
	}
	return transfer.ChunkRef{
		Index:        index,
		Encryption:   enc,
		Material:     parts[1],
		ChecksumType: chk,
		Checksum:     parts[3],
		BlobID:       parts[4],
	}, nil
}

// EncodeCode seals the descriptors of refs under secret.
func EncodeCode(refs []transfer.ChunkRef, secret string) (string, error) {
	descs := make([]string, len(refs))
	for i, ref := range refs {
		descs[i] = FormatDescriptor(ref)
	}
	sealed, err := crypto.Encrypt([]byte(strings.Join(descs, descriptorSeparator)), []byte(secret), nil, nil)
	if err != nil {
		return "", err
	}
	payload := make([]byte, 0, len(sealed.Key)+len(sealed.Nonce)+len(sealed.Ciphertext))
	payload = append(payload, sealed.Key...)
	payload = append(payload, sealed.Nonce...)
	payload = append(payload, sealed.Ciphertext...)
	return crypto.EncodeBlob(payload)
}

// DecodeCode opens a recovery code. A wrong secret fails with
// wbh.ErrAuthentication; a damaged code with wbh.ErrSerialization or
// wbh.ErrAuthentication depending on where the damage is.
func DecodeCode(code, secret string) ([]transfer.ChunkRef, error) {
	payload, err := crypto.DecodeBlob(strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if len(payload) < crypto.KeySize+crypto.NonceSize {
		return nil, fmt.Errorf("%w: recovery code is too short", wbh.ErrSerialization)
	}
	key := payload[:crypto.KeySize]
	nonce := payload[crypto.KeySize : crypto.KeySize+crypto.NonceSize]
	plain, err := crypto.Decrypt(payload[crypto.KeySize+crypto.NonceSize:], []byte(secret), key, nonce)
	if err != nil {
		return nil, fmt.Errorf("opening recovery code: %w", err)
	}
	if len(plain) == 0 {
		return nil, fmt.Errorf("%w: recovery code lists no chunks", wbh.ErrSerialization)
	}

	descs := strings.Split(string(plain), descriptorSeparator)
	refs := make([]transfer.ChunkRef, len(descs))
	for i, d := range descs {
		if refs[i], err = ParseDescriptor(d, i); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

// Split cuts code into segments of at most limit characters.
func Split(code string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(code) <= limit {
		return []string{code}
	}
	var segments []string
	runes := []rune(code)
	for len(runes) > 0 {
		n := min(limit, len(runes))
		segments = append(segments, string(runes[:n]))
		runes = runes[n:]
	}
	return segments
}

// Join reassembles segments, tolerating whitespace pasted between them.
func Join(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(strings.Join(strings.Fields(s), ""))
	}
	return b.String()
}
