package crypto

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"wbh-go/internal/wbh"
)

// materialSep separates the hex key from the hex nonce. It can never occur
// inside lowercase hex.
const materialSep = "O"

// FormatMaterial encodes a per-chunk key and nonce for storage in the
// queue document and the catalog.
func FormatMaterial(key, nonce []byte) string {
	return hex.EncodeToString(key) + materialSep + hex.EncodeToString(nonce)
}

// ParseMaterial reverses FormatMaterial.
func ParseMaterial(s string) (key, nonce []byte, err error) {
	keyHex, nonceHex, ok := strings.Cut(s, materialSep)
	if !ok {
		return nil, nil, fmt.Errorf("%w: encryption material has no separator", wbh.ErrSerialization)
	}
	if key, err = hex.DecodeString(keyHex); err != nil {
		return nil, nil, fmt.Errorf("%w: encryption key: %w", wbh.ErrSerialization, err)
	}
	if nonce, err = hex.DecodeString(nonceHex); err != nil {
		return nil, nil, fmt.Errorf("%w: encryption nonce: %w", wbh.ErrSerialization, err)
	}
	if len(key) != KeySize || len(nonce) != NonceSize {
		return nil, nil, fmt.Errorf("%w: encryption material has key %d and nonce %d bytes", wbh.ErrSerialization, len(key), len(nonce))
	}
	return key, nonce, nil
}

// EncodeBlob compresses b and encodes it as base64 text so it survives a
// text-only channel.
func EncodeBlob(b []byte) (string, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return "", fmt.Errorf("compressing blob: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing blob: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding base64: %w", wbh.ErrSerialization, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: opening zlib stream: %w", wbh.ErrSerialization, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing: %w", wbh.ErrSerialization, err)
	}
	return out, nil
}
