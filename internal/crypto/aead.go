package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"wbh-go/internal/wbh"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
)

// Sealed is the output of Encrypt. Key and Nonce must travel with the
// ciphertext; the secret must not.
type Sealed struct {
	Ciphertext []byte
	Key        []byte
	Nonce      []byte
}

// Encrypt seals plaintext with ChaCha20-Poly1305, authenticating secret as
// associated data. A nil key or nonce is replaced with fresh random bytes.
// Callers that pass both are responsible for never repeating the pair.
func Encrypt(plaintext, secret, key, nonce []byte) (*Sealed, error) {
	if key == nil {
		key = make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: generating key: %w", wbh.ErrCrypto, err)
		}
	}
	if nonce == nil {
		nonce = make([]byte, NonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("%w: generating nonce: %w", wbh.ErrCrypto, err)
		}
	}
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return &Sealed{
		Ciphertext: aead.Seal(nil, nonce, plaintext, secret),
		Key:        key,
		Nonce:      nonce,
	}, nil
}

// Decrypt opens ciphertext sealed by Encrypt. A wrong secret and a corrupted
// ciphertext both fail with wbh.ErrAuthentication.
func Decrypt(ciphertext, secret, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wbh.ErrAuthentication, err)
	}
	return plaintext, nil
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", wbh.ErrCrypto, len(key), KeySize)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", wbh.ErrCrypto, len(nonce), NonceSize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wbh.ErrCrypto, err)
	}
	return aead, nil
}

// RandomHex returns n random bytes as lowercase hex.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
