// Package vault encrypts merchant signing secrets at rest.
//
// Blobs are base64(iv) ":" base64(ciphertext) using AES-256-CBC with PKCS#7 padding
// and a fresh random IV for every Encrypt call.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/baharkarakas/paygate/internal/apperr"
)

const KeySize = 32

type Vault struct {
	block cipher.Block
}

// New accepts the key as 64 hex characters.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("vault key: not hex: %w", err)
	}
	return NewFromBytes(key)
}

func NewFromBytes(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault key: want %d bytes, got %d", KeySize, len(key))
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Vault{block: b}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: iv: %w", err)
	}
	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(v.block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(out), nil
}

func (v *Vault) Decrypt(blob string) (string, error) {
	ivPart, ctPart, ok := strings.Cut(blob, ":")
	if !ok || ivPart == "" || ctPart == "" {
		return "", fmt.Errorf("%w: malformed blob", apperr.ErrDecryption)
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: bad iv", apperr.ErrDecryption)
	}
	ct, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad ciphertext", apperr.ErrDecryption)
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(v.block, iv).CryptBlocks(out, ct)
	plain, err := unpad(out)
	if err != nil {
		return "", err
	}
	// a wrong key occasionally yields valid padding; garbage rarely survives utf8
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: key mismatch", apperr.ErrDecryption)
	}
	return string(plain), nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", apperr.ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", apperr.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}

// GenerateAPIKey returns a merchant API key: "gk_" + 64 hex chars.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "gk_" + hex.EncodeToString(b), nil
}
