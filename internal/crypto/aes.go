package crypto

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const keySize = 32

// ErrMalformedCiphertext is returned when a value is not in "<ivHex>:<cipherHex>" form
// or its padding is invalid.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// AESService implements Encryptor with AES-256-CBC and PKCS#7 padding.
// Ciphertexts are "<ivHex>:<cipherHex>" with a fresh random 16-byte IV.
type AESService struct {
	block cipher.Block
}

// NewAESService derives the key by right-padding secret with '0' to 32 bytes
// and truncating anything longer.
func NewAESService(secret string) (*AESService, error) {
	key := []byte(secret)
	if len(key) < keySize {
		key = append(key, bytes.Repeat([]byte{'0'}, keySize-len(key))...)
	}
	block, err := aes.NewCipher(key[:keySize])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &AESService{block: block}, nil
}

// Encrypt encrypts the plaintext.
func (s *AESService) Encrypt(_ context.Context, plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (s *AESService) Decrypt(_ context.Context, ciphertext string) (string, error) {
	ivHex, dataHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", ErrMalformedCiphertext
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformedCiphertext
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrMalformedCiphertext
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(s.block, iv).CryptBlocks(out, data)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DecryptJSON decrypts ciphertext and unmarshals the JSON payload into T.
func DecryptJSON[T any](ctx context.Context, enc Encryptor, ciphertext string) (T, error) {
	var v T
	plain, err := enc.Decrypt(ctx, ciphertext)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(plain), &v); err != nil {
		return v, fmt.Errorf("failed to decode decrypted payload: %w", err)
	}
	return v, nil
}

// EncryptJSON marshals v and encrypts the result.
func EncryptJSON(ctx context.Context, enc Encryptor, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return enc.Encrypt(ctx, string(raw))
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrMalformedCiphertext
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrMalformedCiphertext
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrMalformedCiphertext
		}
	}
	return b[:len(b)-n], nil
}
