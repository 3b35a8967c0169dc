package crypto

import (
	"context"
	"strings"
)

// MockEncryptor implements Encryptor for tests and local development.
// It only prefixes values so stored credentials stay readable.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return "mock:" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "mock:") {
		return "", ErrMalformedCiphertext
	}
	return strings.TrimPrefix(ciphertext, "mock:"), nil
}
