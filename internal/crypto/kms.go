package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor encrypts and decrypts credential payloads.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSClient is the subset of *kms.Client used by KMSService.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor using AWS KMS with base64 ciphertexts.
// It is used to unwrap the credential encryption key at startup.
type KMSService struct {
	client KMSClient
	keyID  string
}

// NewKMSService creates a new KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/docrag-credentials").
func NewKMSService(client KMSClient, keyID string) *KMSService {
	return &KMSService{client: client, keyID: keyID}
}

func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: decoded,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt: %w", err)
	}
	return string(result.Plaintext), nil
}

// UnwrapKey resolves the AES credential key from a KMS-encrypted blob.
func UnwrapKey(ctx context.Context, kmsSvc *KMSService, wrapped string) (*AESService, error) {
	secret, err := kmsSvc.Decrypt(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap credential key: %w", err)
	}
	return NewAESService(secret)
}
