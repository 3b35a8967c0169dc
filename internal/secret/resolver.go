// Package secret resolves named secrets from SSM Parameter Store or, in
// development, from environment variables.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Parameter names used by the service.
const (
	JWTSecret        = "/docrag/jwt-secret"
	EncryptionKey    = "/docrag/encryption-key"
	DatabaseURL      = "/docrag/database-url"
	LLMAPIKey        = "/docrag/llm-api-key"
	APIGatewaySecret = "/docrag/api-gateway-secret"
)

// SSMClient is the subset of *ssm.Client used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type SSMResolver struct {
	client SSMClient
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

// GetSecret reads a SecureString parameter with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads the environment variable named after the last segment
// of the parameter: "/docrag/llm-api-key" is LLM_API_KEY.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := EnvName(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

// EnvName converts a parameter name to its environment variable name.
func EnvName(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// CachingResolver memoizes successful lookups of the wrapped resolver, so a
// warm Lambda container calls SSM once per parameter.
type CachingResolver struct {
	next Resolver

	mu     sync.Mutex
	values map[string]string
}

func NewCachingResolver(next Resolver) *CachingResolver {
	return &CachingResolver{next: next, values: make(map[string]string)}
}

func (r *CachingResolver) GetSecret(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	v, ok := r.values[name]
	r.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := r.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.values[name] = v
	r.mu.Unlock()
	return v, nil
}

// GetOr returns the secret, or fallback when it cannot be resolved.
func GetOr(ctx context.Context, r Resolver, name, fallback string) string {
	v, err := r.GetSecret(ctx, name)
	if err != nil {
		return fallback
	}
	return v
}
