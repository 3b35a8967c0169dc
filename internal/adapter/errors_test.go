package adapter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jun/docrag/backend/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed auth", NewError("list", 401, nil), KindAuth},
		{"typed permission wrapped", fmt.Errorf("download: %w", NewError("download", 403, nil)), KindPermission},
		{"typed not found", NewError("get", 404, errors.New("gone")), KindNotFound},
		{"typed other", NewError("list", 500, nil), KindOther},
		{"sentinel not found", fmt.Errorf("x: %w", ErrNotFound), KindNotFound},
		{"text 401", errors.New("request failed with status 401"), KindAuth},
		{"text invalid credentials", errors.New("Invalid Credentials"), KindAuth},
		{"text unauthorized", errors.New("Unauthorized"), KindAuth},
		{"text forbidden", errors.New("Forbidden"), KindPermission},
		{"text 404", errors.New("status 404"), KindNotFound},
		{"other", errors.New("connection reset"), KindOther},
		{"nil", nil, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_IsNotFound(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError("get", 404, nil))
	if !errors.Is(err, ErrNotFound) {
		t.Error("Expected 404 provider error to match ErrNotFound")
	}
	if errors.Is(NewError("get", 401, nil), ErrNotFound) {
		t.Error("Expected 401 provider error not to match ErrNotFound")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(NewError("list", 401, nil)); got != "access token invalid or expired" {
		t.Errorf("Unexpected auth message %q", got)
	}
	if got := Describe(errors.New("boom")); got != "boom" {
		t.Errorf("Expected raw message, got %q", got)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(model.ProviderDropbox); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}
