// Package sources manages document sources and runs cloud storage calls with
// the source's decrypted credentials, refreshing an expired access token once.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/auth"
	"github.com/jun/docrag/backend/internal/crypto"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
)

var (
	ErrNotFound       = errors.New("document source not found")
	ErrInvalidInput   = errors.New("invalid document source")
	ErrReauthenticate = errors.New("could not refresh token, re-authenticate")
)

// Service is the DocumentSource credential lifecycle.
type Service struct {
	repo      store.SourceRepository
	providers *adapter.Registry
	enc       crypto.Encryptor
	refresher auth.TokenRefresher
	log       *logger.Logger
}

func NewService(repo store.SourceRepository, providers *adapter.Registry, enc crypto.Encryptor, refresher auth.TokenRefresher, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		providers: providers,
		enc:       enc,
		refresher: refresher,
		log:       log.With("service", "SourceService"),
	}
}

// CreateInput describes a new source. ClientID and ClientSecret are optional
// and enable token refresh.
type CreateInput struct {
	Name         string
	Provider     model.ProviderType
	Credentials  model.Credentials
	FolderID     string
	ClientID     string
	ClientSecret string
}

func (s *Service) CreateSource(ctx context.Context, userID string, in CreateInput) (*model.DocumentSource, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	switch in.Provider {
	case model.ProviderGoogleDrive, model.ProviderDropbox, model.ProviderOneDrive:
		if in.Credentials.AccessToken == "" {
			return nil, fmt.Errorf("%w: access token is required", ErrInvalidInput)
		}
	case model.ProviderLocal:
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, in.Provider)
	}

	src := &model.DocumentSource{
		UserID:   userID,
		Provider: in.Provider,
		Name:     strings.TrimSpace(in.Name),
		FolderID: in.FolderID,
		IsActive: true,
	}
	var err error
	if src.Credentials, err = crypto.EncryptJSON(ctx, s.enc, in.Credentials); err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}
	if src.ClientID, err = s.encryptOptional(ctx, in.ClientID); err != nil {
		return nil, fmt.Errorf("encrypt client id: %w", err)
	}
	if src.ClientSecret, err = s.encryptOptional(ctx, in.ClientSecret); err != nil {
		return nil, fmt.Errorf("encrypt client secret: %w", err)
	}

	if err := s.repo.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	s.log.Info("Document source created", "sourceId", src.ID, "provider", src.Provider)
	return src, nil
}

func (s *Service) GetUserSources(ctx context.Context, userID string) ([]model.DocumentSource, error) {
	return s.repo.ListByUser(ctx, userID)
}

// GetSource returns the source when it exists and belongs to userID.
func (s *Service) GetSource(ctx context.Context, userID, sourceID string) (*model.DocumentSource, error) {
	src, err := s.repo.Get(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if src.UserID != userID {
		return nil, ErrNotFound
	}
	return src, nil
}

// UpdateInput holds optional changes; nil fields are left as they are.
type UpdateInput struct {
	Name        *string
	FolderID    *string
	IsActive    *bool
	Credentials *model.Credentials
}

func (s *Service) UpdateSource(ctx context.Context, userID, sourceID string, in UpdateInput) (*model.DocumentSource, error) {
	src, err := s.GetSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		src.Name = strings.TrimSpace(*in.Name)
	}
	if in.FolderID != nil {
		src.FolderID = *in.FolderID
	}
	if in.IsActive != nil {
		src.IsActive = *in.IsActive
	}
	if in.Credentials != nil {
		enc, err := crypto.EncryptJSON(ctx, s.enc, *in.Credentials)
		if err != nil {
			return nil, fmt.Errorf("encrypt credentials: %w", err)
		}
		src.Credentials = enc
		src.LastError = ""
	}
	if err := s.repo.Update(ctx, src); err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	return src, nil
}

// DeleteSource removes the source and its tracked files.
func (s *Service) DeleteSource(ctx context.Context, userID, sourceID string) error {
	if _, err := s.GetSource(ctx, userID, sourceID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, sourceID)
}

// UpdateLastSync stamps the source's last successful sync time.
func (s *Service) UpdateLastSync(ctx context.Context, sourceID string) error {
	src, err := s.repo.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	now := time.Now()
	src.LastSyncAt = &now
	return s.repo.Update(ctx, src)
}

// ListFiles lists folderID, falling back to the source's root folder.
func (s *Service) ListFiles(ctx context.Context, userID, sourceID, folderID string) ([]adapter.CloudFile, error) {
	src, err := s.GetSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	if folderID == "" {
		folderID = src.FolderID
	}
	return withCredentials(ctx, s, src, "list", func(ctx context.Context, p adapter.CloudStorageProvider, c model.Credentials) ([]adapter.CloudFile, error) {
		return p.ListFiles(ctx, c, folderID)
	})
}

func (s *Service) DownloadFile(ctx context.Context, userID, sourceID, fileID string) ([]byte, error) {
	src, err := s.GetSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	return withCredentials(ctx, s, src, "download", func(ctx context.Context, p adapter.CloudStorageProvider, c model.Credentials) ([]byte, error) {
		return p.DownloadFile(ctx, c, fileID)
	})
}

func (s *Service) GetFileMetadata(ctx context.Context, userID, sourceID, fileID string) (*adapter.CloudFile, error) {
	src, err := s.GetSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	return withCredentials(ctx, s, src, "metadata", func(ctx context.Context, p adapter.CloudStorageProvider, c model.Credentials) (*adapter.CloudFile, error) {
		return p.GetFileMetadata(ctx, c, fileID)
	})
}

type providerCall[T any] func(ctx context.Context, p adapter.CloudStorageProvider, c model.Credentials) (T, error)

// withCredentials runs call with the source's credentials. On an auth failure
// it refreshes the token at most once, persists it and retries once.
func withCredentials[T any](ctx context.Context, s *Service, src *model.DocumentSource, op string, call providerCall[T]) (T, error) {
	var zero T
	provider, err := s.providers.Get(src.Provider)
	if err != nil {
		return zero, err
	}
	creds, err := crypto.DecryptJSON[model.Credentials](ctx, s.enc, src.Credentials)
	if err != nil {
		return zero, fmt.Errorf("decrypt credentials: %w", err)
	}

	out, err := call(ctx, provider, creds)
	if err == nil {
		s.markHealthy(ctx, src)
		return out, nil
	}

	kind := adapter.Classify(err)
	if kind != adapter.KindAuth {
		s.recordFailure(ctx, src, adapter.Describe(err), false)
		return zero, err
	}

	clientID, clientSecret, ok := s.oauthClient(ctx, src)
	if creds.RefreshToken == "" || !ok {
		s.log.Warn("Access token rejected and no refresh material", "sourceId", src.ID, "op", op)
		s.recordFailure(ctx, src, adapter.Describe(err), true)
		return zero, err
	}

	s.log.Info("Access token expired, refreshing", "sourceId", src.ID, "op", op)
	fresh, rerr := s.refresher.Refresh(ctx, src.Provider, clientID, clientSecret, creds.RefreshToken)
	if rerr != nil {
		s.log.Error("Token refresh failed", "sourceId", src.ID, "error", rerr)
		s.recordFailure(ctx, src, ErrReauthenticate.Error(), true)
		return zero, fmt.Errorf("%w: %v", ErrReauthenticate, rerr)
	}

	creds.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		creds.RefreshToken = fresh.RefreshToken
	}
	if !fresh.Expiry.IsZero() {
		exp := fresh.Expiry
		creds.ExpiresAt = &exp
	}
	if err := s.persistCredentials(ctx, src, creds); err != nil {
		return zero, err
	}
	s.log.Info("Token refreshed", "sourceId", src.ID)

	out, err = call(ctx, provider, creds)
	if err != nil {
		retryKind := adapter.Classify(err)
		s.recordFailure(ctx, src, adapter.Describe(err), retryKind == adapter.KindAuth)
		return zero, err
	}
	return out, nil
}

func (s *Service) oauthClient(ctx context.Context, src *model.DocumentSource) (string, string, bool) {
	if src.ClientID == "" || src.ClientSecret == "" {
		return "", "", false
	}
	id, err := s.enc.Decrypt(ctx, src.ClientID)
	if err != nil {
		s.log.Warn("Could not decrypt OAuth client id", "sourceId", src.ID, "error", err)
		return "", "", false
	}
	secret, err := s.enc.Decrypt(ctx, src.ClientSecret)
	if err != nil {
		s.log.Warn("Could not decrypt OAuth client secret", "sourceId", src.ID, "error", err)
		return "", "", false
	}
	return id, secret, id != "" && secret != ""
}

func (s *Service) persistCredentials(ctx context.Context, src *model.DocumentSource, creds model.Credentials) error {
	enc, err := crypto.EncryptJSON(ctx, s.enc, creds)
	if err != nil {
		return fmt.Errorf("encrypt refreshed credentials: %w", err)
	}
	src.Credentials = enc
	src.IsActive = true
	src.LastError = ""
	if err := s.repo.Update(ctx, src); err != nil {
		return fmt.Errorf("persist refreshed credentials: %w", err)
	}
	return nil
}

func (s *Service) markHealthy(ctx context.Context, src *model.DocumentSource) {
	if src.IsActive && src.LastError == "" {
		return
	}
	if !src.IsActive {
		s.log.Info("Document source reactivated", "sourceId", src.ID)
	}
	src.IsActive = true
	src.LastError = ""
	if err := s.repo.Update(ctx, src); err != nil {
		s.log.Warn("Failed to clear source error", "sourceId", src.ID, "error", err)
	}
}

func (s *Service) recordFailure(ctx context.Context, src *model.DocumentSource, msg string, deactivate bool) {
	src.LastError = msg
	if deactivate {
		src.IsActive = false
	}
	if err := s.repo.Update(ctx, src); err != nil {
		s.log.Warn("Failed to record source error", "sourceId", src.ID, "error", err)
	}
}

func (s *Service) encryptOptional(ctx context.Context, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.enc.Encrypt(ctx, v)
}
