package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
	"gorm.io/gorm"
)

// SourceRepo implements store.SourceRepository.
type SourceRepo struct {
	db *gorm.DB
}

func (r *SourceRepo) Create(ctx context.Context, s *model.DocumentSource) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *SourceRepo) Get(ctx context.Context, id string) (*model.DocumentSource, error) {
	var s model.DocumentSource
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *SourceRepo) ListByUser(ctx context.Context, userID string) ([]model.DocumentSource, error) {
	var out []model.DocumentSource
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	return out, translate(err)
}

// Update writes every column, so IsActive=false is persisted.
func (r *SourceRepo) Update(ctx context.Context, s *model.DocumentSource) error {
	return translate(r.db.WithContext(ctx).Save(s).Error)
}

func (r *SourceRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&model.TrackedFile{}).Error; err != nil {
			return translate(err)
		}
		res := tx.Delete(&model.DocumentSource{}, "id = ?", id)
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// TrackedFileRepo implements store.TrackedFileRepository.
type TrackedFileRepo struct {
	db *gorm.DB
}

func (r *TrackedFileRepo) Create(ctx context.Context, f *model.TrackedFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = model.StatusPending
	}
	return translate(r.db.WithContext(ctx).Create(f).Error)
}

func (r *TrackedFileRepo) Get(ctx context.Context, id string) (*model.TrackedFile, error) {
	var f model.TrackedFile
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *TrackedFileRepo) FindBySourceAndFile(ctx context.Context, sourceID, fileID string) (*model.TrackedFile, error) {
	var f model.TrackedFile
	err := r.db.WithContext(ctx).Where("source_id = ? AND file_id = ?", sourceID, fileID).First(&f).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *TrackedFileRepo) ListBySource(ctx context.Context, sourceID string) ([]model.TrackedFile, error) {
	var out []model.TrackedFile
	err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).Order("created_at ASC").Find(&out).Error
	return out, translate(err)
}

func (r *TrackedFileRepo) ListPending(ctx context.Context, limit int) ([]model.TrackedFile, error) {
	var out []model.TrackedFile
	err := r.db.WithContext(ctx).
		Where("status = ?", model.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

func (r *TrackedFileRepo) Update(ctx context.Context, f *model.TrackedFile) error {
	return translate(r.db.WithContext(ctx).Save(f).Error)
}

func (r *TrackedFileRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.TrackedFile{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ProcessedFileRepo implements store.ProcessedFileRepository.
type ProcessedFileRepo struct {
	db *gorm.DB
}

func (r *ProcessedFileRepo) FindByName(ctx context.Context, filename string) (*model.ProcessedFile, error) {
	var f model.ProcessedFile
	if err := r.db.WithContext(ctx).Where("filename = ?", filename).First(&f).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *ProcessedFileRepo) FindByNameAndHash(ctx context.Context, filename, hash string) (*model.ProcessedFile, error) {
	var f model.ProcessedFile
	err := r.db.WithContext(ctx).Where("filename = ? AND file_hash = ?", filename, hash).First(&f).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *ProcessedFileRepo) Create(ctx context.Context, f *model.ProcessedFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ProcessedAt.IsZero() {
		f.ProcessedAt = time.Now()
	}
	return translate(r.db.WithContext(ctx).Create(f).Error)
}

func (r *ProcessedFileRepo) DeleteByName(ctx context.Context, filename string) error {
	return translate(r.db.WithContext(ctx).Where("filename = ?", filename).Delete(&model.ProcessedFile{}).Error)
}

func (r *ProcessedFileRepo) List(ctx context.Context) ([]model.ProcessedFile, error) {
	var out []model.ProcessedFile
	err := r.db.WithContext(ctx).Order("processed_at DESC").Find(&out).Error
	return out, translate(err)
}

func (r *ProcessedFileRepo) Clear(ctx context.Context) error {
	return translate(r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.ProcessedFile{}).Error)
}

// ConversationRepo implements store.ConversationRepository.
type ConversationRepo struct {
	db *gorm.DB
}

func (r *ConversationRepo) Create(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *ConversationRepo) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *ConversationRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	var out []model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		Find(&out).Error
	return out, translate(err)
}

func (r *ConversationRepo) Update(ctx context.Context, c *model.Conversation) error {
	return translate(r.db.WithContext(ctx).Save(c).Error)
}

// AddMessage appends m and bumps the conversation's UpdatedAt in one transaction.
func (r *ConversationRepo) AddMessage(ctx context.Context, m *model.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Conversation{}).Where("id = ?", m.ConversationID).Update("updated_at", time.Now())
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return translate(tx.Create(m).Error)
	})
}

func (r *ConversationRepo) Messages(ctx context.Context, conversationID string) ([]model.ConversationMessage, error) {
	var out []model.ConversationMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&out).Error
	return out, translate(err)
}

var (
	_ store.SourceRepository        = (*SourceRepo)(nil)
	_ store.TrackedFileRepository   = (*TrackedFileRepo)(nil)
	_ store.ProcessedFileRepository = (*ProcessedFileRepo)(nil)
	_ store.ConversationRepository  = (*ConversationRepo)(nil)
	_ store.VectorRepository        = (*VectorRepo)(nil)
)
