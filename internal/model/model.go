package model

import "time"

// ProviderType identifies the cloud storage backend of a DocumentSource.
type ProviderType string

const (
	ProviderGoogleDrive ProviderType = "google_drive"
	ProviderDropbox     ProviderType = "dropbox"
	ProviderOneDrive    ProviderType = "onedrive"
	ProviderLocal       ProviderType = "local"
)

// SourceTypeLocal marks chunks ingested from the local filesystem.
const SourceTypeLocal = string(ProviderLocal)

// DocumentSource is a user's connection to a document origin.
// Credentials holds the encrypted JSON form of Credentials; ClientID and
// ClientSecret are the individually encrypted OAuth client of the account.
type DocumentSource struct {
	ID           string       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       string       `json:"userId" gorm:"index;not null"`
	Provider     ProviderType `json:"provider" gorm:"not null"`
	Name         string       `json:"name"`
	Credentials  string       `json:"-"`
	ClientID     string       `json:"-"`
	ClientSecret string       `json:"-"`
	FolderID     string       `json:"folderId,omitempty"`
	IsActive     bool         `json:"isActive" gorm:"not null;default:true"`
	LastSyncAt   *time.Time   `json:"lastSyncAt,omitempty"`
	LastError    string       `json:"lastError,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Credentials is the decrypted credential payload of a DocumentSource.
type Credentials struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// TrackedFileStatus is the ingestion state of a TrackedFile.
type TrackedFileStatus string

const (
	StatusPending    TrackedFileStatus = "pending"
	StatusProcessing TrackedFileStatus = "processing"
	StatusCompleted  TrackedFileStatus = "completed"
	StatusError      TrackedFileStatus = "error"
)

// TrackedFile is a cloud file or folder the user asked to keep indexed.
type TrackedFile struct {
	ID              string            `json:"id" gorm:"primaryKey;type:uuid"`
	SourceID        string            `json:"sourceId" gorm:"not null;uniqueIndex:idx_tracked_source_file"`
	FileID          string            `json:"fileId" gorm:"not null;uniqueIndex:idx_tracked_source_file"`
	FileName        string            `json:"fileName"`
	FilePath        string            `json:"filePath"`
	MimeType        string            `json:"mimeType,omitempty"`
	IsFolder        bool              `json:"isFolder"`
	IncludeChildren bool              `json:"includeChildren"`
	Status          TrackedFileStatus `json:"status" gorm:"index;not null;default:pending"`
	ContentHash     string            `json:"contentHash,omitempty"`
	ChunksCount     int               `json:"chunksCount"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	LastModifiedAt  *time.Time        `json:"lastModifiedAt,omitempty"`
	LastProcessedAt *time.Time        `json:"lastProcessedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt" gorm:"index"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ProcessedFile is the dedup ledger entry for an ingested file.
// FileID records the cloud file that produced the entry, empty for local files.
type ProcessedFile struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	Filename    string    `json:"filename" gorm:"uniqueIndex;not null"`
	FileHash    string    `json:"fileHash" gorm:"index;not null"`
	FileID      string    `json:"fileId,omitempty"`
	ChunksCount int       `json:"chunksCount"`
	ProcessedAt time.Time `json:"processedAt"`
}

// DocumentChunk is one embedded slice of a document in the vector store.
type DocumentChunk struct {
	Text        string    `json:"text"`
	Embedding   []float32 `json:"-"`
	Source      string    `json:"source"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	SourceType  string    `json:"sourceType,omitempty"`
	ChunkIndex  int       `json:"chunkIndex"`
	TotalChunks int       `json:"totalChunks"`
}

// SimilarDocument is a retrieval hit; lower Distance is closer.
type SimilarDocument struct {
	DocumentChunk
	Distance float64 `json:"distance"`
}

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation groups the messages of one chat thread.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId" gorm:"index;not null"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationMessage is one turn of a Conversation.
type ConversationMessage struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid"`
	ConversationID string    `json:"conversationId" gorm:"index;not null"`
	Role           Role      `json:"role" gorm:"not null"`
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt" gorm:"index"`
}

// SyncLease is a cross-process exclusive claim on the sync run, stored in DynamoDB.
type SyncLease struct {
	LeaseKey  string `json:"lease_key" dynamodbav:"lease_key"`
	Owner     string `json:"owner" dynamodbav:"owner"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}
