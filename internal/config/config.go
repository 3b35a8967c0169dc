// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DevMode     bool
	LogMode     string
	Port        string
	FrontendURL string

	DatabaseURL  string
	EmbeddingDim int

	LLMProvider    string
	LLMBaseURL     string
	ChatModel      string
	EmbeddingModel string

	// EncryptionKeyKMSCiphertext, when set, is the KMS-wrapped credential key.
	EncryptionKeyKMSCiphertext string
	KMSKeyID                   string

	ChunkSize    int
	ChunkOverlap int
	TmpDir       string
	DocumentsDir string

	SyncPendingBatch int
	SyncMaxFiles     int
	SyncMaxLogs      int
	SyncLeaseTable   string
	SyncLeaseTTL     time.Duration

	KFullDocument        int
	KComparison          int
	KLong                int
	KDefault             int
	WeakMatchChars       int
	FullDocumentSections int
	FullDocumentChars    int
}

// Load reads .env when present, then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DevMode:     getEnvBool("DEV_MODE", false),
		LogMode:     getEnv("LOG_MODE", "dev"),
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		DatabaseURL:  getEnv("DATABASE_URL", ""),
		EmbeddingDim: getEnvInt("EMBEDDING_DIM", 768),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		ChatModel:      getEnv("CHAT_MODEL", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", ""),

		EncryptionKeyKMSCiphertext: getEnv("ENCRYPTION_KEY_KMS_CIPHERTEXT", ""),
		KMSKeyID:                   getEnv("KMS_KEY_ID", "alias/docrag-credential-key"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1800),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 400),
		TmpDir:       getEnv("TMP_DIR", os.TempDir()),
		DocumentsDir: getEnv("DOCUMENTS_DIR", "./documents"),

		SyncPendingBatch: getEnvInt("SYNC_PENDING_BATCH", 50),
		SyncMaxFiles:     getEnvInt("SYNC_MAX_FILES_PER_RUN", 25),
		SyncMaxLogs:      getEnvInt("SYNC_MAX_LOGS", 500),
		SyncLeaseTable:   getEnv("SYNC_LEASE_TABLE", ""),
		SyncLeaseTTL:     getEnvDuration("SYNC_LEASE_TTL", 15*time.Minute),

		KFullDocument:        getEnvInt("RAG_K_FULL_DOCUMENT", 15),
		KComparison:          getEnvInt("RAG_K_COMPARISON", 10),
		KLong:                getEnvInt("RAG_K_LONG", 8),
		KDefault:             getEnvInt("RAG_K_DEFAULT", 5),
		WeakMatchChars:       getEnvInt("RAG_WEAK_MATCH_CHARS", 200),
		FullDocumentSections: getEnvInt("RAG_FULL_DOCUMENT_SECTIONS", 30),
		FullDocumentChars:    getEnvInt("RAG_FULL_DOCUMENT_CHARS", 25000),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %v", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
