// Package postgres implements the store repositories on PostgreSQL.
// Relational records go through gorm; chunk vectors use pgvector over the
// same pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolationCode = "23505"

// DB owns the connection pool shared by every repository.
type DB struct {
	sql  *sql.DB
	gorm *gorm.DB
}

// Open connects, bootstraps the vector schema for the given embedding
// dimension and migrates the relational tables.
func Open(ctx context.Context, databaseURL string, dimension int) (*DB, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := bootstrap(ctx, sqlDB, dimension); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormLog})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(
		&model.DocumentSource{},
		&model.TrackedFile{},
		&model.ProcessedFile{},
		&model.Conversation{},
		&model.ConversationMessage{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{sql: sqlDB, gorm: gdb}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Sources() *SourceRepo               { return &SourceRepo{db: d.gorm} }
func (d *DB) TrackedFiles() *TrackedFileRepo     { return &TrackedFileRepo{db: d.gorm} }
func (d *DB) ProcessedFiles() *ProcessedFileRepo { return &ProcessedFileRepo{db: d.gorm} }
func (d *DB) Conversations() *ConversationRepo   { return &ConversationRepo{db: d.gorm} }
func (d *DB) Vectors() *VectorRepo               { return &VectorRepo{db: d.sql} }

func bootstrap(ctx context.Context, db *sql.DB, dimension int) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'docrag_meta'
		)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if exists {
		var hasVersion bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM docrag_meta WHERE version = 1)`).Scan(&hasVersion); err != nil {
			return fmt.Errorf("meta version check failed: %w", err)
		}
		if hasVersion {
			return nil
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, renderSchema(dimension)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func renderSchema(dimension int) string {
	return strings.ReplaceAll(schemaSQL, "{{dimension}}", strconv.Itoa(dimension))
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
