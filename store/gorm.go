package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// sessionRecord is the relational row for an upload session.
type sessionRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	UploadID    string `gorm:"size:1024;uniqueIndex"`
	ObjectKey   string `gorm:"size:1024;uniqueIndex"`
	OwnerID     string `gorm:"size:255;index"`
	FileName    string `gorm:"size:255"`
	FileSize    int64
	ContentType string `gorm:"size:255"`
	PartCount   int
	Status      string `gorm:"size:16;index:idx_upload_sessions_status_updated,priority:1"`
	PublicURL   string `gorm:"size:2048"`
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index:idx_upload_sessions_status_updated,priority:2"`
}

func (sessionRecord) TableName() string {
	return "upload_sessions"
}

func toRecord(s *uploadtypes.Session) *sessionRecord {
	return &sessionRecord{
		ID:          s.ID,
		UploadID:    s.UploadID,
		ObjectKey:   s.Key,
		OwnerID:     s.OwnerID,
		FileName:    s.FileName,
		FileSize:    s.FileSize,
		ContentType: s.ContentType,
		PartCount:   s.PartCount,
		Status:      string(s.Status),
		PublicURL:   s.PublicURL,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (r *sessionRecord) toSession() (*uploadtypes.Session, error) {
	status, err := uploadtypes.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &uploadtypes.Session{
		ID:          r.ID,
		UploadID:    r.UploadID,
		Key:         r.ObjectKey,
		OwnerID:     r.OwnerID,
		FileName:    r.FileName,
		FileSize:    r.FileSize,
		ContentType: r.ContentType,
		PartCount:   r.PartCount,
		Status:      status,
		PublicURL:   r.PublicURL,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}, nil
}

// DBConfig holds connection pool settings.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// NewDB opens a postgres connection pool for the session store.
func NewDB(cfg DBConfig) (*gorm.DB, error) {
	level := cfg.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	return db, nil
}

// GormStore is a SessionStore backed by a relational database through gorm.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithGormLogger sets the logger used for store diagnostics.
func WithGormLogger(l *slog.Logger) GormOption {
	return func(g *GormStore) {
		g.logger = l
	}
}

// NewGormStore wraps db. Call Migrate before first use on a fresh database.
func NewGormStore(db *gorm.DB, opts ...GormOption) *GormStore {
	g := &GormStore{
		db:     db,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Migrate creates or updates the sessions table.
func (g *GormStore) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(&sessionRecord{}); err != nil {
		return fmt.Errorf("migrate upload_sessions: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (g *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Create implements SessionStore.
func (g *GormStore) Create(ctx context.Context, s *uploadtypes.Session) error {
	err := g.db.WithContext(ctx).Create(toRecord(s)).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.NewError("create", errors.ErrAlreadyExists).WithSession(s.ID)
	}
	if err != nil {
		return errors.NewError("create", err).WithSession(s.ID)
	}
	return nil
}

// Get implements SessionStore.
func (g *GormStore) Get(ctx context.Context, id string) (*uploadtypes.Session, error) {
	return g.first(ctx, "get", "id = ?", id)
}

// GetByUploadID implements SessionStore.
func (g *GormStore) GetByUploadID(ctx context.Context, uploadID string) (*uploadtypes.Session, error) {
	return g.first(ctx, "getByUploadID", "upload_id = ?", uploadID)
}

// GetByKey implements SessionStore.
func (g *GormStore) GetByKey(ctx context.Context, key string) (*uploadtypes.Session, error) {
	return g.first(ctx, "getByKey", "object_key = ?", key)
}

func (g *GormStore) first(ctx context.Context, op, query string, arg any) (*uploadtypes.Session, error) {
	var rec sessionRecord
	err := g.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewError(op, errors.ErrSessionNotFound)
	}
	if err != nil {
		return nil, errors.NewError(op, err)
	}
	return rec.toSession()
}

// RecordPartCount implements SessionStore.
func (g *GormStore) RecordPartCount(ctx context.Context, id string, partCount int, at time.Time) (*uploadtypes.Session, error) {
	res := g.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("id = ? AND status = ?", id, string(uploadtypes.StatusUploading)).
		Where("part_count < ?", partCount).
		Updates(map[string]any{
			"part_count": partCount,
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, errors.NewError("recordPartCount", res.Error).WithSession(id)
	}

	s, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != uploadtypes.StatusUploading {
		return nil, notActive("recordPartCount", s)
	}
	return s, nil
}

// Transition implements SessionStore. The WHERE clause on status makes the
// update a single atomic check-and-set.
func (g *GormStore) Transition(ctx context.Context, id string, t Transition) (*uploadtypes.Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	updates := map[string]any{
		"status":     string(t.To),
		"updated_at": t.At,
	}
	if t.PublicURL != "" {
		updates["public_url"] = t.PublicURL
	}

	res := g.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.NewError("transition", res.Error).WithSession(id)
	}

	s, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		g.logger.Debug("transition rejected",
			"session", id, "status", s.Status, "to", t.To)
		return nil, notActive("transition", s)
	}
	return s, nil
}

// List implements SessionStore.
func (g *GormStore) List(ctx context.Context, f Filter) ([]*uploadtypes.Session, error) {
	q := g.db.WithContext(ctx).Model(&sessionRecord{})
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if !f.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", f.UpdatedBefore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var recs []sessionRecord
	if err := q.Order("updated_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, errors.NewError("list", err)
	}

	out := make([]*uploadtypes.Session, 0, len(recs))
	for i := range recs {
		s, err := recs[i].toSession()
		if err != nil {
			return nil, errors.NewError("list", err).WithSession(recs[i].ID)
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete implements SessionStore.
func (g *GormStore) Delete(ctx context.Context, id string) error {
	if err := g.db.WithContext(ctx).Delete(&sessionRecord{}, "id = ?", id).Error; err != nil {
		return errors.NewError("delete", err).WithSession(id)
	}
	return nil
}

var _ SessionStore = (*GormStore)(nil)
