package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tunehub/tunefree-bridge/bridge"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SavedPlaylistModel is the persisted playlist reference.
type SavedPlaylistModel struct {
	gorm.Model
	Source     string `gorm:"size:16;not null;uniqueIndex:idx_source_playlist"`
	PlaylistID string `gorm:"size:64;not null;uniqueIndex:idx_source_playlist"`
	Name       string `gorm:"size:256;not null"`
	Count      int    `gorm:"not null;default:0"`
}

func (SavedPlaylistModel) TableName() string {
	return "saved_playlists"
}

// Repository provides access to the playlist database.
type Repository struct {
	db *gorm.DB
}

// NewSQLiteRepository creates a repository backed by SQLite.
func NewSQLiteRepository(dsn string, gormLogger logger.Interface) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SavedPlaylistModel{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// ConfigurePool updates the database connection pool settings.
func (r *Repository) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if maxOpen >= 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime >= 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// List returns all saved playlists, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]bridge.SavedPlaylist, error) {
	var models []SavedPlaylistModel
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	playlists := make([]bridge.SavedPlaylist, 0, len(models))
	for _, model := range models {
		playlists = append(playlists, toInternal(model))
	}
	return playlists, nil
}

// Upsert inserts or refreshes a playlist reference keyed by (source, id).
func (r *Repository) Upsert(ctx context.Context, playlist *bridge.SavedPlaylist) error {
	model := toModel(playlist)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "playlist_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"deleted_at",
			"updated_at",
			"name",
			"count",
		}),
	}).Create(model).Error
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Where("source = ? AND playlist_id = ?", model.Source, model.PlaylistID).
		First(model).Error; err != nil {
		return err
	}
	playlist.ID = model.ID
	playlist.CreatedAt = model.CreatedAt
	playlist.UpdatedAt = model.UpdatedAt
	return nil
}

// Delete removes a playlist reference.
func (r *Repository) Delete(ctx context.Context, source, playlistID string) error {
	return r.db.WithContext(ctx).
		Delete(&SavedPlaylistModel{}, "source = ? AND playlist_id = ?", source, playlistID).Error
}

// FindByName matches a saved playlist by name, case-insensitively and in
// both containment directions: a query of "噪音" finds "白噪音" and a query
// of "白噪音合集" finds it too. The most recently updated match wins.
func (r *Repository) FindByName(ctx context.Context, name string) (*bridge.SavedPlaylist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	lowerName := strings.ToLower(name)

	var models []SavedPlaylistModel
	err := r.db.WithContext(ctx).
		Where("LOWER(name) LIKE ? OR ? LIKE '%' || LOWER(name) || '%'", "%"+lowerName+"%", lowerName).
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	playlist := toInternal(models[0])
	return &playlist, nil
}

// Count returns the number of saved playlists.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&SavedPlaylistModel{}).Count(&count).Error
	return count, err
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func toInternal(model SavedPlaylistModel) bridge.SavedPlaylist {
	return bridge.SavedPlaylist{
		ID:         model.ID,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
		Source:     model.Source,
		PlaylistID: model.PlaylistID,
		Name:       model.Name,
		Count:      model.Count,
	}
}

func toModel(playlist *bridge.SavedPlaylist) *SavedPlaylistModel {
	return &SavedPlaylistModel{
		Model: gorm.Model{
			ID:        playlist.ID,
			CreatedAt: playlist.CreatedAt,
			UpdatedAt: playlist.UpdatedAt,
		},
		Source:     playlist.Source,
		PlaylistID: playlist.PlaylistID,
		Name:       playlist.Name,
		Count:      playlist.Count,
	}
}
