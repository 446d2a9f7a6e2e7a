package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/tunehub/tunefree-bridge/bridge"
	logpkg "github.com/tunehub/tunefree-bridge/bridge/logger"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	file, err := os.CreateTemp("", "tunefree-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	path := file.Name()
	_ = file.Close()
	t.Cleanup(func() { os.Remove(path) })

	base := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	repo, err := NewSQLiteRepository(path, logpkg.NewGormLogger(base, logger.Silent))
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepositoryCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty db")
	}

	playlist := &bridge.SavedPlaylist{
		Source:     bridge.SourceNetease,
		PlaylistID: "19723756",
		Name:       "飙升榜",
		Count:      100,
	}
	if err := repo.Upsert(ctx, playlist); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if playlist.ID == 0 {
		t.Fatal("upsert did not backfill the record id")
	}

	// same key again refreshes, not duplicates
	playlist2 := &bridge.SavedPlaylist{
		Source:     bridge.SourceNetease,
		PlaylistID: "19723756",
		Name:       "飙升榜(新)",
		Count:      101,
	}
	if err := repo.Upsert(ctx, playlist2); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if playlist2.ID != playlist.ID {
		t.Fatalf("upsert created a duplicate: id %d vs %d", playlist2.ID, playlist.ID)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 playlist, got %d", len(all))
	}
	if all[0].Name != "飙升榜(新)" || all[0].Count != 101 {
		t.Fatalf("unexpected record: %+v", all[0])
	}

	if err := repo.Delete(ctx, bridge.SourceNetease, "19723756"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty list, got %d", len(all))
	}
}

func TestFindByName(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []bridge.SavedPlaylist{
		{Source: bridge.SourceNetease, PlaylistID: "1", Name: "白噪音"},
		{Source: bridge.SourceKuwo, PlaylistID: "2", Name: "My Favorites"},
	}
	for i := range seed {
		if err := repo.Upsert(ctx, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact", "白噪音", "白噪音"},
		{"query inside name", "噪音", "白噪音"},
		{"name inside query", "放点白噪音来听", "白噪音"},
		{"case insensitive", "my favorites", "My Favorites"},
		{"no match", "摇滚", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := repo.FindByName(ctx, tt.query)
			if err != nil {
				t.Fatalf("find by name: %v", err)
			}
			if tt.want == "" {
				if found != nil {
					t.Fatalf("expected no match, got %q", found.Name)
				}
				return
			}
			if found == nil {
				t.Fatalf("expected %q, got no match", tt.want)
			}
			if found.Name != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, found.Name)
			}
		})
	}
}
