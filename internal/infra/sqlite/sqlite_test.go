package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tutu-network/tutu/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func sampleConfig() domain.ModelConfig {
	return domain.ModelConfig{
		ID:              "llama3:8b",
		Name:            "Llama 3 8B",
		RAMBytes:        4_800_000_000,
		Tier:            domain.TierFrequent,
		Tags:            []string{"chat", "code"},
		Priority:        domain.ModelHigh,
		TokensPerSecond: 22.5,
		ContextLength:   8192,
		Specialization:  []string{"code"},
	}
}

func TestUpsertModel_InsertAndGet(t *testing.T) {
	db := newTestDB(t)
	cfg := sampleConfig()

	if err := db.UpsertModel(cfg); err != nil {
		t.Fatalf("UpsertModel() error: %v", err)
	}

	got, err := db.GetModel(cfg.ID)
	if err != nil {
		t.Fatalf("GetModel() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetModel() returned nil")
	}
	if got.Name != cfg.Name || got.Tier != cfg.Tier || got.RAMBytes != cfg.RAMBytes {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "code" {
		t.Errorf("tags not round-tripped: %v", got.Tags)
	}
}

func TestUpsertModel_UpdateExisting(t *testing.T) {
	db := newTestDB(t)
	cfg := sampleConfig()
	if err := db.UpsertModel(cfg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cfg.RAMBytes = 5_000_000_000
	if err := db.UpsertModel(cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := db.GetModel(cfg.ID)
	if err != nil {
		t.Fatalf("GetModel() error: %v", err)
	}
	if got.RAMBytes != 5_000_000_000 {
		t.Errorf("RAMBytes = %d, want 5_000_000_000", got.RAMBytes)
	}
}

func TestGetModel_NotFound(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetModel("nope")
	if err != nil {
		t.Fatalf("GetModel() error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing model, got %+v", got)
	}
}

func TestListModels(t *testing.T) {
	db := newTestDB(t)
	a := sampleConfig()
	b := sampleConfig()
	b.ID, b.Name = "phi3", "Phi-3"

	if err := db.UpsertModel(a); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertModel(b); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListModels()
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
}

func TestDeleteModel(t *testing.T) {
	db := newTestDB(t)
	cfg := sampleConfig()
	if err := db.UpsertModel(cfg); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteModel(cfg.ID); err != nil {
		t.Fatalf("DeleteModel() error: %v", err)
	}
	if err := db.DeleteModel(cfg.ID); err != domain.ErrModelNotFound {
		t.Errorf("second delete: got %v, want ErrModelNotFound", err)
	}
}

func TestTouchModel(t *testing.T) {
	db := newTestDB(t)
	cfg := sampleConfig()
	if err := db.UpsertModel(cfg); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchModel(cfg.ID); err != nil {
		t.Errorf("TouchModel() error: %v", err)
	}
}
