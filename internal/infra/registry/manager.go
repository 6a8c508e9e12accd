// Package registry persists the catalog of installed models — the ambient
// bookkeeping layer surrounding the Model Manager, outside the four core
// components. The model runtime itself is an out-of-scope collaborator; this
// package only tracks which ModelConfig rows are known locally.
package registry

import (
	"fmt"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/infra/sqlite"
)

// Manager tracks installed-model catalog rows in SQLite.
type Manager struct {
	db *sqlite.DB
}

// NewManager builds a Manager over an already-open database.
func NewManager(db *sqlite.DB) *Manager {
	return &Manager{db: db}
}

// Install upserts a ModelConfig as an installed catalog row.
func (m *Manager) Install(cfg domain.ModelConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("registry: install: empty model id")
	}
	return m.db.UpsertModel(cfg)
}

// Get returns an installed model's catalog row, or nil if not installed.
func (m *Manager) Get(id string) (*domain.ModelConfig, error) {
	return m.db.GetModel(id)
}

// List returns every installed model, most recently used first.
func (m *Manager) List() ([]domain.ModelConfig, error) {
	return m.db.ListModels()
}

// Remove deletes an installed model's catalog row.
func (m *Manager) Remove(id string) error {
	return m.db.DeleteModel(id)
}

// Touch records that a model was used, for recency-ordered listings.
func (m *Manager) Touch(id string) error {
	return m.db.TouchModel(id)
}
