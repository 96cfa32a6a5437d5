package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Namchee/tanyaaja/pkg/models"
)

// MemoryStore is a process-local directory and question log.
type MemoryStore struct {
	mu        sync.RWMutex
	owners    []models.OwnerRecord
	questions []models.Question
}

func NewMemoryStore(owners ...models.OwnerRecord) *MemoryStore {
	return &MemoryStore{owners: append([]models.OwnerRecord(nil), owners...)}
}

func (m *MemoryStore) FindBySlug(_ context.Context, slug string) ([]models.OwnerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OwnerRecord
	for _, o := range m.owners {
		if o.Slug == slug {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertQuestion(_ context.Context, q models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOwnerLocked(q.OwnerID) {
		return fmt.Errorf("insert question: owner %q does not exist", q.OwnerID)
	}
	for _, existing := range m.questions {
		if existing.ID == q.ID {
			return fmt.Errorf("insert question: duplicate id %q", q.ID)
		}
	}
	m.questions = append(m.questions, q)
	return nil
}

func (m *MemoryStore) UpsertOwner(_ context.Context, o models.OwnerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.owners {
		if m.owners[i].ID == o.ID {
			m.owners[i] = o
			return nil
		}
	}
	m.owners = append(m.owners, o)
	return nil
}

// Questions returns the questions stored for ownerID in submission order.
func (m *MemoryStore) Questions(ownerID string) []models.Question {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Question
	for _, q := range m.questions {
		if q.OwnerID == ownerID {
			out = append(out, q)
		}
	}
	return out
}

func (m *MemoryStore) hasOwnerLocked(id string) bool {
	for _, o := range m.owners {
		if o.ID == id {
			return true
		}
	}
	return false
}
