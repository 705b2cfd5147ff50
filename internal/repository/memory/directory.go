package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// DirectoryRepository is a static patient and doctor directory.
type DirectoryRepository struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]model.Person
	doctors  map[uuid.UUID]model.Person
}

func NewDirectoryRepository() *DirectoryRepository {
	return &DirectoryRepository{
		patients: make(map[uuid.UUID]model.Person),
		doctors:  make(map[uuid.UUID]model.Person),
	}
}

func (r *DirectoryRepository) AddPatient(p model.Person) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Role = model.RolePatient
	r.patients[p.ID] = p
}

func (r *DirectoryRepository) AddDoctor(p model.Person) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Role = model.RoleDoctor
	r.doctors[p.ID] = p
}

func (r *DirectoryRepository) GetPatient(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, apperrors.NewNotFound("patient", nil)
	}
	return &p, nil
}

func (r *DirectoryRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.doctors[id]
	if !ok {
		return nil, apperrors.NewNotFound("doctor", nil)
	}
	return &p, nil
}
