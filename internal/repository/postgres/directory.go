package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

// directoryRepository reads the patients and clinicians tables, which are
// written by the directory service.
type directoryRepository struct {
	BaseRepository
}

func NewDirectoryRepository(base BaseRepository) repository.DirectoryRepository {
	return &directoryRepository{base}
}

func (r *directoryRepository) GetPatient(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	return r.get(ctx, `SELECT id, name, email, phone FROM patients WHERE id = $1`, id, model.RolePatient)
}

func (r *directoryRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	return r.get(ctx, `SELECT id, name, email, phone FROM clinicians WHERE id = $1`, id, model.RoleDoctor)
}

func (r *directoryRepository) get(ctx context.Context, query string, id uuid.UUID, role model.PersonRole) (*model.Person, error) {
	var p model.Person
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, mapError(err, string(role))
	}
	p.Role = role
	return &p, nil
}
