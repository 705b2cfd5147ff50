package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type Config struct {
	CacheTTL time.Duration
	// StrictRefs makes an id the directory definitively does not know a
	// NotFound error. Lookup outages always degrade to placeholders.
	StrictRefs         bool
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// Service resolves patient and doctor ids to display data. It never blocks an
// appointment operation on directory availability.
type Service struct {
	repo    repository.DirectoryRepository
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker
	strict  bool
}

// notFound marks a definitive miss inside the breaker so it does not count as
// a directory failure.
type notFound struct{}

func NewService(repo repository.DirectoryRepository, cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	maxFailures := cfg.BreakerMaxFailures

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Directory circuit breaker state changed")
		},
	})

	return &Service{
		repo:    repo,
		cache:   cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		breaker: breaker,
		strict:  cfg.StrictRefs,
	}
}

// Resolve looks up both participants of an appointment. A nil person in the
// result means the lookup degraded and the placeholder name applies.
func (s *Service) Resolve(ctx context.Context, patientID, doctorID uuid.UUID) (model.Participants, error) {
	patient, err := s.Patient(ctx, patientID)
	if err != nil {
		return model.Participants{}, err
	}
	doctor, err := s.Doctor(ctx, doctorID)
	if err != nil {
		return model.Participants{}, err
	}
	return model.Participants{Patient: patient, Doctor: doctor}, nil
}

func (s *Service) Patient(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	return s.lookup(ctx, model.RolePatient, id, s.repo.GetPatient)
}

func (s *Service) Doctor(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	return s.lookup(ctx, model.RoleDoctor, id, s.repo.GetDoctor)
}

func (s *Service) lookup(
	ctx context.Context,
	role model.PersonRole,
	id uuid.UUID,
	fetch func(context.Context, uuid.UUID) (*model.Person, error),
) (*model.Person, error) {
	key := string(role) + ":" + id.String()
	if cached, ok := s.cache.Get(key); ok {
		p := *cached.(*model.Person)
		return &p, nil
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		p, err := fetch(ctx, id)
		if apperrors.IsNotFound(err) {
			return notFound{}, nil
		}
		return p, err
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("role", string(role)).Str("id", id.String()).Msg("Directory lookup failed, using placeholder")
		return nil, nil
	}
	if _, miss := result.(notFound); miss {
		if s.strict {
			return nil, apperrors.NewNotFound(string(role), nil).WithDetail("id", id.String())
		}
		return nil, nil
	}

	person, _ := result.(*model.Person)
	if person == nil {
		return nil, nil
	}
	// the cache keeps its own copy; callers get another
	stored := *person
	stored.Role = role
	s.cache.SetDefault(key, &stored)
	p := stored
	return &p, nil
}
