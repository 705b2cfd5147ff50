package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jwalitptl/clinic-api/internal/model"
)

type actorKey struct{}

// WithActor returns a context carrying the id of the caller performing an action.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the caller id stored by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

type LogOptions struct {
	Changes  interface{}
	Metadata map[string]interface{}
}

// Service writes the audit trail as structured JSON lines.
type Service struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, now: time.Now}
}

// NewLogger builds the zap logger backing the audit trail. path may be a file
// path, "stdout" or "stderr".
func NewLogger(path string) (*zap.Logger, error) {
	if path == "" {
		path = "stdout"
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "created_at"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "action"
	return cfg.Build()
}

// Log records action on an entity. It never fails the caller.
func (s *Service) Log(ctx context.Context, action, entityType string, entityID uuid.UUID, opts *LogOptions) {
	entry := &model.AuditEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    ActorFrom(ctx),
		CreatedAt:  s.now(),
	}
	if opts != nil {
		entry.Changes = opts.Changes
		entry.Metadata = opts.Metadata
	}

	fields := []zap.Field{
		zap.String("entity_type", entry.EntityType),
		zap.Stringer("entity_id", entry.EntityID),
	}
	if entry.ActorID != "" {
		fields = append(fields, zap.String("actor_id", entry.ActorID))
	}
	if entry.Changes != nil {
		fields = append(fields, zap.Any("changes", entry.Changes))
	}
	if len(entry.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", entry.Metadata))
	}
	s.logger.Info(entry.Action, fields...)
}

func (s *Service) Sync() error {
	return s.logger.Sync()
}
