package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditEntry struct {
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Changes    interface{}            `json:"changes,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

const (
	// Action types
	AuditActionCreate = "create"
	AuditActionRead   = "read"
	AuditActionUpdate = "update"

	// Entity types
	AuditEntityAppointment = "appointment"
)
