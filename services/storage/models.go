package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentientflow/flowengine/internal/engine"
)

// WorkflowRecord is the persisted envelope around a workflow graph. The
// graph itself (nodes, connections, settings) lives in Payload as a
// single JSONB column rather than a node-library/edges join — a
// workflow here is one declarative document, not a shared-component
// canvas, so there is no blueprint table to join against.
type WorkflowRecord struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	OwnerID          uuid.UUID              `json:"ownerId" db:"owner_id"`
	Name             string                 `json:"name" db:"name"`
	Payload          engine.WorkflowPayload `json:"payload" db:"-"`
	Status           string                 `json:"status" db:"status"`
	ActiveSnapshotID *uuid.UUID             `json:"activeSnapshotId,omitempty" db:"active_snapshot_id"`
	CreatedAt        time.Time              `json:"createdAt" db:"created_at"`
	ModifiedAt       time.Time              `json:"modifiedAt" db:"modified_at"`
	DeletedAt        *time.Time             `json:"deletedAt,omitempty" db:"deleted_at"`
}

// WorkflowSnapshot is an immutable, versioned copy of a workflow's
// payload taken at publish time. Execution against a published
// workflow always runs the snapshot, never the live (possibly
// since-edited) draft.
type WorkflowSnapshot struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	WorkflowID    uuid.UUID              `json:"workflowId" db:"workflow_id"`
	VersionNumber int                    `json:"versionNumber" db:"version_number"`
	Payload       engine.WorkflowPayload `json:"payload" db:"-"`
	PublishedAt   time.Time              `json:"publishedAt" db:"published_at"`
}

// CredentialRecord is a named secret, owner-scoped, stored encrypted at
// rest by pkg/cipher. The engine never sees the ciphertext directly —
// the workflow service decrypts a credential just before it is
// resolved into a node's parameters.
type CredentialRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OwnerID    uuid.UUID `json:"ownerId" db:"owner_id"`
	Name       string    `json:"name" db:"name"`
	Ciphertext string    `json:"-" db:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	ModifiedAt time.Time `json:"modifiedAt" db:"modified_at"`
}

// UserRecord is an account that owns workflows and credentials.
type UserRecord struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
