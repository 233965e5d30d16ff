package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentientflow/flowengine/internal/engine"
)

// DB abstracts the database operations used by the storage layer.
// Satisfied by *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// pgStorage implements Storage using PostgreSQL.
type pgStorage struct {
	db DB
}

// ErrNotFound is returned by every lookup that fails because the
// resource doesn't exist OR belongs to a different owner. Storage never
// distinguishes the two cases for the caller: leaking "it exists but
// isn't yours" is itself an information disclosure.
var ErrNotFound = pgx.ErrNoRows

// Storage defines the interface for workflow, credential, and account
// data access, decoupling the HTTP and engine layers from persistence.
type Storage interface {
	CreateWorkflow(ctx context.Context, ownerID uuid.UUID, name string, payload engine.WorkflowPayload) (*WorkflowRecord, error)
	GetWorkflow(ctx context.Context, ownerID, id uuid.UUID) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context, ownerID uuid.UUID) ([]WorkflowRecord, error)
	UpsertWorkflow(ctx context.Context, ownerID, id uuid.UUID, name string, payload engine.WorkflowPayload) (*WorkflowRecord, error)
	DeleteWorkflow(ctx context.Context, ownerID, id uuid.UUID) error
	PublishWorkflow(ctx context.Context, ownerID, id uuid.UUID) (*WorkflowSnapshot, error)
	GetActiveSnapshot(ctx context.Context, ownerID, workflowID uuid.UUID) (*WorkflowSnapshot, error)

	CreateCredential(ctx context.Context, ownerID uuid.UUID, name, ciphertext string) (*CredentialRecord, error)
	GetCredential(ctx context.Context, ownerID, id uuid.UUID) (*CredentialRecord, error)
	ListCredentials(ctx context.Context, ownerID uuid.UUID) ([]CredentialRecord, error)
	DeleteCredential(ctx context.Context, ownerID, id uuid.UUID) error

	CreateUser(ctx context.Context, email, passwordHash string) (*UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
}

// NewInstance creates a PostgreSQL-backed Storage implementation.
func NewInstance(db *pgxpool.Pool) (Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: db connection cannot be nil")
	}
	return &pgStorage{db: db}, nil
}

func marshalPayload(p engine.WorkflowPayload) ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(b []byte) (engine.WorkflowPayload, error) {
	var p engine.WorkflowPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return engine.WorkflowPayload{}, err
	}
	return p, nil
}

// CreateWorkflow inserts a new workflow owned by ownerID.
func (s *pgStorage) CreateWorkflow(ctx context.Context, ownerID uuid.UUID, name string, payload engine.WorkflowPayload) (*WorkflowRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow payload: %w", err)
	}

	now := time.Now()
	rec := &WorkflowRecord{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Name:       name,
		Payload:    payload,
		Status:     "draft",
		CreatedAt:  now,
		ModifiedAt: now,
	}

	_, err = s.db.Exec(timeoutCtx, `
        INSERT INTO workflows (id, owner_id, name, payload, status, created_at, modified_at)
        VALUES ($1, $2, $3, $4, 'draft', $5, $5)`,
		rec.ID, rec.OwnerID, rec.Name, payloadJSON, now)
	if err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	return rec, nil
}

// GetWorkflow retrieves a workflow by id, scoped to ownerID. A workflow
// that exists but belongs to someone else is indistinguishable from one
// that doesn't exist at all — both return ErrNotFound.
func (s *pgStorage) GetWorkflow(ctx context.Context, ownerID, id uuid.UUID) (*WorkflowRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec := &WorkflowRecord{ID: id, OwnerID: ownerID}
	var payloadJSON []byte
	err := s.db.QueryRow(timeoutCtx, `
        SELECT name, payload, status, active_snapshot_id, created_at, modified_at
        FROM workflows
        WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		id, ownerID).Scan(&rec.Name, &payloadJSON, &rec.Status, &rec.ActiveSnapshotID, &rec.CreatedAt, &rec.ModifiedAt)
	if err != nil {
		return nil, err
	}

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow payload: %w", err)
	}
	rec.Payload = payload
	return rec, nil
}

// ListWorkflows returns every non-deleted workflow owned by ownerID,
// most recently modified first.
func (s *pgStorage) ListWorkflows(ctx context.Context, ownerID uuid.UUID) ([]WorkflowRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.Query(timeoutCtx, `
        SELECT id, name, status, active_snapshot_id, created_at, modified_at
        FROM workflows
        WHERE owner_id = $1 AND deleted_at IS NULL
        ORDER BY modified_at DESC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowRecord
	for rows.Next() {
		var rec WorkflowRecord
		rec.OwnerID = ownerID
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Status, &rec.ActiveSnapshotID, &rec.CreatedAt, &rec.ModifiedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertWorkflow replaces the payload of an existing workflow, or
// creates it if it does not exist yet (idempotent save-by-id, matching
// the teacher's INSERT ... ON CONFLICT DO UPDATE pattern).
func (s *pgStorage) UpsertWorkflow(ctx context.Context, ownerID, id uuid.UUID, name string, payload engine.WorkflowPayload) (*WorkflowRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow payload: %w", err)
	}

	now := time.Now()
	tag, err := s.db.Exec(timeoutCtx, `
        INSERT INTO workflows (id, owner_id, name, payload, status, created_at, modified_at)
        VALUES ($1, $2, $3, $4, 'draft', $5, $5)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            payload = EXCLUDED.payload,
            modified_at = EXCLUDED.modified_at,
            deleted_at = NULL
        WHERE workflows.owner_id = $2`,
		id, ownerID, name, payloadJSON, now)
	if err != nil {
		return nil, fmt.Errorf("upsert workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return &WorkflowRecord{
		ID: id, OwnerID: ownerID, Name: name, Payload: payload,
		Status: "draft", CreatedAt: now, ModifiedAt: now,
	}, nil
}

// DeleteWorkflow soft-deletes a workflow owned by ownerID.
func (s *pgStorage) DeleteWorkflow(ctx context.Context, ownerID, id uuid.UUID) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.db.Exec(timeoutCtx, `
        UPDATE workflows
        SET deleted_at = $1, modified_at = $1
        WHERE id = $2 AND owner_id = $3 AND deleted_at IS NULL`,
		time.Now(), id, ownerID)
	if err != nil {
		return fmt.Errorf("soft delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PublishWorkflow freezes the workflow's current payload into a new,
// immutable snapshot within a REPEATABLE READ transaction, and points
// the workflow's active_snapshot_id at it.
func (s *pgStorage) PublishWorkflow(ctx context.Context, ownerID, id uuid.UUID) (*WorkflowSnapshot, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin transaction for publish: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	var payloadJSON []byte
	err = tx.QueryRow(timeoutCtx, `
        SELECT payload FROM workflows
        WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		id, ownerID).Scan(&payloadJSON)
	if err != nil {
		return nil, err
	}

	var nextVersion int
	err = tx.QueryRow(timeoutCtx, `
        SELECT COALESCE(MAX(version_number), 0) + 1
        FROM workflow_snapshots
        WHERE workflow_id = $1`,
		id).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("get next version: %w", err)
	}

	snap := &WorkflowSnapshot{WorkflowID: id, VersionNumber: nextVersion}
	err = tx.QueryRow(timeoutCtx, `
        INSERT INTO workflow_snapshots (workflow_id, version_number, payload)
        VALUES ($1, $2, $3)
        RETURNING id, published_at`,
		id, nextVersion, payloadJSON).Scan(&snap.ID, &snap.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.Exec(timeoutCtx, `
        UPDATE workflows SET status = 'published', active_snapshot_id = $1
        WHERE id = $2`,
		snap.ID, id)
	if err != nil {
		return nil, fmt.Errorf("update workflow status: %w", err)
	}

	if err := tx.Commit(timeoutCtx); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot payload: %w", err)
	}
	snap.Payload = payload
	return snap, nil
}

// GetActiveSnapshot retrieves the currently active snapshot for a
// workflow. Returns ErrNotFound if the workflow has never been
// published (i.e. is a draft).
func (s *pgStorage) GetActiveSnapshot(ctx context.Context, ownerID, workflowID uuid.UUID) (*WorkflowSnapshot, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap := &WorkflowSnapshot{}
	var payloadJSON []byte
	err := s.db.QueryRow(timeoutCtx, `
        SELECT s.id, s.workflow_id, s.version_number, s.payload, s.published_at
        FROM workflow_snapshots s
        JOIN workflows w ON w.active_snapshot_id = s.id
        WHERE w.id = $1 AND w.owner_id = $2 AND w.deleted_at IS NULL`,
		workflowID, ownerID).Scan(&snap.ID, &snap.WorkflowID, &snap.VersionNumber, &payloadJSON, &snap.PublishedAt)
	if err != nil {
		return nil, err
	}

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot payload: %w", err)
	}
	snap.Payload = payload
	return snap, nil
}

// CreateCredential stores an already-encrypted secret. Storage never
// sees plaintext — encryption happens one layer up, in pkg/cipher.
func (s *pgStorage) CreateCredential(ctx context.Context, ownerID uuid.UUID, name, ciphertext string) (*CredentialRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	rec := &CredentialRecord{ID: uuid.New(), OwnerID: ownerID, Name: name, Ciphertext: ciphertext, CreatedAt: now, ModifiedAt: now}
	_, err := s.db.Exec(timeoutCtx, `
        INSERT INTO credentials (id, owner_id, name, ciphertext, created_at, modified_at)
        VALUES ($1, $2, $3, $4, $5, $5)`,
		rec.ID, rec.OwnerID, rec.Name, rec.Ciphertext, now)
	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}
	return rec, nil
}

func (s *pgStorage) GetCredential(ctx context.Context, ownerID, id uuid.UUID) (*CredentialRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec := &CredentialRecord{ID: id, OwnerID: ownerID}
	err := s.db.QueryRow(timeoutCtx, `
        SELECT name, ciphertext, created_at, modified_at
        FROM credentials
        WHERE id = $1 AND owner_id = $2`,
		id, ownerID).Scan(&rec.Name, &rec.Ciphertext, &rec.CreatedAt, &rec.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *pgStorage) ListCredentials(ctx context.Context, ownerID uuid.UUID) ([]CredentialRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.Query(timeoutCtx, `
        SELECT id, name, created_at, modified_at FROM credentials
        WHERE owner_id = $1 ORDER BY name`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CredentialRecord
	for rows.Next() {
		var rec CredentialRecord
		rec.OwnerID = ownerID
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &rec.ModifiedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *pgStorage) DeleteCredential(ctx context.Context, ownerID, id uuid.UUID) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.db.Exec(timeoutCtx, `DELETE FROM credentials WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser registers a new account. passwordHash is a bcrypt hash
// produced by services/users, never a plaintext password.
func (s *pgStorage) CreateUser(ctx context.Context, email, passwordHash string) (*UserRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec := &UserRecord{ID: uuid.New(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	_, err := s.db.Exec(timeoutCtx, `
        INSERT INTO users (id, email, password_hash, created_at)
        VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Email, rec.PasswordHash, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return rec, nil
}

func (s *pgStorage) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec := &UserRecord{Email: email}
	err := s.db.QueryRow(timeoutCtx, `
        SELECT id, password_hash, created_at FROM users WHERE email = $1`,
		email).Scan(&rec.ID, &rec.PasswordHash, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
