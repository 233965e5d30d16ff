package storagemock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sentientflow/flowengine/internal/engine"
	"github.com/sentientflow/flowengine/services/storage"
)

// StorageMock is a hand-rolled fake satisfying storage.Storage. Each
// method delegates to an optional function field, falling back to a
// reasonable zero-value behavior when unset — tests override only the
// calls they care about.
type StorageMock struct {
	CreateWorkflowMock      func(ctx context.Context, ownerID uuid.UUID, name string, payload engine.WorkflowPayload) (*storage.WorkflowRecord, error)
	GetWorkflowMock         func(ctx context.Context, ownerID, id uuid.UUID) (*storage.WorkflowRecord, error)
	ListWorkflowsMock       func(ctx context.Context, ownerID uuid.UUID) ([]storage.WorkflowRecord, error)
	UpsertWorkflowMock      func(ctx context.Context, ownerID, id uuid.UUID, name string, payload engine.WorkflowPayload) (*storage.WorkflowRecord, error)
	DeleteWorkflowMock      func(ctx context.Context, ownerID, id uuid.UUID) error
	PublishWorkflowMock     func(ctx context.Context, ownerID, id uuid.UUID) (*storage.WorkflowSnapshot, error)
	GetActiveSnapshotMock   func(ctx context.Context, ownerID, workflowID uuid.UUID) (*storage.WorkflowSnapshot, error)
	CreateCredentialMock    func(ctx context.Context, ownerID uuid.UUID, name, ciphertext string) (*storage.CredentialRecord, error)
	GetCredentialMock       func(ctx context.Context, ownerID, id uuid.UUID) (*storage.CredentialRecord, error)
	ListCredentialsMock     func(ctx context.Context, ownerID uuid.UUID) ([]storage.CredentialRecord, error)
	DeleteCredentialMock    func(ctx context.Context, ownerID, id uuid.UUID) error
	CreateUserMock          func(ctx context.Context, email, passwordHash string) (*storage.UserRecord, error)
	GetUserByEmailMock      func(ctx context.Context, email string) (*storage.UserRecord, error)
}

func (m *StorageMock) CreateWorkflow(ctx context.Context, ownerID uuid.UUID, name string, payload engine.WorkflowPayload) (*storage.WorkflowRecord, error) {
	if m.CreateWorkflowMock != nil {
		return m.CreateWorkflowMock(ctx, ownerID, name, payload)
	}
	return &storage.WorkflowRecord{ID: uuid.New(), OwnerID: ownerID, Name: name, Payload: payload, Status: "draft"}, nil
}

func (m *StorageMock) GetWorkflow(ctx context.Context, ownerID, id uuid.UUID) (*storage.WorkflowRecord, error) {
	if m.GetWorkflowMock != nil {
		return m.GetWorkflowMock(ctx, ownerID, id)
	}
	return &storage.WorkflowRecord{
		ID:      id,
		OwnerID: ownerID,
		Name:    "Weather Check System",
		Status:  "draft",
		Payload: engine.WorkflowPayload{
			Name:        "Weather Check System",
			Nodes:       []engine.Node{{ID: "start", Name: "start", Type: "manual_trigger", Parameters: map[string]engine.Value{}}},
			Connections: engine.Connections{},
		},
	}, nil
}

func (m *StorageMock) ListWorkflows(ctx context.Context, ownerID uuid.UUID) ([]storage.WorkflowRecord, error) {
	if m.ListWorkflowsMock != nil {
		return m.ListWorkflowsMock(ctx, ownerID)
	}
	return nil, nil
}

func (m *StorageMock) UpsertWorkflow(ctx context.Context, ownerID, id uuid.UUID, name string, payload engine.WorkflowPayload) (*storage.WorkflowRecord, error) {
	if m.UpsertWorkflowMock != nil {
		return m.UpsertWorkflowMock(ctx, ownerID, id, name, payload)
	}
	return &storage.WorkflowRecord{ID: id, OwnerID: ownerID, Name: name, Payload: payload, Status: "draft"}, nil
}

func (m *StorageMock) DeleteWorkflow(ctx context.Context, ownerID, id uuid.UUID) error {
	if m.DeleteWorkflowMock != nil {
		return m.DeleteWorkflowMock(ctx, ownerID, id)
	}
	return nil
}

func (m *StorageMock) PublishWorkflow(ctx context.Context, ownerID, id uuid.UUID) (*storage.WorkflowSnapshot, error) {
	if m.PublishWorkflowMock != nil {
		return m.PublishWorkflowMock(ctx, ownerID, id)
	}
	return &storage.WorkflowSnapshot{
		ID: uuid.New(), WorkflowID: id, VersionNumber: 1,
		Payload: engine.WorkflowPayload{Connections: engine.Connections{}}, PublishedAt: time.Now(),
	}, nil
}

func (m *StorageMock) GetActiveSnapshot(ctx context.Context, ownerID, workflowID uuid.UUID) (*storage.WorkflowSnapshot, error) {
	if m.GetActiveSnapshotMock != nil {
		return m.GetActiveSnapshotMock(ctx, ownerID, workflowID)
	}
	return nil, storage.ErrNotFound
}

func (m *StorageMock) CreateCredential(ctx context.Context, ownerID uuid.UUID, name, ciphertext string) (*storage.CredentialRecord, error) {
	if m.CreateCredentialMock != nil {
		return m.CreateCredentialMock(ctx, ownerID, name, ciphertext)
	}
	return &storage.CredentialRecord{ID: uuid.New(), OwnerID: ownerID, Name: name, Ciphertext: ciphertext}, nil
}

func (m *StorageMock) GetCredential(ctx context.Context, ownerID, id uuid.UUID) (*storage.CredentialRecord, error) {
	if m.GetCredentialMock != nil {
		return m.GetCredentialMock(ctx, ownerID, id)
	}
	return nil, storage.ErrNotFound
}

func (m *StorageMock) ListCredentials(ctx context.Context, ownerID uuid.UUID) ([]storage.CredentialRecord, error) {
	if m.ListCredentialsMock != nil {
		return m.ListCredentialsMock(ctx, ownerID)
	}
	return nil, nil
}

func (m *StorageMock) DeleteCredential(ctx context.Context, ownerID, id uuid.UUID) error {
	if m.DeleteCredentialMock != nil {
		return m.DeleteCredentialMock(ctx, ownerID, id)
	}
	return nil
}

func (m *StorageMock) CreateUser(ctx context.Context, email, passwordHash string) (*storage.UserRecord, error) {
	if m.CreateUserMock != nil {
		return m.CreateUserMock(ctx, email, passwordHash)
	}
	return &storage.UserRecord{ID: uuid.New(), Email: email, PasswordHash: passwordHash}, nil
}

func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*storage.UserRecord, error) {
	if m.GetUserByEmailMock != nil {
		return m.GetUserByEmailMock(ctx, email)
	}
	return nil, storage.ErrNotFound
}
