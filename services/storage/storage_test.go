package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/sentientflow/flowengine/internal/engine"
)

var (
	testOwnerID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testWfID    = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	testNow     = time.Now()
)

func testPayload() engine.WorkflowPayload {
	return engine.WorkflowPayload{
		Name: "Weather Check System",
		Nodes: []engine.Node{
			{ID: "start", Name: "start", Type: "manual_trigger", Parameters: map[string]engine.Value{}},
		},
		Connections: engine.Connections{},
	}
}

func TestGetWorkflow(t *testing.T) {
	payload := testPayload()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal fixture payload: %v", err)
	}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		checkRec  func(t *testing.T, rec *WorkflowRecord)
	}{
		{
			name: "success returns hydrated workflow",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT name, payload, status").
					WithArgs(testWfID, testOwnerID).
					WillReturnRows(
						pgxmock.NewRows([]string{"name", "payload", "status", "active_snapshot_id", "created_at", "modified_at"}).
							AddRow(payload.Name, payloadJSON, "draft", nil, testNow, testNow),
					)
			},
			checkRec: func(t *testing.T, rec *WorkflowRecord) {
				t.Helper()
				if rec.Name != "Weather Check System" {
					t.Errorf("expected name 'Weather Check System', got %q", rec.Name)
				}
				if len(rec.Payload.Nodes) != 1 {
					t.Fatalf("expected 1 node, got %d", len(rec.Payload.Nodes))
				}
				if rec.Payload.Nodes[0].Type != "manual_trigger" {
					t.Errorf("expected node type 'manual_trigger', got %q", rec.Payload.Nodes[0].Type)
				}
				if rec.Status != "draft" {
					t.Errorf("expected status 'draft', got %q", rec.Status)
				}
			},
		},
		{
			name: "workflow not found returns ErrNoRows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT name, payload, status").
					WithArgs(testWfID, testOwnerID).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: pgx.ErrNoRows,
		},
		{
			name: "wrong owner returns the same ErrNoRows as missing",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT name, payload, status").
					WithArgs(testWfID, testOwnerID).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: pgx.ErrNoRows,
		},
		{
			name: "malformed payload json surfaces an error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT name, payload, status").
					WithArgs(testWfID, testOwnerID).
					WillReturnRows(
						pgxmock.NewRows([]string{"name", "payload", "status", "active_snapshot_id", "created_at", "modified_at"}).
							AddRow("Broken", []byte(`not json`), "draft", nil, testNow, testNow),
					)
			},
			wantErr: errors.New("unmarshal workflow payload"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create mock pool: %v", err)
			}
			defer mock.Close()

			tt.setupMock(mock)

			store := &pgStorage{db: mock}
			rec, err := store.GetWorkflow(context.Background(), testOwnerID, testWfID)

			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkRec != nil {
				tt.checkRec(t, rec)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet mock expectations: %v", err)
			}
		})
	}
}

func TestDeleteWorkflowNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("UPDATE workflows").
		WithArgs(pgxmock.AnyArg(), testWfID, testOwnerID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := &pgStorage{db: mock}
	err = store.DeleteWorkflow(context.Background(), testOwnerID, testWfID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
