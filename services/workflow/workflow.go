package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentientflow/flowengine/internal/engine"
	"github.com/sentientflow/flowengine/pkg/auth"
	"github.com/sentientflow/flowengine/services/storage"
)

// maxRequestBody limits the size of workflow-body requests to prevent abuse.
const maxRequestBody = 1 << 20 // 1MB

// ExecutionResponse is the JSON shape returned by HandleExecuteWorkflow.
type ExecutionResponse struct {
	Status     string                  `json:"status"`
	ExecutedAt string                  `json:"executedAt"`
	Results    map[string]engine.Value `json:"results"`
	FailedNode string                  `json:"failedNode,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// HandleListWorkflows returns every workflow owned by the caller.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	recs, err := s.storage.ListWorkflows(r.Context(), ownerID)
	if err != nil {
		slog.Error("failed to list workflows", "requestId", reqID(r), "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleCreateWorkflow inserts a new workflow document owned by the caller.
func (s *Service) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var payload engine.WorkflowPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.storage.CreateWorkflow(r.Context(), ownerID, payload.Name, payload)
	if err != nil {
		slog.Error("failed to create workflow", "requestId", reqID(r), "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleGetWorkflow loads a workflow definition by ID.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	wfUUID, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid workflow id", http.StatusBadRequest)
		return
	}

	rec, err := s.storage.GetWorkflow(r.Context(), ownerID, wfUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get workflow", "id", wfUUID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleUpsertWorkflow replaces a workflow's payload.
func (s *Service) HandleUpsertWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	wfUUID, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid workflow id", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var payload engine.WorkflowPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.storage.UpsertWorkflow(r.Context(), ownerID, wfUUID, payload.Name, payload)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to upsert workflow", "id", wfUUID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDeleteWorkflow soft-deletes a workflow.
func (s *Service) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	wfUUID, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid workflow id", http.StatusBadRequest)
		return
	}

	if err := s.storage.DeleteWorkflow(r.Context(), ownerID, wfUUID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to delete workflow", "id", wfUUID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePublishWorkflow freezes the workflow's current payload into an
// immutable snapshot. Subsequent executions run against this snapshot
// rather than the live (possibly since-edited) draft.
func (s *Service) HandlePublishWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	wfUUID, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid workflow id", http.StatusBadRequest)
		return
	}

	snap, err := s.storage.PublishWorkflow(r.Context(), ownerID, wfUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to publish workflow", "id", wfUUID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshotId":    snap.ID,
		"versionNumber": snap.VersionNumber,
		"publishedAt":   snap.PublishedAt,
	})
}

// HandleExecuteWorkflow loads a workflow (preferring its published
// snapshot, falling back to the live draft), resolves any node
// credentials, and runs it end to end. Execution failures (node
// errors, cycles) come back as 200 with status "failed" — they are
// business-level outcomes, not server errors.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeErrorJSON(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	wfUUID, err := parseID(r)
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid workflow id", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var inputs map[string]engine.Value
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil && !errors.Is(err, io.EOF) {
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	if inputs == nil {
		inputs = map[string]engine.Value{}
	}

	ctx := r.Context()

	var payload engine.WorkflowPayload
	snapshot, err := s.storage.GetActiveSnapshot(ctx, ownerID, wfUUID)
	switch {
	case err == nil:
		slog.Debug("executing from snapshot", "id", wfUUID, "version", snapshot.VersionNumber, "requestId", rid)
		payload = snapshot.Payload
	case errors.Is(err, storage.ErrNotFound):
		rec, err := s.storage.GetWorkflow(ctx, ownerID, wfUUID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
				return
			}
			slog.Error("failed to get workflow", "id", wfUUID, "requestId", rid, "error", err)
			writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
			return
		}
		payload = rec.Payload
	default:
		slog.Error("failed to get active snapshot", "id", wfUUID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	if err := s.resolveCredentials(ctx, ownerID, payload.Nodes); err != nil {
		slog.Error("failed to resolve node credentials", "id", wfUUID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	result := s.runWorkflow(ctx, payload, inputs)

	if result.Status == "failed" {
		slog.Warn("workflow completed with failure", "id", wfUUID, "requestId", rid, "failedNode", result.FailedNode, "error", result.Error)
	}
	writeJSON(w, http.StatusOK, result)
}

// resolveCredentials decrypts every credential a node references and
// overwrites the corresponding parameter with the plaintext, so the
// engine's variable resolver never needs to know credentials exist.
func (s *Service) resolveCredentials(ctx context.Context, ownerID uuid.UUID, nodes []engine.Node) error {
	for i, node := range nodes {
		for paramKey, rawID := range node.Credentials {
			credIDStr, ok := rawID.(string)
			if !ok {
				continue
			}
			credID, err := uuid.Parse(credIDStr)
			if err != nil {
				return fmt.Errorf("node %q: invalid credential id %q: %w", node.Name, credIDStr, err)
			}
			cred, err := s.storage.GetCredential(ctx, ownerID, credID)
			if err != nil {
				return fmt.Errorf("node %q: load credential %q: %w", node.Name, paramKey, err)
			}
			plaintext, err := s.cipher.Decrypt(cred.Ciphertext)
			if err != nil {
				return fmt.Errorf("node %q: decrypt credential %q: %w", node.Name, paramKey, err)
			}
			if nodes[i].Parameters == nil {
				nodes[i].Parameters = map[string]engine.Value{}
			}
			nodes[i].Parameters[paramKey] = plaintext
		}
	}
	return nil
}

// runWorkflow constructs and runs an Engine, translating structural
// construction errors and node-level errors into the same
// ExecutionResponse shape the frontend expects.
func (s *Service) runWorkflow(ctx context.Context, payload engine.WorkflowPayload, inputs map[string]engine.Value) ExecutionResponse {
	opts := []engine.Option{}
	if s.telemetry != nil {
		opts = append(opts, engine.WithRecorder(s.telemetry))
	}

	eng, err := engine.New(payload, opts...)
	if err != nil {
		return ExecutionResponse{
			Status:     "failed",
			ExecutedAt: time.Now().Format(time.RFC3339),
			Error:      err.Error(),
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	results, err := eng.Run(runCtx, inputs)
	executedAt := time.Now().Format(time.RFC3339)
	if err != nil {
		return ExecutionResponse{Status: "failed", ExecutedAt: executedAt, Results: results, Error: err.Error()}
	}

	failedNode := ""
	status := "success"
	for name, v := range results {
		if m, ok := v.(map[string]engine.Value); ok {
			if _, ok := m["error"]; ok {
				status = "failed"
				failedNode = name
				break
			}
		}
	}

	return ExecutionResponse{Status: status, ExecutedAt: executedAt, Results: results, FailedNode: failedNode}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// writeErrorJSON writes a structured JSON error response with a
// machine-readable code and a human-readable message.
func writeErrorJSON(w http.ResponseWriter, errCode, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(payload)
}

// reqID extracts the request ID from context (set by requestIDMiddleware).
func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
