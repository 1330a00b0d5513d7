// Package objectstore implements the engine's Object Store:
// content-addressed blob storage for binary parameters, workflow snapshots,
// and execution records, backed by a pluggable Bucket.
//
// The split mirrors the postgres store's layering in internal/store/postgres
// (a thin New() picking a backend, one interface satisfied by several
// implementations): ObjectStore is the engine-facing API, Bucket is the
// collaborator interface, and fsbucket/s3bucket are the two concrete
// backends.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/at-engine/internal/engine/model"
)

// ErrStorageUnavailable is returned when the backing Bucket cannot be
// reached. Callers do not retry; the host decides.
var ErrStorageUnavailable = errors.New("objectstore: storage unavailable")

// ErrNotFound is returned by reads when the key does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// PutOptions carries the HTTP-style metadata every write needs: content
// type, cache control, and custom metadata.
type PutOptions struct {
	ContentType    string
	CacheControl   string
	CustomMetadata map[string]string
}

// GetResult is what a Bucket read returns.
type GetResult struct {
	Data           []byte
	CustomMetadata map[string]string
}

// Bucket is the minimal blob-store collaborator interface.
// No other semantics are assumed; ObjectStore layers keys, metadata shape,
// and error taxonomy on top of it.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (*GetResult, error)
	Delete(ctx context.Context, key string) error
}

// objectMetadata is the custom metadata stored alongside every object
// write.
type objectMetadata struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"createdAt"`
	OrganizationID string `json:"organizationId"`
	ExecutionID    string `json:"executionId,omitempty"`
}

// ObjectStore is the engine-facing Object Store.
type ObjectStore struct {
	bucket Bucket
}

// New wraps a Bucket as an ObjectStore.
func New(bucket Bucket) *ObjectStore {
	return &ObjectStore{bucket: bucket}
}

func objectKey(id string) string {
	return fmt.Sprintf("objects/%s/object.data", id)
}

func workflowKey(id string) string {
	return fmt.Sprintf("workflows/%s.json", id)
}

func executionKey(id string) string {
	return fmt.Sprintf("executions/%s/execution.json", id)
}

func executionWorkflowKey(id string) string {
	return fmt.Sprintf("executions/%s/workflow.json", id)
}

// WriteObject stores a binary blob and returns its reference.
func (s *ObjectStore) WriteObject(ctx context.Context, data []byte, mimeType, organizationID, executionID string) (model.ObjectReference, error) {
	id := ulid.Make().String()

	meta := objectMetadata{
		ID:             id,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		OrganizationID: organizationID,
		ExecutionID:    executionID,
	}

	err := s.bucket.Put(ctx, objectKey(id), data, PutOptions{
		ContentType:    mimeType,
		CacheControl:   "public, max-age=31536000",
		CustomMetadata: metaToMap(meta),
	})
	if err != nil {
		return model.ObjectReference{}, fmt.Errorf("%w: write object %s: %v", ErrStorageUnavailable, id, err)
	}

	return model.ObjectReference{ID: id, MimeType: mimeType}, nil
}

// ObjectMetadata is the custom metadata readers can inspect for access
// control, enforced by callers, not the store.
type ObjectMetadata struct {
	OrganizationID string
	ExecutionID    string
}

// ReadObject returns the bytes and metadata stored at ref.
func (s *ObjectStore) ReadObject(ctx context.Context, ref model.ObjectReference) ([]byte, ObjectMetadata, error) {
	res, err := s.bucket.Get(ctx, objectKey(ref.ID))
	if err != nil {
		return nil, ObjectMetadata{}, translateGetErr(err, ref.ID)
	}

	return res.Data, ObjectMetadata{
		OrganizationID: res.CustomMetadata["organizationId"],
		ExecutionID:    res.CustomMetadata["executionId"],
	}, nil
}

// DeleteObject removes a blob.
func (s *ObjectStore) DeleteObject(ctx context.Context, ref model.ObjectReference) error {
	if err := s.bucket.Delete(ctx, objectKey(ref.ID)); err != nil {
		return fmt.Errorf("%w: delete object %s: %v", ErrStorageUnavailable, ref.ID, err)
	}
	return nil
}

// WriteWorkflow persists the canonical workflow definition.
func (s *ObjectStore) WriteWorkflow(ctx context.Context, wf model.Workflow) error {
	return s.writeJSON(ctx, workflowKey(wf.ID), wf, map[string]string{
		"workflowId": wf.ID,
		"name":       wf.Name,
		"type":       string(wf.Trigger),
		"updatedAt":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadWorkflow loads a persisted workflow definition.
func (s *ObjectStore) ReadWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var wf model.Workflow
	if err := s.readJSON(ctx, workflowKey(id), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// DeleteWorkflow removes a persisted workflow definition.
func (s *ObjectStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, workflowKey(id)); err != nil {
		return fmt.Errorf("%w: delete workflow %s: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// WriteExecution persists the final WorkflowExecution blob (row lives in
// the Execution Store; this is the nodeExecutions detail).
func (s *ObjectStore) WriteExecution(ctx context.Context, exec model.WorkflowExecution) error {
	return s.writeJSON(ctx, executionKey(exec.ID), exec, map[string]string{
		"workflowId": exec.WorkflowID,
		"status":     string(exec.Status),
		"updatedAt":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadExecution loads a persisted execution blob.
func (s *ObjectStore) ReadExecution(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	if err := s.readJSON(ctx, executionKey(id), &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// DeleteExecution removes a persisted execution blob.
func (s *ObjectStore) DeleteExecution(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, executionKey(id)); err != nil {
		return fmt.Errorf("%w: delete execution %s: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// WriteExecutionWorkflow freezes a copy of the graph as it was executed.
func (s *ObjectStore) WriteExecutionWorkflow(ctx context.Context, executionID string, wf model.Workflow) error {
	return s.writeJSON(ctx, executionWorkflowKey(executionID), wf, map[string]string{
		"executionId": executionID,
		"workflowId":  wf.ID,
		"updatedAt":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadExecutionWorkflow loads the frozen graph for an execution.
func (s *ObjectStore) ReadExecutionWorkflow(ctx context.Context, executionID string) (*model.Workflow, error) {
	var wf model.Workflow
	if err := s.readJSON(ctx, executionWorkflowKey(executionID), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *ObjectStore) writeJSON(ctx context.Context, key string, v any, meta map[string]string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("objectstore: marshal %s: %w", key, err)
	}

	err = s.bucket.Put(ctx, key, data, PutOptions{
		ContentType:    "application/json",
		CustomMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *ObjectStore) readJSON(ctx context.Context, key string, v any) error {
	res, err := s.bucket.Get(ctx, key)
	if err != nil {
		return translateGetErr(err, key)
	}
	if err := json.Unmarshal(res.Data, v); err != nil {
		return fmt.Errorf("objectstore: unmarshal %s: %w", key, err)
	}
	return nil
}

func translateGetErr(err error, key string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, key, err)
}

func metaToMap(m objectMetadata) map[string]string {
	out := map[string]string{
		"id":             m.ID,
		"createdAt":      m.CreatedAt,
		"organizationId": m.OrganizationID,
	}
	if m.ExecutionID != "" {
		out["executionId"] = m.ExecutionID
	}
	return out
}
