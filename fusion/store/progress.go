package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	// SyncProgressKey holds the JSON-encoded SyncProgress of the current (or
	// most recent) sync run.
	SyncProgressKey = "fusion:sync:progress"
	// SyncLockKey is the process-wide single-flight guard. Present while a
	// sync is running; the TTL bounds how long a crashed run can wedge the
	// pipeline.
	SyncLockKey = "fusion:sync:lock"
	// SyncLockTTLSeconds caps a sync run at two hours before the lock expires.
	SyncLockTTLSeconds = 2 * 60 * 60
)

// Source statuses reported in SyncProgress.
const (
	SourceStatusPending = "pending"
	SourceStatusRunning = "running"
	SourceStatusSuccess = "success"
	SourceStatusError   = "error"
)

// SourceProgress is the sub-state of one sync source within a run.
type SourceProgress struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SyncProgress is the process-wide state of the current sync run. It lives in
// the shared KV store so every request-handling instance observes the same
// state, and is superseded in place when the next run starts.
type SyncProgress struct {
	Stage      string           `json:"stage"`
	Progress   int              `json:"progress"`
	Message    string           `json:"message"`
	IsComplete bool             `json:"is_complete"`
	IsSyncing  bool             `json:"is_syncing"`
	Sources    []SourceProgress `json:"sources"`
}

// ProgressStore persists SyncProgress and the single-flight lock in the
// shared KV store.
type ProgressStore struct {
	kv KVStore
}

// NewProgressStore creates a ProgressStore on top of the given KVStore.
func NewProgressStore(kv KVStore) *ProgressStore {
	return &ProgressStore{kv: kv}
}

// Save writes the progress state. Writes are unbuffered so pollers observe
// every transition.
func (p *ProgressStore) Save(ctx context.Context, progress SyncProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal sync progress: %w", err)
	}
	if err := p.kv.SetValue(ctx, SyncProgressKey, string(payload)); err != nil {
		return fmt.Errorf("failed to persist sync progress: %w", err)
	}
	return nil
}

// Load reads the current progress state. A missing key yields a zero-value
// progress (nothing has ever synced).
func (p *ProgressStore) Load(ctx context.Context) (SyncProgress, error) {
	var progress SyncProgress
	resp, err := p.kv.GetValue(ctx, SyncProgressKey)
	if err != nil {
		return progress, nil
	}
	if err := json.Unmarshal([]byte(resp.Message.Value), &progress); err != nil {
		return progress, fmt.Errorf("failed to unmarshal sync progress: %w", err)
	}
	return progress, nil
}

// AcquireLock attempts to take the single-flight sync lock. Returns false
// when another sync currently holds it.
func (p *ProgressStore) AcquireLock(ctx context.Context, runID string) (bool, error) {
	return p.kv.SetValueNX(ctx, SyncLockKey, runID, SyncLockTTLSeconds)
}

// ReleaseLock drops the single-flight lock at the end of a run.
func (p *ProgressStore) ReleaseLock(ctx context.Context) error {
	return p.kv.DeleteValue(ctx, SyncLockKey)
}
