package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VulnFusion/go-api/fusion/store"
)

// Synchronous trigger failures. Anything that happens after the background
// run starts is reported through SyncProgress instead.
var (
	ErrSyncInProgress = errors.New("a sync is already in progress")
	ErrUnknownSource  = errors.New("unknown sync source")
	ErrNoSources      = errors.New("no sync sources selected")
)

// EventPublisher is the messaging hook for sync lifecycle events. Publishing
// is best effort; a dead broker never affects a run.
type EventPublisher interface {
	Publish(queueName, message string) error
}

// SyncEventsQueue receives one lifecycle event per finished sync run.
const SyncEventsQueue = "fusion.sync.events"

// syncEvent is the lifecycle message published when a run terminates.
type syncEvent struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	FinishedAt string `json:"finished_at"`
}

// Orchestrator owns the sync lifecycle: it validates trigger requests,
// holds the KV single-flight lock for the duration of a run, and executes
// the selected sources sequentially in one background goroutine.
type Orchestrator struct {
	registry *Registry
	progress *store.ProgressStore
	events   EventPublisher

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator. events may be nil to disable
// lifecycle publishing.
func NewOrchestrator(registry *Registry, progress *store.ProgressStore, events EventPublisher) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry: registry,
		progress: progress,
		events:   events,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops any in-flight run at the next source boundary. Runners are
// never interrupted mid-source.
func (o *Orchestrator) Close() {
	o.cancel()
}

// Sources returns the registry contents in execution order.
func (o *Orchestrator) Sources() []SourceDefinition {
	return o.registry.Sources()
}

// Progress returns the current (or most recent) run state.
func (o *Orchestrator) Progress(ctx context.Context) (store.SyncProgress, error) {
	return o.progress.Load(ctx)
}

// Start validates the requested source keys, takes the single-flight lock
// and launches the run in the background. It returns as soon as the run is
// accepted; ErrUnknownSource, ErrNoSources and ErrSyncInProgress are the
// only failures a caller sees synchronously.
func (o *Orchestrator) Start(ctx context.Context, keys []string) error {
	selected, err := o.registry.Resolve(keys)
	if err != nil {
		return err
	}

	runID := fmt.Sprintf("sync-%d", time.Now().UnixNano())
	acquired, err := o.progress.AcquireLock(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !acquired {
		return ErrSyncInProgress
	}

	progress := store.SyncProgress{
		Stage:     "initializing",
		Message:   "sync starting",
		IsSyncing: true,
		Sources:   make([]store.SourceProgress, 0, len(selected)),
	}
	for _, src := range selected {
		progress.Sources = append(progress.Sources, store.SourceProgress{
			Key:    src.Key,
			Name:   src.Name,
			Status: store.SourceStatusPending,
		})
	}
	if err := o.progress.Save(ctx, progress); err != nil {
		if relErr := o.progress.ReleaseLock(ctx); relErr != nil {
			slog.Error("failed to release sync lock", "error", relErr)
		}
		return fmt.Errorf("failed to initialize sync progress: %w", err)
	}

	go o.run(runID, selected, progress)
	return nil
}

// run executes the selected sources sequentially. It always terminates the
// progress record, releases the lock and publishes a lifecycle event, no
// matter how the loop ends.
func (o *Orchestrator) run(runID string, selected []SourceDefinition, progress store.SyncProgress) {
	ctx := o.ctx
	started := time.Now()
	slog.Info("sync run started", "run_id", runID, "sources", len(selected))

	var failed bool
	var failure string

	for i, src := range selected {
		if ctx.Err() != nil {
			failed = true
			failure = "aborted"
			break
		}

		progress.Stage = src.Name
		progress.Progress = i * 100 / len(selected)
		progress.Message = fmt.Sprintf("running %s", src.Name)
		progress.Sources[i].Status = store.SourceStatusRunning
		o.save(progress)

		message, err := src.Runner.Run(ctx)
		if err != nil {
			progress.Sources[i].Status = store.SourceStatusError
			progress.Sources[i].Message = err.Error()
			slog.Error("sync source failed", "run_id", runID, "source", src.Key, "error", err)
			if src.FailureMode == FailureFatal {
				failed = true
				failure = fmt.Sprintf("%s failed: %v", src.Key, err)
				o.save(progress)
				break
			}
			o.save(progress)
			continue
		}

		progress.Sources[i].Status = store.SourceStatusSuccess
		progress.Sources[i].Message = message
		slog.Info("sync source finished", "run_id", runID, "source", src.Key, "message", message)
		o.save(progress)
	}

	status := "complete"
	progress.IsComplete = true
	progress.IsSyncing = false
	if failed {
		status = "error"
		progress.Stage = "error"
		progress.Message = failure
	} else {
		progress.Stage = "complete"
		progress.Progress = 100
		progress.Message = fmt.Sprintf("sync finished in %s", time.Since(started).Round(time.Second))
	}
	o.save(progress)

	if err := o.progress.ReleaseLock(context.Background()); err != nil {
		slog.Error("failed to release sync lock", "run_id", runID, "error", err)
	}
	o.publishEvent(runID, status, progress.Message)
	slog.Info("sync run finished", "run_id", runID, "status", status, "elapsed", time.Since(started))
}

// save persists a progress transition. Pollers tolerate a stale read, so a
// KV write failure is logged and the run continues.
func (o *Orchestrator) save(progress store.SyncProgress) {
	if err := o.progress.Save(context.Background(), progress); err != nil {
		slog.Error("failed to persist sync progress", "error", err)
	}
}

func (o *Orchestrator) publishEvent(runID, status, message string) {
	if o.events == nil {
		return
	}
	payload, err := json.Marshal(syncEvent{
		RunID:      runID,
		Status:     status,
		Message:    message,
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := o.events.Publish(SyncEventsQueue, string(payload)); err != nil {
		slog.Warn("failed to publish sync event", "run_id", runID, "error", err)
	}
}
