package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	sgerrors "github.com/randalmurphal/stepguard/pkg/stepguard/errors"
	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
	"github.com/randalmurphal/stepguard/pkg/stepguard/policy"
	"github.com/randalmurphal/stepguard/pkg/stepguard/snapshot"
)

// System state keys read and written by the supervisor.
const (
	KeyContainerName = "container_name"
	KeyContainerID   = "container_id"
	KeySnapshotImage = "snapshot_image"
)

// cleanupTimeout bounds best-effort image removal after a failed append.
const cleanupTimeout = 30 * time.Second

// Supervisor owns checkpointing and rollback selection for one agent.
// It is the single writer of the agent's checkpoint store.
type Supervisor struct {
	agentID        string
	store          checkpoint.Store
	runtime        snapshot.Runtime
	policy         policy.Policy
	selector       Selector
	captureTimeout time.Duration
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager

	// mu guards checkpoints and sinceCheckpoint. Store appends happen
	// under the write lock so readers never see a half-recorded checkpoint.
	mu              sync.RWMutex
	checkpoints     []*checkpoint.Checkpoint // ordered by step
	sinceCheckpoint int
}

// New creates a supervisor for agentID and seeds its history from store.
func New(ctx context.Context, agentID string, store checkpoint.Store, rt snapshot.Runtime, opts ...Option) (*Supervisor, error) {
	if agentID == "" {
		return nil, ErrInvalidAgentID
	}
	s := &Supervisor{
		agentID:        agentID,
		store:          store,
		runtime:        rt,
		policy:         policy.Always{},
		selector:       Latest{},
		captureTimeout: 2 * time.Minute,
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.EnrichLogger(s.logger, agentID)

	if err := s.seed(ctx); err != nil {
		return nil, fmt.Errorf("load checkpoint history: %w", err)
	}
	return s, nil
}

func (s *Supervisor) seed(ctx context.Context) error {
	infos, err := s.store.List(ctx, s.agentID)
	if err != nil {
		return err
	}
	for _, info := range infos {
		cp, err := checkpoint.LoadCheckpoint(ctx, s.store, s.agentID, info.Step)
		if err != nil {
			return fmt.Errorf("step %s: %w", info.Step, err)
		}
		s.checkpoints = append(s.checkpoints, cp)
	}
	if len(infos) > 0 {
		s.logger.Info("checkpoint history loaded", slog.Int("checkpoints", len(infos)))
	}
	return nil
}

// AgentID returns the supervised agent's identity.
func (s *Supervisor) AgentID() string { return s.agentID }

// Policy returns the active checkpoint policy.
func (s *Supervisor) Policy() policy.Policy { return s.policy }

// Len returns the number of persisted checkpoints.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

// ShouldCheckpoint reports whether the agent should checkpoint after step.
// It is called once per verified step and never blocks on I/O.
func (s *Supervisor) ShouldCheckpoint(step checkpoint.Step) bool {
	s.mu.Lock()
	s.sinceCheckpoint++
	in := policy.Input{
		Step:                 step,
		StepsSinceCheckpoint: s.sinceCheckpoint,
		Checkpoints:          len(s.checkpoints),
		Verified:             true,
	}
	s.mu.Unlock()

	decision := s.policy.ShouldCheckpoint(in)
	s.logger.Debug("checkpoint decision",
		slog.String("step", step.String()),
		slog.String("policy", s.policy.Name()),
		slog.Bool("initiate", decision),
	)
	return decision
}

// CreateCheckpoint captures the agent's container and persists a checkpoint
// at step. agentState and systemState are copied before use; systemState
// must name the container under "container_name".
//
// On any failure nothing is recorded and the store is unchanged.
func (s *Supervisor) CreateCheckpoint(ctx context.Context, agentState any, systemState map[string]any, step checkpoint.Step) (cp *checkpoint.Checkpoint, err error) {
	start := time.Now()
	ctx, span := s.spans.StartCheckpointSpan(ctx, s.agentID, step.String())
	phase := PhaseCopy
	defer func() {
		if err != nil {
			err = &CheckpointError{AgentID: s.agentID, Step: step.String(), Phase: phase, Err: err}
			s.metrics.RecordCheckpointFailure(ctx, s.agentID, phase)
			observability.LogCheckpointFailed(s.logger, step.String(), phase, err)
		}
		s.spans.EndSpanWithError(span, err)
	}()

	agentJSON, err := json.Marshal(agentState)
	if err != nil {
		return nil, fmt.Errorf("encode agent state: %w", err)
	}
	sys, err := copyMap(systemState)
	if err != nil {
		return nil, fmt.Errorf("copy system state: %w", err)
	}
	phase = PhaseValidate
	name, _ := sys[KeyContainerName].(string)
	if name == "" {
		return nil, ErrMissingContainerName
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	defer cancel()

	phase = PhaseResolve
	containerID, err := bounded(captureCtx, phase, s.captureTimeout,
		func(ctx context.Context) (string, error) {
			return s.runtime.ResolveContainerID(ctx, name)
		}, nil)
	if err != nil {
		return nil, err
	}

	phase = PhaseCapture
	img, err := bounded(captureCtx, phase, s.captureTimeout,
		func(ctx context.Context) (snapshot.Image, error) {
			return s.runtime.CaptureImage(ctx, containerID, s.agentID, step.String())
		}, s.discardImage)
	if err != nil {
		return nil, err
	}
	s.spans.AddSpanEvent(ctx, "image.captured")

	sys[KeyContainerID] = containerID
	sys[KeySnapshotImage] = img
	sysJSON, err := json.Marshal(sys)
	if err != nil {
		s.discardImage(img)
		return nil, fmt.Errorf("encode system state: %w", err)
	}
	cp = checkpoint.New(s.agentID, step, agentJSON, sysJSON)

	phase = PhaseAppend
	s.mu.Lock()
	err = s.store.Append(ctx, cp)
	if err == nil {
		s.insert(cp)
		s.sinceCheckpoint = 0
	}
	s.mu.Unlock()
	if err != nil {
		s.discardImage(img)
		return nil, err
	}

	elapsed := time.Since(start)
	s.metrics.RecordCheckpoint(ctx, s.agentID, int64(len(agentJSON)+len(sysJSON)), elapsed)
	observability.LogCheckpointPersisted(s.logger, step.String(), cp.ID, img.Name, float64(elapsed.Microseconds())/1000)
	return clone(cp), nil
}

// insert places cp in step order. Caller holds mu.
func (s *Supervisor) insert(cp *checkpoint.Checkpoint) {
	i := sort.Search(len(s.checkpoints), func(i int) bool {
		return !s.checkpoints[i].Step.Before(cp.Step)
	})
	s.checkpoints = append(s.checkpoints, nil)
	copy(s.checkpoints[i+1:], s.checkpoints[i:])
	s.checkpoints[i] = cp
}

// bounded runs a runtime call and returns no later than ctx's deadline.
// A call that outlives ctx is abandoned; if it later succeeds, its result is
// handed to late. Errors caused by the deadline are reported as a
// *snapshot.CaptureError wrapping a *sgerrors.TimeoutError.
func bounded[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error), late func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil && !errors.Is(r.err, snapshot.ErrSnapshotFailed) {
			return zero, abandoned(ctx, op, timeout)
		}
		return r.v, r.err
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.v)
				}
			}()
		}
		return zero, abandoned(ctx, op, timeout)
	}
}

func abandoned(ctx context.Context, op string, timeout time.Duration) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = &sgerrors.TimeoutError{Operation: "snapshot " + op, Duration: timeout}
	}
	return &snapshot.CaptureError{Op: op, Err: err}
}

// discardImage removes an image whose checkpoint was not persisted.
func (s *Supervisor) discardImage(img snapshot.Image) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.runtime.RemoveImage(ctx, img.ID); err != nil {
		s.logger.Warn("orphaned snapshot image", slog.String("image", img.Name), slog.String("error", err.Error()))
	}
}

// SelectRollbackTarget returns the checkpoint to restore. With a nil before
// every checkpoint is a candidate; otherwise only those strictly before it.
// The selector chooses among candidates.
func (s *Supervisor) SelectRollbackTarget(ctx context.Context, before *checkpoint.Step) (cp *checkpoint.Checkpoint, err error) {
	ctx, span := s.spans.StartRollbackSpan(ctx, s.agentID)
	defer func() {
		s.metrics.RecordRollback(ctx, s.agentID, err == nil)
		s.spans.EndSpanWithError(span, err)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.checkpoints
	if before != nil {
		n := sort.Search(len(candidates), func(i int) bool {
			return !candidates[i].Step.Before(*before)
		})
		candidates = candidates[:n]
	}
	if len(candidates) == 0 {
		return nil, ErrNoCheckpointAvailable
	}

	target := s.selector.Select(candidates)
	observability.LogRollbackSelected(s.logger, target.Step.String(), target.ID, len(candidates))
	return clone(target), nil
}

// Find returns the persisted checkpoint with id.
func (s *Supervisor) Find(id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.checkpoints {
		if cp.ID == id {
			return clone(cp), nil
		}
	}
	return nil, checkpoint.ErrNotFound
}

// FindStep returns the persisted checkpoint at step.
func (s *Supervisor) FindStep(step checkpoint.Step) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.checkpoints {
		if cp.Step == step {
			return clone(cp), nil
		}
	}
	return nil, checkpoint.ErrNotFound
}

// Checkpoints lists the agent's persisted checkpoints from the store.
func (s *Supervisor) Checkpoints(ctx context.Context) ([]checkpoint.Info, error) {
	return s.store.List(ctx, s.agentID)
}

// Restore decodes a checkpoint's payloads.
func Restore(cp *checkpoint.Checkpoint) (agentState any, systemState map[string]any, err error) {
	if cp == nil {
		return nil, nil, errors.New("nil checkpoint")
	}
	if err := json.Unmarshal(cp.AgentSnapshot, &agentState); err != nil {
		return nil, nil, fmt.Errorf("decode agent snapshot: %w", err)
	}
	if err := json.Unmarshal(cp.SystemSnapshot, &systemState); err != nil {
		return nil, nil, fmt.Errorf("decode system snapshot: %w", err)
	}
	return agentState, systemState, nil
}

// RecreateContainer replaces the agent's container with one started from
// the checkpoint's snapshot image and returns the new container ID.
func (s *Supervisor) RecreateContainer(ctx context.Context, cp *checkpoint.Checkpoint) (string, error) {
	var sys snapshot.SystemSnapshot
	if err := json.Unmarshal(cp.SystemSnapshot, &sys); err != nil {
		return "", fmt.Errorf("decode system snapshot: %w", err)
	}
	if sys.ContainerName == "" {
		return "", ErrMissingContainerName
	}
	if sys.Image.ID == "" {
		return "", fmt.Errorf("checkpoint %s has no snapshot image", cp.ID)
	}

	id, err := s.runtime.RunContainer(ctx, sys.ContainerName, sys.Image.ID)
	if err != nil {
		return "", err
	}
	s.logger.Info("container recreated",
		slog.String("container_name", sys.ContainerName),
		slog.String("container_id", id),
		slog.String("image", sys.Image.Name),
		slog.String("step", cp.Step.String()),
	)
	return id, nil
}

// copyMap deep-copies m through its JSON form.
func copyMap(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func clone(cp *checkpoint.Checkpoint) *checkpoint.Checkpoint {
	c := *cp
	c.AgentSnapshot = append(json.RawMessage(nil), cp.AgentSnapshot...)
	c.SystemSnapshot = append(json.RawMessage(nil), cp.SystemSnapshot...)
	return &c
}
