package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	"github.com/randalmurphal/stepguard/pkg/stepguard/snapshot"
	"github.com/randalmurphal/stepguard/pkg/stepguard/supervisor"
)

// AgentState is a realistically sized agent payload.
type AgentState struct {
	Plan     []string          `json:"plan"`
	History  []string          `json:"history"`
	Scratch  map[string]string `json:"scratch"`
	Attempts int               `json:"attempts"`
}

func createAgentState() AgentState {
	s := AgentState{Scratch: map[string]string{}}
	for i := 0; i < 20; i++ {
		s.Plan = append(s.Plan, fmt.Sprintf("step %d: edit file_%d.go and run the tests", i, i))
		s.History = append(s.History, fmt.Sprintf("tool call %d returned exit status 0", i))
		s.Scratch[fmt.Sprintf("key%d", i)] = "value"
	}
	return s
}

func newCheckpoint(b *testing.B, step int64) *checkpoint.Checkpoint {
	b.Helper()
	agent, err := json.Marshal(createAgentState())
	if err != nil {
		b.Fatal(err)
	}
	system := []byte(`{"container_name":"sandbox-1","container_id":"4f1c","snapshot_image":{"image_name":"stepguard/agent-1:step-1","image_id":"sha256:1"}}`)
	return checkpoint.New("agent-1", checkpoint.StepN(step), agent, system)
}

func benchmarkAppend(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	cps := make([]*checkpoint.Checkpoint, b.N)
	for i := range cps {
		cps[i] = newCheckpoint(b, int64(i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Append(ctx, cps[i]); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLoad(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	if err := store.Append(ctx, newCheckpoint(b, 1)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Load(ctx, "agent-1", checkpoint.StepN(1))
	}
}

// BenchmarkMemoryStore_Append measures in-memory checkpoint append.
func BenchmarkMemoryStore_Append(b *testing.B) {
	benchmarkAppend(b, checkpoint.NewMemoryStore())
}

// BenchmarkMemoryStore_Load measures in-memory checkpoint load.
func BenchmarkMemoryStore_Load(b *testing.B) {
	benchmarkLoad(b, checkpoint.NewMemoryStore())
}

// BenchmarkFileStore_Append measures durable file append (write, fsync, rename).
func BenchmarkFileStore_Append(b *testing.B) {
	store, err := checkpoint.NewFileStore(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	benchmarkAppend(b, store)
}

// BenchmarkFileStore_Load measures durable file load.
func BenchmarkFileStore_Load(b *testing.B) {
	store, err := checkpoint.NewFileStore(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	benchmarkLoad(b, store)
}

// BenchmarkSQLiteStore_Append measures SQLite checkpoint append.
func BenchmarkSQLiteStore_Append(b *testing.B) {
	benchmarkAppend(b, createSQLiteStore(b))
}

// BenchmarkSQLiteStore_Load measures SQLite checkpoint load.
func BenchmarkSQLiteStore_Load(b *testing.B) {
	benchmarkLoad(b, createSQLiteStore(b))
}

// BenchmarkSQLiteStore_List measures listing a 100-checkpoint history.
func BenchmarkSQLiteStore_List(b *testing.B) {
	store := createSQLiteStore(b)
	ctx := context.Background()
	for i := int64(0); i < 100; i++ {
		if err := store.Append(ctx, newCheckpoint(b, i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.List(ctx, "agent-1")
	}
}

// BenchmarkSupervisor_CreateCheckpoint measures the capture path with an
// instant runtime, so it reports copy, encode, and append overhead.
func BenchmarkSupervisor_CreateCheckpoint(b *testing.B) {
	ctx := context.Background()
	sup, err := supervisor.New(ctx, "agent-1", checkpoint.NewMemoryStore(), instantRuntime{})
	if err != nil {
		b.Fatal(err)
	}
	state := createAgentState()
	system := map[string]any{"container_name": "sandbox-1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sup.CreateCheckpoint(ctx, state, system, checkpoint.StepN(int64(i))); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSupervisor_SelectRollbackTarget measures selection over 1000 checkpoints.
func BenchmarkSupervisor_SelectRollbackTarget(b *testing.B) {
	ctx := context.Background()
	sup, err := supervisor.New(ctx, "agent-1", checkpoint.NewMemoryStore(), instantRuntime{})
	if err != nil {
		b.Fatal(err)
	}
	system := map[string]any{"container_name": "sandbox-1"}
	for i := int64(0); i < 1000; i++ {
		if _, err := sup.CreateCheckpoint(ctx, i, system, checkpoint.StepN(i)); err != nil {
			b.Fatal(err)
		}
	}
	before := checkpoint.StepN(500)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = sup.SelectRollbackTarget(ctx, &before)
	}
}

func createSQLiteStore(b *testing.B) *checkpoint.SQLiteStore {
	b.Helper()
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

// instantRuntime captures without a container runtime.
type instantRuntime struct{}

func (instantRuntime) ResolveContainerID(_ context.Context, name string) (string, error) {
	return "cid-" + name, nil
}

func (instantRuntime) CaptureImage(_ context.Context, _, agentID, label string) (snapshot.Image, error) {
	return snapshot.Image{Name: "stepguard/" + agentID + ":step-" + label, ID: "sha256:" + label}, nil
}

func (instantRuntime) RemoveImage(context.Context, string) error { return nil }

func (instantRuntime) RunContainer(_ context.Context, name, _ string) (string, error) {
	return "cid-" + name, nil
}
