// Package registry spawns and tracks one supervisor process per agent.
//
// A Registry owns a Map from agent ID to Handle. Start reserves the agent
// with Map.Insert before anything is launched, so concurrent starts for one
// agent have exactly one winner:
//
//	reg := registry.New(registry.ExecLauncher{Binary: "/usr/local/bin/stepguard"},
//	    registry.WithStartupTimeout(10*time.Second),
//	    registry.WithSpawnAttempts(3),
//	)
//	h, err := reg.Start(ctx, "agent-1")
//	if errors.Is(err, registry.ErrAlreadyRunning) {
//	    // someone else owns agent-1
//	}
//	fmt.Println(h.URL())
//
// # Lifecycle
//
// Each attempt allocates a port with FreePort, launches the process, and
// polls GET /health until it answers. A process that exits before it is
// healthy, usually because its port was taken, is retried with backoff.
// Launch errors are not retried.
//
// Every running process has a watcher goroutine blocked in Wait. When the
// process exits the watcher removes the handle with Map.CompareAndDelete, so
// a stale watcher can never remove a newer handle for the same agent.
//
// Stop sends SIGTERM, waits for the stop grace period, then kills.
//
// # HTTP
//
// Server exposes /start_task, /stop_task, /tasks, /health, and /metrics.
package registry
