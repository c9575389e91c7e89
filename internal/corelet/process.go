// ============================================================================
// Eventbus Worker Process - Spawn & Descriptor
// ============================================================================
//
// Package: internal/corelet
// File: process.go
// Purpose: Spawns a worker process and holds its pool-side descriptor
// (spec.md §3 "Worker process descriptor").
//
// Transport layout (spec.md §6 "Worker spawn contract: {worker_id,
// task_pipe_fd, health_pipe_fd}"):
//   - task pipe: the child's stdin (pool writes, worker reads) and stdout
//     (worker writes, pool reads) - a JSON-RPC-over-stdio idiom, so the
//     task channel needs no extra file descriptors.
//   - health pipe: two os.Pipe()s passed via exec.Cmd.ExtraFiles as fd 3
//     (pool -> worker: Ping/Shutdown) and fd 4 (worker -> pool:
//     Pong/Alive/Died/ShutdownComplete).
//   - stderr is left connected to the parent's stderr, the documented
//     logging fallback from spec.md §6.
//
// Spawning via os/exec with inherited extra pipes is grounded on
// other_examples/905c0225_peterfox-roadrunner__pool-static_pool.go.go, a
// real worker-process-pool library; the teacher repo uses gRPC/network
// transport for its distributed mode, which this spec does not need (see
// DESIGN.md).
//
// ============================================================================

package corelet

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// workerProcess is the pool's exclusive-owned descriptor for one spawned
// worker (spec.md §3 "Worker process descriptor").
type workerProcess struct {
	id       string
	cmd      *exec.Cmd
	taskW    *os.File      // pool -> worker (child's stdin)
	taskR    *bufio.Reader // worker -> pool (child's stdout)
	healthW  *os.File      // pool -> worker
	healthR  *bufio.Reader // worker -> pool

	mu                 sync.Mutex
	inUse              bool
	lastActivity       time.Time
	assignedEventID    string
	knownEventTypes    map[string]bool
	gracefulMisses     int
}

// spawnConfig configures how a worker process binary is launched.
type spawnConfig struct {
	binaryPath string
	extraArgs  []string
}

func spawnWorkerProcess(id string, cfg spawnConfig) (*workerProcess, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("corelet: create task-in pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("corelet: create task-out pipe: %w", err)
	}
	healthInR, healthInW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("corelet: create health-in pipe: %w", err)
	}
	healthOutR, healthOutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("corelet: create health-out pipe: %w", err)
	}

	args := append([]string{"-worker-id", id, "-health-in-fd", "3", "-health-out-fd", "4"}, cfg.extraArgs...)
	cmd := exec.Command(cfg.binaryPath, args...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{healthInR, healthOutW}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("corelet: start worker process: %w", err)
	}

	// The parent closes its copies of the child's ends once the child has
	// inherited them; keeping its own read/write ends open for the pipe.
	stdinR.Close()
	stdoutW.Close()
	healthInR.Close()
	healthOutW.Close()

	return &workerProcess{
		id:              id,
		cmd:             cmd,
		taskW:           stdinW,
		taskR:           bufio.NewReader(stdoutR),
		healthW:         healthInW,
		healthR:         bufio.NewReader(healthOutR),
		lastActivity:    time.Now(),
		knownEventTypes: make(map[string]bool),
	}, nil
}

// kill terminates the underlying OS process and closes every pipe end the
// pool holds - used both on explicit destroy and on pool shutdown.
func (w *workerProcess) kill() {
	_ = w.cmd.Process.Kill()
	_ = w.taskW.Close()
	_ = w.healthW.Close()
	_, _ = w.cmd.Process.Wait()
}

func (w *workerProcess) markActivity() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *workerProcess) hasSeen(eventType string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.knownEventTypes[eventType]
}

func (w *workerProcess) markSeen(eventType string) {
	w.mu.Lock()
	w.knownEventTypes[eventType] = true
	w.mu.Unlock()
}
