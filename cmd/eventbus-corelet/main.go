// ============================================================================
// eventbus-corelet - Worker Process Entrypoint
// ============================================================================
//
// Spawned by internal/corelet.spawnWorkerProcess (spec.md §4.B / §6 "Worker
// spawn contract"). Reads/writes the task pipe on stdin/stdout and the
// health pipe on the file descriptors named by -health-in-fd/-health-out-fd
// (ExtraFiles indices 3 and 4), registers the same built-in handlers as
// cmd/eventbusd, and runs internal/corelet/child's main loop until
// shutdown, idle timeout, or pipe closure.
//
// ============================================================================

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ChuLiYu/eventbus/internal/cmdhandler"
	"github.com/ChuLiYu/eventbus/internal/corelet/child"
	"github.com/ChuLiYu/eventbus/internal/registry"
)

func main() {
	os.Exit(run())
}

func run() int {
	workerID := flag.String("worker-id", "", "worker process identifier (required)")
	healthInFD := flag.Int("health-in-fd", 3, "file descriptor this process reads health pings from")
	healthOutFD := flag.Int("health-out-fd", 4, "file descriptor this process writes health replies to")
	idleTimeout := flag.Duration("idle-timeout", 5*time.Minute, "self-declare dead and exit after this much task-pipe inactivity")
	flag.Parse()

	if *workerID == "" {
		fmt.Fprintln(os.Stderr, "eventbus-corelet: -worker-id is required")
		return 2
	}

	reg := registry.Default()
	cmdhandler.Register(reg)

	healthR := os.NewFile(uintptr(*healthInFD), "health-in")
	healthW := os.NewFile(uintptr(*healthOutFD), "health-out")
	if healthR == nil || healthW == nil {
		fmt.Fprintln(os.Stderr, "eventbus-corelet: health pipe file descriptors not open")
		return 2
	}

	return child.Run(child.Config{
		WorkerID:    *workerID,
		TaskR:       os.Stdin,
		TaskW:       os.Stdout,
		HealthR:     healthR,
		HealthW:     healthW,
		IdleTimeout: *idleTimeout,
		Handlers:    reg,
	})
}
