// ============================================================================
// Eventbus CLI
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra root command `eventbusd` with `run`, `publish`, and
// `status` subcommands (SPEC_FULL.md §9 "CLI").
//
// Adapted from internal/cli/cli.go: same Cobra root + nested YAML
// config-struct shape, `run`/`status` commands kept, `enqueue` renamed
// `publish` and retargeted at bus.Publish. Signal handling (SIGINT/
// SIGTERM -> graceful bus.Shutdown()) kept in spirit.
//
// ============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/eventbus/internal/bus"
	"github.com/ChuLiYu/eventbus/internal/metrics"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the top-level config file shape, mapped through YAML tags.
type Config struct {
	Bus struct {
		ThreadPoolSize        int           `yaml:"thread_pool_size"`
		ProcessPoolMax        int           `yaml:"process_pool_max"`
		ProcessIdleTimeout    time.Duration `yaml:"process_idle_timeout"`
		HealthInterval        time.Duration `yaml:"health_interval"`
		HealthGraceMisses     int           `yaml:"health_grace_misses"`
		DefaultTimeout        time.Duration `yaml:"default_timeout"`
		DefaultMaxRetries     int           `yaml:"default_max_retries"`
		WorkerBinaryPath      string        `yaml:"worker_binary_path"`
		WorkerBinaryExtraArgs []string      `yaml:"worker_binary_extra_args"`
	} `yaml:"bus"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var (
	configFile string
	globalBus  *bus.Bus
)

// BuildCLI builds the eventbusd command tree, the single entry point
// cmd/eventbusd calls into.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventbusd",
		Short: "eventbusd: an in-process event bus with tiered execution",
		Long: `eventbusd runs an event bus with three execution tiers:
- sync: inline on the publisher's goroutine
- thread: a priority-queued goroutine pool
- corelet: a pool of isolated worker processes`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildPublishCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the event bus",
		Long:  "Load the config file, construct the bus, and block until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBus()
		},
	}
	return cmd
}

func runBus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	collector := metrics.NewCollector()

	b, err := bus.New(toBusConfig(cfg), collector)
	if err != nil {
		return fmt.Errorf("failed to construct bus: %w", err)
	}
	globalBus = b

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	stopGauges := make(chan struct{})
	go pollGauges(b, collector, stopGauges)

	log.Println("Event bus started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, stopping gracefully...")

	close(stopGauges)
	b.Shutdown(30 * time.Second)

	log.Println("Event bus stopped. Goodbye!")
	return nil
}

// pollGauges periodically pushes bus.Stats into the metrics gauges, since
// neither the thread queue depth nor the corelet worker count is itself
// an event the collector observes directly.
func pollGauges(b *bus.Bus, collector *metrics.Collector, stop chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := b.Stats()
			collector.UpdateGauges(stats.ThreadQueueDepth, stats.CoreletWorkersAlive)
		}
	}
}

func buildPublishCommand() *cobra.Command {
	var eventFile string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish events from a JSON file",
		Long:  "Read a JSON array of events from a file and publish each one to a bus constructed in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventFile == "" {
				return fmt.Errorf("event file is required (use --file or -f)")
			}
			return publishEvents(eventFile)
		},
	}

	cmd.Flags().StringVarP(&eventFile, "file", "f", "", "JSON file containing an array of events")
	cmd.MarkFlagRequired("file")

	return cmd
}

func publishEvents(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read event file: %w", err)
	}

	var events []*eventbus.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("failed to parse event file: %w", err)
	}

	if globalBus == nil {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		b, err := bus.New(toBusConfig(cfg), nil)
		if err != nil {
			return fmt.Errorf("failed to construct bus: %w", err)
		}
		globalBus = b
	}

	successCount := 0
	for _, ev := range events {
		id, err := globalBus.Publish(ev)
		if err != nil {
			log.Printf("Failed to publish event %s: %v\n", ev.EventType, err)
			continue
		}
		log.Printf("Published event %s as %s\n", ev.EventType, id)
		successCount++
	}

	log.Printf("Successfully published %d/%d events locally\n", successCount, len(events))
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bus status",
		Long:  "Display the event bus's uptime, pending events, and pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Event Bus Status")
	fmt.Println("================")
	fmt.Printf("Config file:            %s\n", configFile)
	fmt.Printf("Thread pool size:       %d\n", cfg.Bus.ThreadPoolSize)
	fmt.Printf("Process pool max:       %d\n", cfg.Bus.ProcessPoolMax)
	fmt.Printf("Default timeout:        %s\n", cfg.Bus.DefaultTimeout)
	fmt.Println()

	if globalBus != nil {
		stats := globalBus.Stats()
		fmt.Println("Runtime:")
		fmt.Printf("  Uptime:               %s\n", stats.Uptime)
		fmt.Printf("  Pending events:       %d\n", stats.PendingEvents)
		fmt.Printf("  Thread queue depth:   %d\n", stats.ThreadQueueDepth)
		fmt.Printf("  Corelet workers alive: %d\n", stats.CoreletWorkersAlive)
	} else {
		fmt.Println("Runtime: bus not running in this process (run 'eventbusd run' to start)")
	}

	fmt.Println()
	fmt.Println("Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  Disabled")
	}

	return nil
}

func toBusConfig(cfg *Config) bus.Config {
	return bus.Config{
		ThreadPoolSize:        cfg.Bus.ThreadPoolSize,
		ProcessPoolMax:        cfg.Bus.ProcessPoolMax,
		ProcessIdleTimeout:    cfg.Bus.ProcessIdleTimeout,
		HealthInterval:        cfg.Bus.HealthInterval,
		HealthGraceMisses:     cfg.Bus.HealthGraceMisses,
		DefaultTimeout:        cfg.Bus.DefaultTimeout,
		DefaultMaxRetries:     cfg.Bus.DefaultMaxRetries,
		WorkerBinaryPath:      cfg.Bus.WorkerBinaryPath,
		WorkerBinaryExtraArgs: cfg.Bus.WorkerBinaryExtraArgs,
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
