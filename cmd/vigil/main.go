package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vigil-systems/vigil/pkg/audit"
	"github.com/vigil-systems/vigil/pkg/compliance"
	"github.com/vigil-systems/vigil/pkg/compliance/gdpr"
	"github.com/vigil-systems/vigil/pkg/compliance/hipaa"
	"github.com/vigil-systems/vigil/pkg/compliance/pci"
	"github.com/vigil-systems/vigil/pkg/compliance/recommend"
	"github.com/vigil-systems/vigil/pkg/compliance/rules"
	"github.com/vigil-systems/vigil/pkg/compliance/soc2"
	"github.com/vigil-systems/vigil/pkg/config"
	"github.com/vigil-systems/vigil/pkg/observability"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServeCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "vigil %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "vigil %s - continuous compliance monitoring\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  vigil <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve    Run the scheduler and audit on an interval (default)")
	fmt.Fprintln(w, "  status   Print current compliance status")
	fmt.Fprintln(w, "  audit    Run one audit cycle and print the report")
	fmt.Fprintln(w, "  export   Export an evidence pack for a time window")
	fmt.Fprintln(w, "  version  Show version information")
	fmt.Fprintln(w, "  help     Show this help")
	fmt.Fprintln(w, "")
}

// platform bundles everything the commands need after wiring.
type platform struct {
	settings    *config.Settings
	coordinator *compliance.Coordinator
	trail       *audit.Trail
	cleanup     func()
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		path = os.Getenv("VIGIL_CONFIG")
	}
	if path == "" {
		path = "vigil.yaml"
	}
	return config.Load(path)
}

// buildPlatform wires the trail, evaluators and coordinator from settings.
func buildPlatform(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*platform, error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	trailOpts := []audit.TrailOption{audit.WithLogger(logger)}
	if settings.Audit.ArchivePath != "" {
		archive, err := audit.OpenSQLiteArchive(settings.Audit.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		cleanups = append(cleanups, func() { _ = archive.Close() })
		trailOpts = append(trailOpts, audit.WithEvictionSink(archive))
	}

	trail, err := audit.NewTrail(settings.Audit.RetentionPeriod(), trailOpts...)
	if err != nil {
		cleanup()
		return nil, err
	}

	evaluators := []compliance.StandardEvaluator{
		gdpr.NewEvaluator(),
		hipaa.NewEvaluator(),
		soc2.NewEvaluator(),
		pci.NewEvaluator(),
	}
	builtin := map[string]bool{"gdpr": true, "hipaa": true, "soc2": true, "pci": true}
	for name, std := range settings.Standards {
		if builtin[name] || len(std.Rules) == 0 {
			continue
		}
		custom, err := rules.NewEvaluator(compliance.StandardID(name))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("custom standard %s: %w", name, err)
		}
		evaluators = append(evaluators, custom)
	}

	opts := []compliance.CoordinatorOption{
		compliance.WithSchedule(settings.Schedule),
		compliance.WithCoordinatorLogger(logger),
	}

	provider, err := observability.New(ctx, settings.Telemetry, version)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	cleanups = append(cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	})
	opts = append(opts, compliance.WithCycleObserver(provider))

	if settings.Gate.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Gate.RedisAddr,
			Password: settings.Gate.RedisPassword,
			DB:       settings.Gate.RedisDB,
		})
		cleanups = append(cleanups, func() { _ = client.Close() })
		gate := compliance.NewRedisCycleGate(client, "",
			time.Duration(settings.Gate.LeaseSeconds)*time.Second)
		opts = append(opts, compliance.WithCycleGate(gate))
	}

	coordinator, err := compliance.NewCoordinator(trail, recommend.NewEngine(), evaluators, opts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := coordinator.Configure(settings); err != nil {
		cleanup()
		return nil, fmt.Errorf("apply settings: %w", err)
	}

	return &platform{
		settings:    settings,
		coordinator: coordinator,
		trail:       trail,
		cleanup:     cleanup,
	}, nil
}

func setup(args []string, name string, stderr io.Writer) (*platform, *flag.FlagSet, error) {
	cmd := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "Path to settings file (default $VIGIL_CONFIG or vigil.yaml)")
	if err := cmd.Parse(args); err != nil {
		return nil, nil, err
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevelFor(settings.Audit.LogLevel)}))
	slog.SetDefault(logger)

	p, err := buildPlatform(context.Background(), settings, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, cmd, nil
}

func logLevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogBasic:
		return slog.LevelWarn
	case config.LogComprehensive:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	p, _, err := setup(args, "serve", stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := compliance.NewScheduler(p.coordinator, slog.Default())
	scheduler.Start(ctx)
	fmt.Fprintf(stdout, "vigil serving: interval=%s standards=%d\n",
		p.settings.Schedule.Interval(), len(p.settings.Standards))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(stdout, "shutting down")
	scheduler.Stop()
	return 0
}

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	p, _, err := setup(args, "status", stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.cleanup()

	report := p.coordinator.GetComplianceStatus()
	data, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(stdout, string(data))

	if report.Overall != compliance.StatusCompliant {
		return 1
	}
	return 0
}

func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	p, _, err := setup(args, "audit", stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.cleanup()

	report, err := p.coordinator.RunAuditCycle(context.Background())
	if err != nil {
		if errors.Is(err, compliance.ErrGateHeld) {
			fmt.Fprintln(stderr, "Audit cycle skipped: another replica holds the lease")
			return 0
		}
		fmt.Fprintf(stderr, "Audit cycle failed: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(stdout, string(data))

	if report.OverallStatus != compliance.StatusCompliant {
		return 1
	}
	return 0
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "Path to settings file")
	outPath := cmd.String("out", "evidence-pack.zip", "Output path for the evidence pack")
	actor := cmd.String("actor", "", "Filter events by actor ID")
	window := cmd.Duration("window", 24*time.Hour, "How far back to export")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	p, err := buildPlatform(context.Background(), settings, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.cleanup()

	// Run one cycle so the pack reflects current posture, not an empty trail.
	if _, err := p.coordinator.RunAuditCycle(context.Background()); err != nil &&
		!errors.Is(err, compliance.ErrGateHeld) {
		fmt.Fprintf(stderr, "Audit cycle failed: %v\n", err)
		return 1
	}

	now := time.Now().UTC()
	exporter := audit.NewExporter(p.trail)
	pack, checksum, err := exporter.GeneratePack(audit.ExportRequest{
		ActorID:   *actor,
		StartTime: now.Add(-*window),
		EndTime:   now,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}

	if err := os.WriteFile(*outPath, pack, 0o600); err != nil {
		fmt.Fprintf(stderr, "Write failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Evidence pack written: %s\n", *outPath)
	fmt.Fprintf(stdout, "  sha256: %s\n", checksum)
	return 0
}
