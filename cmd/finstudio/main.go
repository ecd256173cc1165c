// Command finstudio runs the redundant analysis pipeline end to end: it
// builds the orchestrator with canned analysis collaborators, optionally
// joins the relay network, executes one task per subject given on the
// command line and prints the resulting reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ChaosChain/fin-studio-go/audit"
	"github.com/ChaosChain/fin-studio-go/collaborator"
	"github.com/ChaosChain/fin-studio-go/config"
	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/internal/metrics"
	"github.com/ChaosChain/fin-studio-go/internal/telemetry"
	"github.com/ChaosChain/fin-studio-go/orchestrator"
	"github.com/ChaosChain/fin-studio-go/provenance"
	"github.com/ChaosChain/fin-studio-go/relay"
	"github.com/ChaosChain/fin-studio-go/reputation"
	"github.com/ChaosChain/fin-studio-go/types"
	"github.com/ChaosChain/fin-studio-go/verification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "finstudio:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "finstudio.yaml", "path to the YAML configuration file")
		metricsAddr = flag.String("metrics-addr", "", "optional listen address for the Prometheus /metrics endpoint")
	)
	flag.Parse()
	subjects := flag.Args()
	if len(subjects) == 0 {
		subjects = []string{"AAPL"}
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(nil)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	deps, cleanup, err := buildDeps(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	directory, err := joinRelayNetwork(ctx, cfg, collector, logger)
	if err != nil {
		return err
	}
	if directory != nil {
		deps.Directory = directory
		defer func() { _ = directory.Stop(context.Background()) }()
	}

	orch := orchestrator.New(deps, &cfg.Orchestrator)
	if err := registerAnalyzers(orch, cfg.Orchestrator.Components, logger); err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = orch.Stop(context.Background()) }()

	for _, subject := range subjects {
		if ctx.Err() != nil {
			logger.Info("shutdown requested, stopping task loop")
			break
		}
		report, err := orch.ExecuteTask(ctx, subject)
		if err != nil {
			logger.Error("task failed to run", zap.String("subject", subject), zap.Error(err))
			continue
		}
		printReport(report)
	}
	return nil
}

// buildDeps assembles the orchestrator context object from the configuration.
func buildDeps(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (orchestrator.Deps, func(), error) {
	store := provenance.NewStore(logger)
	deps := orchestrator.Deps{
		Store:     store,
		Verifiers: verification.NewPool(store, &cfg.Verification, logger),
		Payments:  collaborator.NewLoggingPaymentProcessor(logger),
		Metrics:   collector,
		Logger:    logger,
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var repStore reputation.Store
	if cfg.Reputation.RedisEnabled {
		redisStore, err := reputation.NewRedisStore(cfg.Reputation.Redis)
		if err != nil {
			return deps, nil, fmt.Errorf("connect redis reputation store: %w", err)
		}
		closers = append(closers, func() { _ = redisStore.Close() })
		repStore = redisStore
	}
	deps.Reputation = reputation.NewTracker(repStore, &cfg.Reputation.Tuning, logger)

	if cfg.Audit.Enabled {
		archive, err := audit.Open(cfg.Audit, logger)
		if err != nil {
			cleanup()
			return deps, nil, fmt.Errorf("open audit archive: %w", err)
		}
		closers = append(closers, func() { _ = archive.Close() })
		deps.Audit = archive
	}
	return deps, cleanup, nil
}

// joinRelayNetwork starts the relay directory and announces this process when
// relay endpoints are configured. No endpoints means the pipeline runs
// standalone.
func joinRelayNetwork(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*relay.Directory, error) {
	if len(cfg.Relay.RelayURLs) == 0 {
		logger.Info("no relay endpoints configured, running standalone")
		return nil, nil
	}
	id, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate relay identity: %w", err)
	}
	directory := relay.NewDirectory(id, &cfg.Relay, logger)
	directory.SetMetrics(collector)
	if err := directory.Start(ctx); err != nil {
		return nil, fmt.Errorf("join relay network: %w", err)
	}

	capabilities := make([]string, 0, len(cfg.Orchestrator.Components))
	for _, component := range cfg.Orchestrator.Components {
		capabilities = append(capabilities, string(component))
	}
	profile := &relay.AgentProfile{
		AgentID:      cfg.Agent.Name,
		Name:         cfg.Agent.Name,
		Capabilities: capabilities,
		Specialties:  cfg.Agent.Specialties,
		Cost:         cfg.Agent.Cost,
	}
	if err := directory.Announce(ctx, profile); err != nil {
		_ = directory.Stop(context.Background())
		return nil, fmt.Errorf("announce on relay network: %w", err)
	}
	return directory, nil
}

// registerAnalyzers binds two canned analyzers per component, each under its
// own configuration id and signing identity.
func registerAnalyzers(orch *orchestrator.Orchestrator, components []types.ComponentType, logger *zap.Logger) error {
	for _, component := range components {
		for _, variant := range []string{"primary", "secondary"} {
			agentID := fmt.Sprintf("%s-%s", component, variant)
			id, err := identity.Generate()
			if err != nil {
				return fmt.Errorf("generate identity for %s: %w", agentID, err)
			}
			binding := orchestrator.AgentBinding{
				AgentID:  agentID,
				ConfigID: fmt.Sprintf("%s-config", agentID),
				Analyzer: collaborator.NewStaticAnalyzer(agentID, component, logger),
				Identity: id,
			}
			if err := orch.RegisterAgent(binding, component); err != nil {
				return err
			}
		}
	}
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics listener stopped", zap.Error(err))
	}
}

func printReport(report *orchestrator.TaskReport) {
	fmt.Printf("task %s (%s) finished %s: %d records, %d accepted, %d rejected\n",
		report.TaskID, report.Subject, report.Status,
		report.Records, report.Accepted, report.Rejected,
	)
	if len(report.Retried) > 0 {
		retried := make([]string, 0, len(report.Retried))
		for _, component := range report.Retried {
			retried = append(retried, string(component))
		}
		fmt.Printf("  retried components: %s\n", strings.Join(retried, ", "))
	}
	for _, decision := range report.Decisions {
		verdict := "rejected"
		if decision.Accepted {
			verdict = "accepted"
		}
		fmt.Printf("  %-20s %s by %s: %s (mean %.2f, %d/%d structural passes)\n",
			decision.ComponentType, shortID(decision.RecordID), decision.AgentID,
			verdict, decision.MeanScore, decision.StructuralPasses, decision.TotalVerifiers,
		)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
