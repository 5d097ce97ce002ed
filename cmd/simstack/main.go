// =============================================================================
// simstack entry point
// =============================================================================
//
// Usage:
//
//	simstack render <workflow-dir>                  # compile into Submitted/
//	simstack render --config simstack.yaml <dir>    # with a config file
//	simstack inspect <workflow-dir>                 # list references
//	simstack version                                # show version information
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/NanomatchGmbH/simstack-sub001/config"
	"github.com/NanomatchGmbH/simstack-sub001/internal/metrics"
	"github.com/NanomatchGmbH/simstack-sub001/internal/telemetry"
	"github.com/NanomatchGmbH/simstack-sub001/wano"
	"github.com/NanomatchGmbH/simstack-sub001/workflow"
)

// =============================================================================
// Version information (set at build time)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// Main
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "render":
		return runRender(args[1:], stdout, stderr)
	case "inspect":
		return runInspect(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

// =============================================================================
// render
// =============================================================================

func runRender(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Submission name (defaults to the workflow name)")
	printDoc := fs.Bool("print", false, "Print the compiled document")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "render needs exactly one workflow directory")
		return 2
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer logger.Sync()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", zap.Error(err))
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	var (
		reg       *prometheus.Registry
		collector *metrics.Collector
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
	}

	root := newRoot(fs.Arg(0), cfg, logger, workflow.WithMetrics(collector))
	ctx := context.Background()
	if err := root.ReadFromDisk(ctx); err != nil {
		logger.Error("Failed to read workflow", zap.Error(err))
		return 1
	}

	kind, submitDir, doc, err := root.Render(ctx, *name, resourcesFrom(cfg.Workflow.Resources))
	if err != nil {
		logger.Error("Failed to render workflow", zap.Error(err))
		return 1
	}
	fmt.Fprintf(stdout, "%s %s\n", kind, submitDir)

	if *printDoc {
		data, err := encodeDocument(doc, cfg.Workflow.DocumentFormat)
		if err != nil {
			logger.Error("Failed to encode document", zap.Error(err))
			return 1
		}
		stdout.Write(data)
	}

	if reg != nil {
		if err := dumpMetrics(reg, stdout); err != nil {
			logger.Warn("Failed to gather metrics", zap.Error(err))
		}
	}
	return 0
}

func encodeDocument(doc *workflow.Document, format string) ([]byte, error) {
	switch format {
	case "json":
		return doc.ToJSON()
	case "yaml":
		return doc.ToYAML()
	default:
		return doc.ToXML()
	}
}

// =============================================================================
// inspect
// =============================================================================

func runInspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "inspect needs exactly one workflow directory")
		return 2
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer logger.Sync()

	root := newRoot(fs.Arg(0), cfg, logger)
	if err := root.ReadFromDisk(context.Background()); err != nil {
		logger.Error("Failed to read workflow", zap.Error(err))
		return 1
	}

	fmt.Fprintln(stdout, "Elements:")
	root.Tree().Walk(root.Tree().Root(), func(n *workflow.Node) bool {
		if n.ID != root.Tree().Root() {
			fmt.Fprintf(stdout, "  %s (%s)\n", root.Tree().Path(n.ID), n.Kind)
		}
		return true
	})
	fmt.Fprintln(stdout, "Variables:")
	for _, v := range root.AssembleVariables() {
		fmt.Fprintf(stdout, "  %s\n", v)
	}
	fmt.Fprintln(stdout, "Files:")
	for _, f := range root.AssembleFiles() {
		fmt.Fprintf(stdout, "  %s\n", f)
	}
	return 0
}

// =============================================================================
// Shared setup
// =============================================================================

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, initLogger(cfg.Log), nil
}

func newRoot(folder string, cfg *config.Config, logger *zap.Logger, extra ...workflow.RootOption) *workflow.Root {
	opts := []workflow.RootOption{
		workflow.WithLogger(logger),
		workflow.WithLegacyIfAssembly(cfg.Workflow.LegacyIfAssembly),
		workflow.WithSubmitRetry(cfg.Workflow.SubmitAttempts, cfg.Workflow.SubmitRetryPause),
		workflow.WithCompilerOptions(workflow.WithStorageRootToken(cfg.Workflow.StorageRootToken)),
	}
	return workflow.NewRoot(folder, wano.NewLoader(logger), append(opts, extra...)...)
}

func resourcesFrom(c config.ResourceConfig) workflow.Resources {
	return workflow.Resources{
		Queue:       c.Queue,
		Host:        c.Host,
		Nodes:       c.Nodes,
		CPUsPerNode: c.CPUsPerNode,
		Memory:      c.Memory,
		Walltime:    c.Walltime,
	}
}

// dumpMetrics prints counter and histogram samples of the gathered families.
func dumpMetrics(reg prometheus.Gatherer, w io.Writer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Metrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "  %s%s %s\n", mf.GetName(), formatLabels(m.GetLabel()), formatValue(mf.GetType(), m))
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "-"
	}
}

// =============================================================================
// Version and help
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "simstack %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `simstack - workflow compiler

Usage:
  simstack <command> [options] <workflow-dir>

Commands:
  render    Compile a workflow into a new submission directory
  inspect   List elements and the references they expose
  version   Show version information
  help      Show this help message

Options for 'render':
  --config <path>   Path to configuration file (YAML)
  --name <name>     Submission name
  --print           Print the compiled document (format from config)

Options for 'inspect':
  --config <path>   Path to configuration file (YAML)

Examples:
  simstack render ./Relaxation
  simstack render --print --config simstack.yaml ./Relaxation
  simstack inspect ./Relaxation
  simstack version`)
}

// =============================================================================
// Logger
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
