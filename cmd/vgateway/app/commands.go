// Package app provides the entry point for the vgateway command-line
// application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stacklok/vgateway/pkg/vgateway/config"
	"github.com/stacklok/vgateway/pkg/vgateway/service"
	"github.com/stacklok/vgateway/pkg/vgateway/sessionfile"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// configureLogLevel installs a production zap logger at the requested
// level, falling back to info on an unrecognized value.
func configureLogLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return
	}
	vglog.Configure(logger)
}

// exit codes (spec.md §7: distinguishable startup failure classes)
const (
	exitOK            = 0
	exitGenericError  = 1
	exitConfigError   = 2
	exitNoBackends    = 3
)

var rootCmd = &cobra.Command{
	Use:               "vgateway",
	DisableAutoGenTag: true,
	Short:             "Aggregating MCP gateway - expose many MCP servers as one",
	Long: `vgateway aggregates multiple Model Context Protocol servers behind a single
virtual MCP endpoint: it discovers each backend's tools, resources, and
prompts, resolves naming conflicts, and routes every call through one
incoming-auth and authorization pipeline before forwarding it on.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			vglog.Errorf("displaying help: %v", err)
		}
	},
}

// NewRootCmd builds the vgateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.SilenceUsage = true
	return rootCmd
}

func sessionsDir() string {
	if dir := os.Getenv("VGATEWAY_SESSIONS_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vgateway", "sessions")
	}
	return filepath.Join(home, ".vgateway", "sessions")
}

func newStartCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		logLevel   string
		detach     bool
		name       string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway",
		Long: `Start the gateway against a configuration file, loading every backend
defined in it, aggregating their capabilities, and serving the result as
one virtual MCP server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), configPath, host, port, logLevel, detach, name)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway configuration file (required)")
	cmd.Flags().StringVar(&host, "host", "", "override server.host from the configuration file")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port from the configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&detach, "detach", false, "run the gateway in the background and return immediately")
	cmd.Flags().StringVar(&name, "name", "", "session name for --detach (default: derived from the config file)")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("vgateway version: %s\n", version())
		},
	}
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without starting the gateway",
		RunE: func(_ *cobra.Command, _ []string) error {
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config")
			}
			_, err := loadAndValidate(configPath)
			if err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway configuration file (required)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List running detached gateway instances",
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := sessionfile.NewStore(sessionsDir())
			if err != nil {
				return err
			}
			sessions, err := store.List(false)
			if err != nil {
				return err
			}
			return renderSessionsTable(sessions)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop a detached gateway instance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			store, err := sessionfile.NewStore(sessionsDir())
			if err != nil {
				return err
			}
			info, ok := store.Find(name)
			if !ok {
				return fmt.Errorf("no running session found (use 'vgateway status' to list, or pass a name)")
			}
			if err := store.Stop(info); err != nil {
				return err
			}
			fmt.Printf("stopped %q (pid %d)\n", info.Name, info.PID)
			return nil
		},
	}
}

func renderSessionsTable(sessions []sessionfile.Info) error {
	if len(sessions) == 0 {
		fmt.Println("no running gateway sessions")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Options(
		tablewriter.WithHeader([]string{"Name", "PID", "Host", "Port", "Started", "Config"}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.State(1), Top: tw.State(1), Right: tw.State(1), Bottom: tw.State(1)},
		}),
	)
	for _, s := range sessions {
		if err := table.Append([]string{
			s.Name,
			fmt.Sprintf("%d", s.PID),
			s.Host,
			fmt.Sprintf("%d", s.Port),
			s.StartedAt.Local().Format(time.RFC3339),
			s.Config,
		}); err != nil {
			return fmt.Errorf("rendering sessions table: %w", err)
		}
	}
	return table.Render()
}

func loadAndValidate(configPath string) (*config.Resolved, error) {
	doc, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	return doc.Validate()
}

func runStart(ctx context.Context, configPath, hostOverride string, portOverride int, logLevel string, detach bool, name string) error {
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config")
	}
	configureLogLevel(logLevel)

	if detach {
		return runDetached(configPath, hostOverride, portOverride, logLevel, name)
	}

	vglog.Scoped("app").Infow("loading configuration", "path", configPath)
	resolved, err := loadAndValidate(configPath)
	if err != nil {
		return exitErr{code: exitConfigError, err: err}
	}
	if hostOverride != "" {
		resolved.Server.Host = hostOverride
	}
	if portOverride != 0 {
		resolved.Server.Port = portOverride
	}

	svc, err := service.New(ctx, resolved)
	if err != nil {
		return exitErr{code: exitNoBackends, err: err}
	}
	defer svc.Shutdown(context.Background())

	watcher, err := config.NewWatcher(configPath, func(reloaded *config.Resolved) {
		if err := svc.ApplyConfig(ctx, reloaded); err != nil {
			vglog.Scoped("app").Warnw("config hot-reload failed, keeping previous state", "error", err)
		}
	})
	if err == nil {
		if err := watcher.Start(ctx); err != nil {
			vglog.Scoped("app").Warnw("could not watch configuration file for changes", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	return svc.Start(ctx)
}

// runDetached re-executes the current binary without --detach, with its
// stdout/stderr redirected to a log file, and persists the resulting
// process as a named session before returning to the caller immediately.
func runDetached(configPath, hostOverride string, portOverride int, logLevel, name string) error {
	if name == "" {
		name = filepath.Base(configPath)
		name = name[:len(name)-len(filepath.Ext(name))]
	}
	normalized, err := sessionfile.ValidateName(name)
	if err != nil {
		return exitErr{code: exitConfigError, err: err}
	}

	resolved, err := loadAndValidate(configPath)
	if err != nil {
		return exitErr{code: exitConfigError, err: err}
	}
	host := resolved.Server.Host
	if hostOverride != "" {
		host = hostOverride
	}
	port := resolved.Server.Port
	if portOverride != 0 {
		port = portOverride
	}

	store, err := sessionfile.NewStore(sessionsDir())
	if err != nil {
		return err
	}
	if conflict, ok := store.CheckPortConflict(host, port); ok {
		return fmt.Errorf("port %d on %s is already in use by session %q (pid %d)", port, host, conflict.Name, conflict.PID)
	}

	logDir := filepath.Join(sessionsDir(), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	logFile := filepath.Join(logDir, normalized+".log")
	logHandle, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer logHandle.Close() //nolint:errcheck

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"start", "--config", configPath, "--log-level", logLevel}
	if hostOverride != "" {
		args = append(args, "--host", hostOverride)
	}
	if portOverride != 0 {
		args = append(args, "--port", fmt.Sprintf("%d", portOverride))
	}
	child := exec.Command(exe, args...)
	child.Stdout = logHandle
	child.Stderr = logHandle
	if err := child.Start(); err != nil {
		return err
	}

	if err := store.Save(sessionfile.Info{
		Name:      normalized,
		PID:       child.Process.Pid,
		Host:      host,
		Port:      port,
		Config:    configPath,
		LogFile:   logFile,
		StartedAt: time.Now(),
	}); err != nil {
		_ = child.Process.Kill()
		return err
	}

	fmt.Printf("started %q (pid %d), logs at %s\n", normalized, child.Process.Pid, logFile)
	return nil
}

// exitErr carries a process exit code alongside the error that caused it.
type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string { return e.err.Error() }

// ExitCode extracts the process exit code an error should map to.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if e, ok := err.(exitErr); ok {
		return e.code
	}
	return exitGenericError
}

func version() string {
	return "dev"
}
