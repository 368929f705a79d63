package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/puddle-lab/puddle/api"
	"github.com/puddle-lab/puddle/sim/script"
	"github.com/puddle-lab/puddle/sim/store"
	"github.com/puddle-lab/puddle/sim/trace"
)

const shutdownTimeout = 5 * time.Second

// options holds the CLI flags shared by the subcommands.
type options struct {
	logLevel    string // Log verbosity level
	configPath  string // Session config file
	board       string // Board description file
	rows        int    // Rows of the default rectangular board
	cols        int    // Columns of the default rectangular board
	stepDelayMs int    // Pause between ticks
	traceLevel  string // Decision trace verbosity
	listen      string // HTTP listen address
	redisAddr   string // Redis address for snapshot publishing
}

// newRootCmd builds the command tree. Each call returns independent flag state.
func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "puddle",
		Short:         "Droplet execution engine for digital microfluidic biochips",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level: %s", opts.logLevel)
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the session config YAML")
	root.PersistentFlags().StringVar(&opts.board, "board", "", "Board description file (JSON or YAML)")
	root.PersistentFlags().IntVar(&opts.rows, "rows", defaultRows, "Rows of the rectangular board used when no board file is given")
	root.PersistentFlags().IntVar(&opts.cols, "cols", defaultCols, "Columns of the rectangular board used when no board file is given")

	root.AddCommand(newRunCmd(opts), newServeCmd(opts), newValidateCmd(opts))
	return root
}

// sessionFlags registers the flags that shape a running session.
func sessionFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().IntVar(&opts.stepDelayMs, "step-delay-ms", 0, "Pause between ticks in milliseconds (overrides config and PUDDLE_STEP_DELAY_MS)")
	cmd.Flags().StringVar(&opts.traceLevel, "trace", "", "Decision trace level (none, placements, ticks)")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "Publish snapshots to Redis at this address")
}

// loadConfig reads the config file and applies the flags the user actually set.
func loadConfig(cmd *cobra.Command, opts *options) (*Config, error) {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("board") {
		cfg.Board = opts.board
	}
	if flags.Changed("step-delay-ms") {
		delay := opts.stepDelayMs
		cfg.StepDelayMs = &delay
	}
	if flags.Changed("trace") {
		cfg.Trace = opts.traceLevel
	}
	if flags.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = opts.redisAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// scriptBoard resolves a script's board path against the script's directory.
func scriptBoard(scriptPath string, s *script.Script) string {
	if s.Board == "" || filepath.IsAbs(s.Board) {
		return s.Board
	}
	return filepath.Join(filepath.Dir(scriptPath), s.Board)
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Run a protocol script against a fresh board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			s, err := script.LoadScript(args[0])
			if err != nil {
				return err
			}
			boardPath := cfg.Board
			if boardPath == "" {
				boardPath = scriptBoard(args[0], s)
			}
			grid, err := resolveBoard(boardPath, opts.rows, opts.cols)
			if err != nil {
				return err
			}

			sess, err := newSession(cfg, grid, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logrus.Infof("running %d processes from %s", len(s.Processes), args[0])
			startTime := time.Now()
			results, runErr := script.Run(ctx, sess.manager, s)
			printResults(cmd.OutOrStdout(), results)
			sess.metrics.Print()
			if cfg.Trace != "" && cfg.Trace != string(trace.TraceLevelNone) {
				printTraceSummary(cmd.OutOrStdout(), trace.Summarize(sess.trace))
			}
			logrus.Infof("script finished in %v", time.Since(startTime))
			return runErr
		},
	}
	sessionFlags(cmd, opts)
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the process API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			grid, err := resolveBoard(cfg.Board, opts.rows, opts.cols)
			if err != nil {
				return err
			}
			sess, err := newSession(cfg, grid, store.NewMemoryStore(store.DefaultHistory))
			if err != nil {
				return err
			}
			defer sess.Close()

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           api.NewHandler(sess.manager, api.HandlerConfig{Gatherer: sess.registry, History: sess.store}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, srv)
		},
	}
	sessionFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.listen, "listen", defaultListen, "HTTP listen address")
	return cmd
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logrus.Info("server stopped")
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [script.yaml]",
		Short: "Check a board, and optionally a script, without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			boardPath := cfg.Board
			if len(args) == 1 {
				s, err := script.LoadScript(args[0])
				if err != nil {
					return err
				}
				if err := s.Validate(); err != nil {
					return err
				}
				if boardPath == "" {
					boardPath = scriptBoard(args[0], s)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "script %s: %d processes ok\n", args[0], len(s.Processes))
			}
			grid, err := resolveBoard(boardPath, opts.rows, opts.cols)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "board: %dx%d, %d pins, %d peripherals\n",
				grid.Rows(), grid.Cols(), grid.NumPins(), len(grid.Peripherals()))
			return nil
		},
	}
}

func printResults(w io.Writer, results []script.Result) {
	fmt.Fprintln(w, "=== Processes ===")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "%-20s steps=%-4d droplets=%-4d %s\n", r.Process, r.Steps, len(r.Droplets), status)
		for _, d := range r.Droplets {
			fmt.Fprintf(w, "    %v at %v size %dx%d volume %.3f\n", d.ID, d.Location, d.Dimensions.Y, d.Dimensions.X, d.Volume)
		}
	}
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Placements           : %d (%d accepted, %d rejected, %d trusted)\n",
		s.TotalPlacements, s.AcceptedCount, s.RejectedCount, s.TrustedCount)
	fmt.Fprintf(w, "Candidates           : mean %.2f, max %d\n", s.MeanCandidates, s.MaxCandidates)
	fmt.Fprintf(w, "Ticks traced         : %d (%d moves)\n", s.TotalTicks, s.TotalMoves)
	reasons := make([]string, 0, len(s.RejectionsByCause))
	for reason := range s.RejectionsByCause {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "Rejected by %-9s: %d\n", reason, s.RejectionsByCause[reason])
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
