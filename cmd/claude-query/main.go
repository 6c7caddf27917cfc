// Command claude-query runs a conversation with the Claude Code CLI from the
// terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	claude "github.com/wanpengxie/go-claude-query"
)

var (
	configPath     string
	model          string
	permissionMode string
	maxTurns       int
	cliPath        string
	readStdin      bool
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "claude-query [prompt]",
	Short: "Ask Claude Code a question and stream the answer",
	Long: `claude-query starts the Claude Code CLI, sends the prompt as the first
turn and prints the assistant's replies. With --stdin every further line read
from standard input is sent as another turn of the same session.

Ctrl-C interrupts the running turn; a second Ctrl-C in the same turn exits.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML file with query options")
	rootCmd.Flags().StringVarP(&model, "model", "m", "", "Model to use")
	rootCmd.Flags().StringVar(&permissionMode, "permission-mode", "", "Permission mode (default, acceptEdits, plan, bypassPermissions)")
	rootCmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Maximum agentic turns per prompt")
	rootCmd.Flags().StringVar(&cliPath, "cli-path", "", "Path to the claude executable")
	rootCmd.Flags().BoolVar(&readStdin, "stdin", false, "Read follow-up prompts from standard input, one per line")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildOptions(logger *slog.Logger) ([]claude.Option, error) {
	var opts []claude.Option
	if configPath != "" {
		cfg, err := claude.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cfg.Option())
	}
	if model != "" {
		opts = append(opts, claude.WithModel(model))
	}
	if permissionMode != "" {
		mode := claude.PermissionMode(permissionMode)
		switch mode {
		case claude.PermissionDefault, claude.PermissionAcceptEdits, claude.PermissionPlan, claude.PermissionBypassPermissions:
		default:
			return nil, fmt.Errorf("unknown permission mode %q", permissionMode)
		}
		opts = append(opts, claude.WithPermissionMode(mode))
	}
	if maxTurns > 0 {
		opts = append(opts, claude.WithMaxTurns(maxTurns))
	}
	if cliPath != "" {
		opts = append(opts, claude.WithCLIPath(cliPath))
	}
	opts = append(opts,
		claude.WithLogger(logger),
		claude.WithOnError(func(err error) { logger.Warn("query error", "error", err) }),
	)
	return opts, nil
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	opts, err := buildOptions(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q, err := claude.Start(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	defer q.Close()

	guard := newInterruptGuard()
	go interruptOnSignal(ctx, q, guard, cancel, logger)

	if readStdin {
		go pushLines(q, os.Stdin, logger)
	} else {
		q.CloseInput()
	}

	out := cmd.OutOrStdout()
	for msg, err := range q.Messages(ctx) {
		if err != nil {
			return err
		}
		printMessage(out, msg)
		if _, ok := msg.(*claude.ResultMessage); ok {
			guard.turnEnded()
		}
	}
	return q.Err()
}

// pushLines sends each non-empty line of r as a turn and closes the input
// at EOF.
func pushLines(q *claude.Query, r io.Reader, logger *slog.Logger) {
	defer q.CloseInput()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := q.PushText(line); err != nil {
			logger.Debug("stop reading prompts", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("read prompts", "error", err)
	}
}

// interruptGuard decides whether Ctrl-C interrupts the running turn or, when
// that turn was already interrupted, ends the session.
type interruptGuard struct {
	turn        atomic.Int64 // turns finished so far
	interrupted atomic.Int64 // turn last interrupted, -1 for none
}

func newInterruptGuard() *interruptGuard {
	g := &interruptGuard{}
	g.interrupted.Store(-1)
	return g
}

func (g *interruptGuard) turnEnded() { g.turn.Add(1) }

// escalate records a signal and reports whether the current turn had
// already been interrupted.
func (g *interruptGuard) escalate() bool {
	current := g.turn.Load()
	return g.interrupted.Swap(current) == current
}

// interruptOnSignal interrupts the current turn on SIGINT and cancels ctx on
// a second SIGINT within the same turn.
func interruptOnSignal(ctx context.Context, q *claude.Query, guard *interruptGuard, cancel context.CancelFunc, logger *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
		}
		if guard.escalate() {
			cancel()
			return
		}
		if err := q.Interrupt(ctx); err != nil {
			var closed *claude.ClosedError
			if !errors.As(err, &closed) {
				logger.Warn("interrupt failed", "error", err)
			}
			cancel()
			return
		}
	}
}

func printMessage(w io.Writer, msg claude.Message) {
	switch m := msg.(type) {
	case *claude.AssistantMessage:
		if text := m.Text(); text != "" {
			fmt.Fprintln(w, text)
		}
	case *claude.ResultMessage:
		cost := "n/a"
		if m.TotalCostUSD != nil {
			cost = fmt.Sprintf("$%.4f", *m.TotalCostUSD)
		}
		fmt.Fprintf(w, "-- %s, %d turns, %dms, cost %s\n", m.Outcome(), m.NumTurns, m.DurationMS, cost)
	}
}
