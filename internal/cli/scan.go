package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Batch      string
	Input      string
	IssueEvery time.Duration
	TokenDir   string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Reconcile decoded QR payloads into attendance",
		Long: `Read decoded QR payloads, one per line, and record attendance for the
lecture running at the moment each one is read. Input is stdin unless
--input is given, so a scanner in keyboard mode or "zbarcam --raw" can be
piped straight in.

Example:
  zbarcam --raw | attendctl scan -b CSE_CORE_H --issue-every 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Batch, "batch", "b", "", "batch name (required)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "read payloads from this file instead of stdin")
	cmd.Flags().DurationVar(&opts.IssueEvery, "issue-every", 0, "also re-issue tokens on this interval while scanning")
	cmd.Flags().StringVar(&opts.TokenDir, "dir", rootOpts.Config.TokenDir, "directory for token images with --issue-every")
	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

// tally counts scan results by label.
type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *tally) ScanProcessed(_, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[result]++
}

func (t *tally) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	in := cmd.InOrStdin()
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "open input", err)
		}
		defer f.Close()
		in = f
	}

	repo, closeDB, err := opts.openRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := opts.logger(cmd)
	counts := &tally{counts: map[string]int{}}
	svc := attendance.NewService(repo, opts.Config.FreshnessWindow,
		attendance.WithServiceLogger(logger),
		attendance.WithServiceObserver(counts))

	engine, err := svc.NewSession(ctx, opts.Batch)
	if err != nil {
		if errors.Is(err, attendance.ErrEmptyRoster) || errors.Is(err, attendance.ErrEmptyTimetable) {
			return WrapExitError(ExitCommandError, "cannot start session", err)
		}
		return WrapExitError(ExitFailure, "cannot start session", err)
	}

	if opts.IssueEvery > 0 {
		sched, err := newScheduler(opts.RootOptions, repo, opts.Batch, opts.TokenDir, opts.IssueEvery, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return WrapExitError(ExitFailure, "start issuance", err)
		}
		defer sched.Stop()
	}

	opts.formatter(cmd).VerboseLog("scanning for %s; end input or press Ctrl-C to stop", opts.Batch)
	runErr := engine.Run(ctx, attendance.NewLineSource(in))

	summary := counts.snapshot()
	if err := opts.formatter(cmd).Success(summary, func(w io.Writer) {
		keys := make([]string, 0, len(summary))
		for k := range summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "Session for %s ended\n", opts.Batch)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %d\n", k, summary[k])
		}
	}); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "scan session failed", runErr)
	}
	return nil
}
