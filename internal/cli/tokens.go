package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/cloudinary"
	"github.com/Shauryam-singh/Advance-Attendance/internal/issuance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/tokenstore"
)

// TokensOptions holds flags for tokens issue.
type TokensOptions struct {
	*RootOptions
	Batch    string
	Dir      string
	Watch    bool
	Interval time.Duration
}

// NewTokensCommand creates the tokens command group.
func NewTokensCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokensOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Issue QR attendance tokens",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Write a fresh QR token image for every student in the batch",
		Long: `Write a fresh QR token image for every student in the batch, under
<dir>/<batch>/<student-id>.png. With --watch the tokens are re-issued every
--interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueTokens(opts, cmd)
		},
	}
	issue.Flags().StringVarP(&opts.Batch, "batch", "b", "", "batch name (required)")
	issue.Flags().StringVar(&opts.Dir, "dir", rootOpts.Config.TokenDir, "directory for token images")
	issue.Flags().BoolVar(&opts.Watch, "watch", false, "keep re-issuing until interrupted")
	issue.Flags().DurationVar(&opts.Interval, "interval", rootOpts.Config.IssueInterval, "re-issue interval with --watch")
	_ = issue.MarkFlagRequired("batch")
	cmd.AddCommand(issue)

	return cmd
}

func issueTokens(opts *TokensOptions, cmd *cobra.Command) error {
	repo, closeDB, err := opts.openRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	logger := opts.logger(cmd)
	sched, err := newScheduler(opts.RootOptions, repo, opts.Batch, opts.Dir, opts.Interval, logger)
	if err != nil {
		return err
	}

	if !opts.Watch {
		n, err := sched.IssueAll(cmd.Context())
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("issued %d tokens", n), err)
		}
		return opts.formatter(cmd).Success(map[string]any{"batch": opts.Batch, "issued": n}, func(w io.Writer) {
			fmt.Fprintf(w, "Issued %d tokens for %s\n", n, opts.Batch)
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := sched.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "start issuance", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Issuing tokens for %s every %s. Press Ctrl-C to stop.\n", opts.Batch, opts.Interval)
	<-ctx.Done()
	sched.Stop()
	return nil
}

// newScheduler builds an issuance scheduler that reloads the roster from
// the database on every round.
func newScheduler(opts *RootOptions, repo *attendance.Repository, batch, dir string, interval time.Duration, logger *slog.Logger) (*issuance.Scheduler, error) {
	var cloud *cloudinary.Client
	if opts.Config.CloudinaryEnabled() {
		cfg := opts.Config
		cloud = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	_, sink, err := tokenstore.ForBatch(dir, batch, cloud)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "token storage", err)
	}
	src := issuance.RosterFunc(func(ctx context.Context) ([]roster.Student, error) {
		return repo.Roster(ctx, batch)
	})
	return issuance.New(batch, src, tokenstore.QRRenderer{Size: opts.Config.TokenImageSize}, sink,
		issuance.WithInterval(interval),
		issuance.WithLogger(logger),
	), nil
}
