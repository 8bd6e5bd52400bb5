package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/bootstrap"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectkey"
	"github.com/input-output-hk/catalyst-forge-libs/upload/reclaimer"
)

func newReclaimCmd(root *rootOptions) *cobra.Command {
	var execute, allKeys bool

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Find and remove multipart uploads and objects no session accounts for",
		Long: "Lists in-progress multipart uploads and stored objects, compares them with " +
			"the session store, and reports orphans older than the grace window. " +
			"Nothing is removed unless --execute is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateReclaim(); err != nil {
				return err
			}

			src, err := bootstrap.CredentialSource(ctx, cfg.Store)
			if err != nil {
				return err
			}
			creds, err := src.Resolve(ctx)
			if err != nil {
				return err
			}
			s3c, err := bootstrap.S3Client(ctx, cfg.Store, creds)
			if err != nil {
				return err
			}
			sessions, err := bootstrap.OpenSessions(ctx, cfg.DB, logger)
			if err != nil {
				return err
			}
			defer sessions.Close()

			keys := objectkey.New(cfg.Upload.KeyPrefix)
			opts := []reclaimer.Option{
				reclaimer.WithPrefix(keys.Prefix()),
				reclaimer.WithGrace(cfg.Reclaim.Grace),
				reclaimer.WithStale(cfg.Reclaim.Stale),
				reclaimer.WithRate(cfg.Reclaim.Rate),
				reclaimer.WithExecute(execute),
				reclaimer.WithLogger(logger),
			}
			if !allKeys {
				opts = append(opts, reclaimer.WithKeyFilter(keys.Owns))
			}
			r, err := reclaimer.New(s3c, sessions.Store, cfg.Store.Bucket, opts...)
			if err != nil {
				return err
			}

			report, err := r.Run(ctx)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&execute, "execute", false, "abort and delete orphans instead of only reporting them")
	flags.BoolVar(&allKeys, "all-keys", false, "also consider keys under the prefix that the uploader did not generate")
	flags.Duration("grace", 0, "minimum orphan age")
	flags.Duration("stale", 0, "age after which an active session counts as abandoned")
	_ = root.v.BindPFlag("reclaim.grace", flags.Lookup("grace"))
	_ = root.v.BindPFlag("reclaim.stale", flags.Lookup("stale"))
	return cmd
}

func printReport(w io.Writer, r *reclaimer.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tKEY\tSESSION\tAGE\tRECLAIMED\tREASON")
	for _, c := range r.Candidates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			c.Kind, c.Key, c.SessionID, c.Age.Round(time.Minute), c.Reclaimed, c.Reason)
	}
	_ = tw.Flush()

	mode := "dry run"
	if !r.DryRun {
		mode = "executed"
	}
	fmt.Fprintf(w, "\n%s: scanned %d, candidates %d, aborted %d, deleted %d, sessions failed %d, errors %d\n",
		mode, r.Scanned, len(r.Candidates), r.Aborted, r.Deleted, r.SessionsFailed, len(r.Errors))
}
