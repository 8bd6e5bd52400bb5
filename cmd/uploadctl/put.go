package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/client"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

func newPutCmd(root *rootOptions) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "put FILE...",
		Short: "Upload one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, coord, err := root.coordinator()
			if err != nil {
				return err
			}

			orch := client.NewOrchestrator(coord,
				client.WithPartSize(cfg.Client.PartSize),
				client.WithPartConcurrency(cfg.Client.PartConcurrency),
				client.WithMaxRetries(cfg.Client.MaxRetries),
				client.WithAttemptTimeout(cfg.Client.AttemptTimeout),
				client.WithAbortOnFailure(cfg.Client.AbortOnPartError),
				client.WithLogger(logger),
			)
			p := newPrinter(cmd.OutOrStdout())
			mgr := client.NewManager(orch,
				client.WithFileConcurrency(cfg.Client.FileConcurrency),
				client.WithManagerLogger(logger),
				client.WithOnChange(p.change),
			)
			var files []*client.LocalFile
			defer func() { closeAll(mgr, files) }()

			for _, path := range args {
				f, err := client.OpenFile(path)
				if err != nil {
					return err
				}
				if contentType != "" {
					f = f.WithContentType(contentType)
				}
				files = append(files, f)
			}
			for _, f := range files {
				if _, err := mgr.Enqueue(f); err != nil {
					return err
				}
			}

			return put(ctx, mgr, p, len(files))
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "override the detected content type")
	return cmd
}

// put waits for every entry to settle and reports the outcome of each.
// closeAll stops the manager before releasing the files its workers read from.
func closeAll(mgr io.Closer, files []*client.LocalFile) {
	_ = mgr.Close()
	for _, f := range files {
		_ = f.Close()
	}
}

func put(ctx context.Context, mgr *client.Manager, p *printer, total int) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	done := make(chan error, 1)
	go func() { done <- mgr.Wait(ctx) }()

	for {
		select {
		case err := <-done:
			return p.summary(mgr.List(), total, err)
		case <-ticker.C:
			p.progress(mgr.List())
		}
	}
}

// printer writes one line per state change of each entry, plus periodic
// progress lines for running uploads.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[string]client.State
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, seen: make(map[string]client.State)}
}

func (p *printer) change(s client.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[s.ID] == s.State {
		return
	}
	p.seen[s.ID] = s.State

	switch s.State {
	case client.StateUploading:
		fmt.Fprintf(p.w, "%s: uploading %s\n", s.FileName, humanBytes(s.Size))
	case client.StateCompleted:
		fmt.Fprintf(p.w, "%s: done %s (%d parts, %d retries, %s)\n",
			s.FileName, s.Result.PublicURL, s.Result.Parts, s.Result.Retries, s.Result.Duration.Round(time.Millisecond))
	case client.StateFailed:
		fmt.Fprintf(p.w, "%s: failed: %v\n", s.FileName, s.Err)
	case client.StateCancelled:
		fmt.Fprintf(p.w, "%s: cancelled\n", s.FileName)
	}
}

func (p *printer) progress(list []client.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range list {
		if s.State != client.StateUploading || s.Size == 0 {
			continue
		}
		fmt.Fprintf(p.w, "%s: %5.1f%% %s/s\n",
			s.FileName, 100*float64(s.Acknowledged)/float64(s.Size), humanBytes(int64(s.Speed)))
	}
}

func (p *printer) summary(list []client.Snapshot, total int, waitErr error) error {
	if waitErr != nil {
		return waitErr
	}
	var failed int
	for _, s := range list {
		if s.State == client.StateFailed || s.State == client.StateCancelled {
			failed++
		}
	}
	if failed > 0 {
		return errors.NewError("put", errors.ErrPartUploadFailed).
			WithMessage(fmt.Sprintf("%d of %d uploads did not complete", failed, total))
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
