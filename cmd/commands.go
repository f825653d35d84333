package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/helper"
	"document-qa/internal/session"
	"document-qa/internal/tui"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Index a document and persist the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				pages, chunks, err := a.pipeline.Prepare(args[0])
				if err != nil {
					return err
				}
				log.Info().Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("Parsed content")
				helper.PrettyPrint(cmd.OutOrStdout(), chunks)
				return nil
			}

			_, report, err := a.pipeline.Ingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d pages, %d chunks in %s\n",
				report.Source, report.Pages, report.Chunks, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and chunk only, print the chunks")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the persisted index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			index, err := a.pipeline.Open(cmd.Context())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			answer, err := a.pipeline.Ask(cmd.Context(), index, query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", answer.Question)
			log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", answer.SourceSummary())
			log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", answer.Text)
			return nil
		},
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		file        string
		resume      bool
		metricsAddr string
		logFile     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat about a document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// the TUI owns the terminal, so logs go to a file
			f, err := tea.LogToFile(logFile, "docqa")
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			setupLogger(f, opts.cfg.Log)

			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr)
				defer stop()
			}

			s, err := session.New(a.pipeline, session.WithUploadDir(opts.cfg.Storage.UploadDir))
			if err != nil {
				return err
			}
			if resume {
				if err := s.Resume(ctx); err != nil {
					log.Warn().Err(err).Msg("no persisted index to resume")
				}
			}
			if file != "" {
				if _, err := s.Upload(ctx, file); err != nil {
					return err
				}
			}
			return tui.Run(ctx, s)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "PDF to upload before the chat starts")
	cmd.Flags().BoolVar(&resume, "resume", false, "start from the persisted index")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().StringVar(&logFile, "log-file", "docqa.log", "where logs go while the chat is open")
	return cmd
}

// serveMetrics exposes /metrics until the returned stop function is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
