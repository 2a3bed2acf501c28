package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PlanCheck/internal/database"
	"github.com/dharsanguruparan/PlanCheck/internal/export"
	"github.com/dharsanguruparan/PlanCheck/internal/queue"
	"github.com/dharsanguruparan/PlanCheck/internal/repository"
	"github.com/dharsanguruparan/PlanCheck/internal/s3storage"
)

// history opens the result repository. The returned func closes the pool.
func (a *app) history(ctx context.Context) (*repository.ResultRepository, func(), error) {
	if a.cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := database.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repository.NewResultRepository(pool), pool.Close, nil
}

func newEnqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <file_id...>",
		Short: "Queue stored files for validation by the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     a.cfg.RedisAddr,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			})
			defer client.Close()
			out := cmd.OutOrStdout()
			var failed int
			for _, id := range args {
				taskID, err := queue.EnqueueValidate(cmd.Context(), client, queue.ValidatePayload{FileID: id})
				switch {
				case errors.Is(err, queue.ErrAlreadyQueued):
					fmt.Fprintf(out, "%s\talready queued\n", id)
				case err != nil:
					failed++
					fmt.Fprintf(out, "%s\terror: %v\n", id, err)
				default:
					fmt.Fprintf(out, "%s\tqueued as %s\n", id, taskID)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be queued", failed, len(args))
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded validations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := a.history(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			entries, err := repo.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries (0 for all)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format  string
		outPath string
		limit   int
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded validations as JSON, CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if outPath == "" && !publish {
				return errors.New("nothing to do: pass --out and/or --publish")
			}
			repo, closeDB, err := a.history(ctx)
			if err != nil {
				return err
			}
			defer closeDB()
			entries, err := repo.List(ctx, limit)
			if err != nil {
				return err
			}
			data, err := export.Render(f, repository.Results(entries))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outPath != "" {
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(out, "%d results written to %s\n", len(entries), outPath)
			}
			if publish {
				store, err := s3storage.New(a.cfg)
				if err != nil {
					return err
				}
				if err := store.EnsureBucket(ctx); err != nil {
					return err
				}
				key, link, err := store.Publish(ctx, time.Now(), f.Extension(), data, f.ContentType())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "uploaded s3://%s/%s\n%s\n", store.Bucket(), key, link)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Report format: json, csv or xlsx")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the report to this path")
	cmd.Flags().IntVar(&limit, "limit", 0, "Export only the newest N results (0 for all)")
	cmd.Flags().BoolVar(&publish, "publish", false, "Upload the report to object storage and print a presigned link")
	return cmd
}
