package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PlanCheck/internal/controller"
	"github.com/dharsanguruparan/PlanCheck/internal/export"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
	pdfutil "github.com/dharsanguruparan/PlanCheck/internal/pdf"
)

var errSomeFailed = errors.New("one or more files failed")

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file...>",
		Short: "Upload files and print the ids the backend assigned",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := sourcesFrom(args)
			if err != nil {
				return err
			}
			ctrl := a.controller()
			defer ctrl.Close()
			if _, err := ctrl.SubmitFiles(cmd.Context(), sources); err != nil {
				return err
			}
			ctrl.Wait()
			files := ctrl.Files()
			printFiles(cmd.OutOrStdout(), files)
			return anyFailed(files)
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "validate <file_id>",
		Short: "Validate a file already stored on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			payload, err := a.client().Validate(ctx, args[0])
			if err != nil {
				return err
			}
			result := payload.Result(args[0])
			printResult(cmd.OutOrStdout(), result)
			if !save {
				return nil
			}
			repo, closeDB, err := a.history(ctx)
			if err != nil {
				return err
			}
			defer closeDB()
			return repo.SaveResult(ctx, result)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Record the result in the history database")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		save    bool
		outPath string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "run <file...>",
		Short: "Upload files, validate every successful upload and print a summary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			sources, err := sourcesFrom(args)
			if err != nil {
				return err
			}
			var opts []controller.Option
			if save {
				repo, closeDB, err := a.history(ctx)
				if err != nil {
					return err
				}
				defer closeDB()
				opts = append(opts, controller.WithResultSink(repo))
			}
			ctrl := a.controller(opts...)
			defer ctrl.Close()

			if _, err := ctrl.SubmitFiles(ctx, sources); err != nil {
				return err
			}
			ctrl.Wait()
			for _, rec := range ctrl.Files() {
				if rec.Status != model.StatusUploaded {
					continue
				}
				if err := ctrl.StartValidation(ctx, rec.ID); err != nil {
					a.logger.Sugar().Warnf("skip %s: %v", rec.Name, err)
				}
			}
			ctrl.Wait()

			out := cmd.OutOrStdout()
			files := ctrl.Files()
			printFiles(out, files)
			for _, r := range ctrl.Results() {
				fmt.Fprintln(out)
				printResult(out, r)
			}
			if outPath != "" {
				data, err := export.Render(f, ctrl.Results())
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(out, "\nreport written to %s\n", outPath)
			}
			return anyFailed(files)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Record results in the history database")
	cmd.Flags().StringVar(&outPath, "export", "", "Write the results report to this path")
	cmd.Flags().StringVar(&format, "format", "json", "Report format: json, csv or xlsx")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List files already stored on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.client().List(cmd.Context())
			if err != nil {
				return err
			}
			printStored(cmd.OutOrStdout(), files)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file_id>",
		Short: "Delete a stored file on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	var previewLen int
	cmd := &cobra.Command{
		Use:   "inspect <file.pdf>",
		Short: "Show page count and a text preview of a PDF before uploading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := pdfutil.InspectReader(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pages:       %d\n", info.Pages)
			fmt.Fprintf(out, "text pages:  %d\n", info.TextPages)
			if preview := info.Preview(previewLen); preview != "" {
				fmt.Fprintf(out, "preview:     %s\n", preview)
			}
			if info.TextPages == 0 {
				fmt.Fprintln(out, "warning: no selectable text; validation will likely report it")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&previewLen, "preview", 200, "Number of characters of text to show")
	return cmd
}

func sourcesFrom(paths []string) ([]controller.FileSource, error) {
	sources := make([]controller.FileSource, 0, len(paths))
	for _, p := range paths {
		src, err := controller.FromPath(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func anyFailed(files []model.FileRecord) error {
	var names []string
	for _, f := range files {
		if f.Status == model.StatusFailed {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", errSomeFailed, strings.Join(names, ", "))
}
