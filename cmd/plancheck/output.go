package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dharsanguruparan/PlanCheck/internal/model"
	"github.com/dharsanguruparan/PlanCheck/internal/repository"
)

func printFiles(w io.Writer, files []model.FileRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tSTATUS\tERROR")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", f.ID, f.Name, f.Size, f.Status, f.Error)
	}
	tw.Flush()
}

func printStored(w io.Writer, files []model.StoredFile) {
	if len(files) == 0 {
		fmt.Fprintln(w, "no stored files")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tFILENAME\tSIZE\tUPLOADED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.FileID, f.Filename, f.Size, f.UploadTime)
	}
	tw.Flush()
}

func printResult(w io.Writer, r model.ValidationResult) {
	fmt.Fprintf(w, "%s (%s): %s, score %.0f%% (%d/%d criteria)\n",
		r.Filename, r.FileID, strings.ToUpper(string(r.Status)), r.Score*100, r.PassedCriteria, r.TotalCriteria)
	for _, c := range r.Categories {
		fmt.Fprintf(w, "  %-16s %d/%d\n", c.Name, c.Passed, c.Total)
	}
	printList(w, "issues", r.Issues)
	printList(w, "recommendations", r.Recommendations)
	printList(w, "strengths", r.Strengths)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "    - %s\n", item)
	}
}

func printEntries(w io.Writer, entries []repository.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no recorded validations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tFILE ID\tFILENAME\tSTATUS\tSCORE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), e.FileID, e.Filename, e.Status, e.Score)
	}
	tw.Flush()
}
