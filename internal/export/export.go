// Package export renders validation results as downloadable reports.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/PlanCheck/internal/model"
)

// Format names a report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const (
	summarySheet    = "Results"
	categoriesSheet = "Categories"
	listSeparator   = "; "
)

var header = []string{
	"file_id", "filename", "status", "score", "passed_criteria", "total_criteria",
	"processed_time", "issues", "recommendations", "strengths",
}

// ParseFormat accepts a format name case-insensitively; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, csv or xlsx)", s)
	}
}

// ContentType is the MIME type of the rendered report.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Extension is the file extension, without the dot.
func (f Format) Extension() string { return string(f) }

// Render encodes results in the requested format.
func Render(f Format, results []model.ValidationResult) ([]byte, error) {
	switch f {
	case FormatJSON:
		return renderJSON(results)
	case FormatCSV:
		return renderCSV(results)
	case FormatXLSX:
		return renderXLSX(results)
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
}

func renderJSON(results []model.ValidationResult) ([]byte, error) {
	if results == nil {
		results = []model.ValidationResult{}
	}
	data, err := json.MarshalIndent(struct {
		Results []model.ValidationResult `json:"results"`
	}{results}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json report: %w", err)
	}
	return append(data, '\n'), nil
}

func renderCSV(results []model.ValidationResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range results {
		if err := w.Write(row(r)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// renderXLSX writes a summary sheet plus one row per category.
func renderXLSX(results []model.ValidationResult) ([]byte, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	wb.SetSheetName(wb.GetSheetName(0), summarySheet)
	if err := setRow(wb, summarySheet, 1, toCells(header)); err != nil {
		return nil, err
	}
	for i, r := range results {
		cells := toCells(row(r))
		cells[3] = r.Score
		cells[4] = r.PassedCriteria
		cells[5] = r.TotalCriteria
		if err := setRow(wb, summarySheet, i+2, cells); err != nil {
			return nil, err
		}
	}

	if _, err := wb.NewSheet(categoriesSheet); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	if err := setRow(wb, categoriesSheet, 1, []interface{}{"file_id", "category", "passed", "total"}); err != nil {
		return nil, err
	}
	line := 2
	for _, r := range results {
		for _, c := range r.Categories {
			if err := setRow(wb, categoriesSheet, line, []interface{}{r.FileID, c.Name, c.Passed, c.Total}); err != nil {
				return nil, err
			}
			line++
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode xlsx report: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(wb *excelize.File, sheet string, line int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	if err := wb.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, line, err)
	}
	return nil
}

func row(r model.ValidationResult) []string {
	return []string{
		r.FileID,
		r.Filename,
		string(r.Status),
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		strconv.Itoa(r.PassedCriteria),
		strconv.Itoa(r.TotalCriteria),
		r.ProcessedTime,
		strings.Join(r.Issues, listSeparator),
		strings.Join(r.Recommendations, listSeparator),
		strings.Join(r.Strengths, listSeparator),
	}
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
