package stubbackend

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
	pdfutil "github.com/dharsanguruparan/PlanCheck/internal/pdf"
)

var acceptedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".xlsx": true,
}

type criterion struct {
	category       string
	passed         bool
	issue          string
	recommendation string
	strength       string
}

// DefaultValidate checks only what a stub can check: the file type and
// whether any text can be read from it.
func DefaultValidate(doc Document) (backend.ValidationPayload, error) {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	checks := []criterion{
		{
			category:       "Format",
			passed:         acceptedExtensions[ext],
			issue:          fmt.Sprintf("unsupported file type %q", ext),
			recommendation: "submit the plan as PDF, DOCX, XLSX or TXT",
			strength:       "accepted file type",
		},
		{
			category:       "Format",
			passed:         doc.Size > 0,
			issue:          "file is empty",
			recommendation: "re-export the document",
			strength:       "file has content",
		},
	}
	checks = append(checks, contentChecks(doc, ext)...)
	return summarize(doc.Filename, checks), nil
}

func contentChecks(doc Document, ext string) []criterion {
	if ext == ".pdf" || pdfutil.IsPDF(doc.Data) {
		info, err := pdfutil.Inspect(doc.Data)
		return []criterion{
			{
				category:       "Content",
				passed:         err == nil && info.Pages > 0,
				issue:          "PDF could not be opened",
				recommendation: "check that the PDF is not corrupted or encrypted",
				strength:       "PDF opens cleanly",
			},
			{
				category:       "Content",
				passed:         err == nil && info.TextPages > 0,
				issue:          "no selectable text found",
				recommendation: "export the plan with text layers instead of scanned images",
				strength:       "text is machine readable",
			},
		}
	}
	return []criterion{{
		category:       "Content",
		passed:         ext == ".txt" && utf8.Valid(doc.Data),
		issue:          "content could not be read as text",
		recommendation: "provide a text-based version of the document",
		strength:       "text is machine readable",
	}}
}

func summarize(filename string, checks []criterion) backend.ValidationPayload {
	out := backend.ValidationPayload{
		Filename:        filename,
		Issues:          []string{},
		Recommendations: []string{},
		Strengths:       []string{},
	}
	index := map[string]int{}
	for _, c := range checks {
		i, ok := index[c.category]
		if !ok {
			i = len(out.Categories)
			index[c.category] = i
			out.Categories = append(out.Categories, model.Category{Name: c.category})
		}
		out.Categories[i].Total++
		out.TotalCriteria++
		if c.passed {
			out.Categories[i].Passed++
			out.PassedCriteria++
			out.Strengths = append(out.Strengths, c.strength)
			continue
		}
		out.Issues = append(out.Issues, c.issue)
		out.Recommendations = append(out.Recommendations, c.recommendation)
	}
	if out.TotalCriteria > 0 {
		out.Score = float64(out.PassedCriteria) / float64(out.TotalCriteria)
	}
	switch {
	case out.PassedCriteria == out.TotalCriteria:
		out.Status = "passed"
	case out.PassedCriteria == 0:
		out.Status = "failed"
	default:
		out.Status = "partial"
	}
	return out
}
