package pdfutil

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// Magic is the signature every PDF file starts with.
const Magic = "%PDF-"

// Info summarizes a PDF before it is sent for validation.
type Info struct {
	Pages     int
	TextPages int
	Text      string
}

// Preview returns at most n runes of the extracted text on a single line.
func (i Info) Preview(n int) string {
	flat := strings.Join(strings.Fields(i.Text), " ")
	if utf8.RuneCountInString(flat) <= n {
		return flat
	}
	runes := []rune(flat)
	return string(runes[:n]) + "..."
}

// IsPDF reports whether data carries the PDF signature.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Inspect reads PDF bytes with ledongthuc/pdf and returns page and text
// statistics. Pages whose text cannot be decoded are counted but skipped.
func Inspect(data []byte) (Info, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("new pdf reader: %w", err)
	}
	var (
		info    Info
		builder strings.Builder
	)
	info.Pages = doc.NumPage()
	for page := 1; page <= info.Pages; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		info.TextPages++
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	info.Text = strings.TrimSpace(builder.String())
	return info, nil
}

// InspectReader drains the reader before passing along to Inspect.
func InspectReader(r io.Reader) (Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("read pdf: %w", err)
	}
	return Inspect(data)
}
