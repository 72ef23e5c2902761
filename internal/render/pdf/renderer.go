// Package pdf renders generated documents to A4 PDFs.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/jonidaniel/jobsai/internal/job"
)

// Config controls page layout.
type Config struct {
	Font       string
	FontSize   float64
	LineHeight float64
	Margin     float64
}

// Renderer implements job.Renderer with fpdf core fonts.
type Renderer struct {
	cfg Config
}

// New returns a Renderer with defaults filled in.
func New(cfg Config) *Renderer {
	if cfg.Font == "" {
		cfg.Font = "Helvetica"
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = 11
	}
	if cfg.LineHeight <= 0 {
		cfg.LineHeight = 5.5
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 20
	}
	return &Renderer{cfg: cfg}
}

// Render lays out the title and the body paragraphs. Blank lines separate
// paragraphs.
func (r *Renderer) Render(ctx context.Context, doc job.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Body) == "" {
		return nil, errors.New("render: empty document body")
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(r.cfg.Margin, r.cfg.Margin, r.cfg.Margin)
	pdf.SetAutoPageBreak(true, r.cfg.Margin)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("jobsai", true)
	// Core fonts are cp1252; translate so Nordic characters survive.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if title := strings.TrimSpace(doc.Title); title != "" {
		pdf.SetFont(r.cfg.Font, "B", r.cfg.FontSize+3)
		pdf.MultiCell(0, r.cfg.LineHeight+2, tr(title), "", "L", false)
		pdf.Ln(r.cfg.LineHeight)
	}

	pdf.SetFont(r.cfg.Font, "", r.cfg.FontSize)
	for _, para := range paragraphs(doc.Body) {
		pdf.MultiCell(0, r.cfg.LineHeight, tr(para), "", "L", false)
		pdf.Ln(r.cfg.LineHeight / 2)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// paragraphs splits on blank lines and joins wrapped lines inside a paragraph.
func paragraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		lines := strings.Split(block, "\n")
		for i := range lines {
			lines[i] = strings.TrimSpace(lines[i])
		}
		if p := strings.TrimSpace(strings.Join(lines, "\n")); p != "" {
			out = append(out, p)
		}
	}
	return out
}
