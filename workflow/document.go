package workflow

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/researchflow/researchflow/types"
)

// reportTemplate renders the final deliverable: a self-contained HTML
// page with the executive summary up front and the full report below.
const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; color: #222; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
.meta { color: #666; font-size: 0.9rem; margin-bottom: 2rem; }
.summary { background: #f5f7fa; border-left: 4px solid #3b6ea5; padding: 1rem 1.5rem; margin-bottom: 2rem; }
.summary h2 { margin-top: 0; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="meta">Generated {{.GeneratedAt}} &middot; workflow {{.WorkflowID}}</div>
{{if .Summary}}<div class="summary">
<h2>Executive Summary</h2>
{{.Summary}}
</div>{{end}}
<article>
{{.Body}}
</article>
</body>
</html>
`

// Renderer turns completed records into report documents.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates a report renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		tmpl: template.Must(template.New("report").Parse(reportTemplate)),
	}
}

type reportData struct {
	Title       string
	WorkflowID  string
	GeneratedAt string
	Summary     template.HTML
	Body        template.HTML
}

// RenderHTML renders the record's final report as HTML bytes.
func (r *Renderer) RenderHTML(rec *WorkflowRecord) ([]byte, error) {
	body := rec.Artifact(ArtifactFinalReport)
	if body == "" {
		body = rec.Artifact(ArtifactDraft)
	}
	if body == "" {
		return nil, types.NewError(types.ErrValidation, "record has no report artifact to render")
	}

	data := reportData{
		Title:       rec.Topic,
		WorkflowID:  rec.ID,
		GeneratedAt: time.Now().UTC().Format("2006-01-02 15:04 UTC"),
		Summary:     markdownToHTML(rec.Artifact(ArtifactSummary)),
		Body:        markdownToHTML(body),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDocument writes the HTML report plus the raw Markdown next to it
// and returns the HTML file path.
func (r *Renderer) WriteDocument(rec *WorkflowRecord, outputDir string) (string, error) {
	html, err := r.RenderHTML(rec)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(outputDir, rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.NewError(types.ErrResource, "failed to create output directory").WithCause(err)
	}

	htmlPath := filepath.Join(dir, "report.html")
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return "", types.NewError(types.ErrResource, "failed to write report").WithCause(err)
	}

	md := rec.Artifact(ArtifactFinalReport)
	if md == "" {
		md = rec.Artifact(ArtifactDraft)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(md), 0o644); err != nil {
		return "", types.NewError(types.ErrResource, "failed to write markdown report").WithCause(err)
	}

	return htmlPath, nil
}

// markdownToHTML performs a minimal, escaping-safe conversion: ATX
// headings become h1-h4 and blank-line-separated runs become
// paragraphs. The report is AI-formatted Markdown; full CommonMark
// fidelity is not a goal of the deliverable.
func markdownToHTML(md string) template.HTML {
	if strings.TrimSpace(md) == "" {
		return ""
	}

	var sb strings.Builder
	var para []string

	flush := func() {
		if len(para) == 0 {
			return
		}
		sb.WriteString("<p>")
		sb.WriteString(template.HTMLEscapeString(strings.Join(para, " ")))
		sb.WriteString("</p>\n")
		para = para[:0]
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}

		level := 0
		for level < len(trimmed) && level < 4 && trimmed[level] == '#' {
			level++
		}
		if level > 0 && level < len(trimmed) && trimmed[level] == ' ' {
			flush()
			text := template.HTMLEscapeString(strings.TrimSpace(trimmed[level:]))
			fmt.Fprintf(&sb, "<h%d>%s</h%d>\n", level, text, level)
			continue
		}

		para = append(para, trimmed)
	}
	flush()

	return template.HTML(sb.String())
}
