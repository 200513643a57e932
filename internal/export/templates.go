package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("document").Parse(documentTemplateHTML))

// TemplateData holds the rendered document.
type TemplateData struct {
	Title        string
	Citation     string
	Jurisdiction string
	DocType      string
	Status       string
	Summary      string
	BodyHTML     template.HTML
	AccountName  string
	Author       string
	UpdatedAt    time.Time
}

// RenderDocumentHTML renders the export template.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// bodyToHTML turns plain document text into paragraphs. Blank lines separate
// paragraphs; everything is escaped.
func bodyToHTML(body string) template.HTML {
	var buf strings.Builder
	for _, para := range splitParagraphs(body) {
		buf.WriteString("<p>")
		buf.WriteString(template.HTMLEscapeString(para))
		buf.WriteString("</p>\n")
	}
	return template.HTML(buf.String())
}

func splitParagraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var paragraphs []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paragraphs = append(paragraphs, strings.Join(strings.Fields(block), " "))
	}
	return paragraphs
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1a1a1a; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; margin-bottom: 0.25rem; }
    .citation { font-style: italic; color: #444; margin-bottom: 1rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .meta span + span::before { content: " \00b7 "; }
    .summary { background: #f5f5f5; padding: 1rem; border-left: 3px solid #333; margin-bottom: 2rem; }
    .body p { margin: 0 0 0.9rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Citation}}<div class="citation">{{.Citation}}</div>{{end}}
  <div class="meta">
    {{if .AccountName}}<span>{{.AccountName}}</span>{{end}}
    {{if .Jurisdiction}}<span>{{.Jurisdiction}}</span>{{end}}
    {{if .DocType}}<span>{{.DocType}}</span>{{end}}
    {{if .Status}}<span>{{.Status}}</span>{{end}}
    {{if .Author}}<span>{{.Author}}</span>{{end}}
    {{if not .UpdatedAt.IsZero}}<span>{{.UpdatedAt.Format "Jan 2, 2006"}}</span>{{end}}
  </div>
  {{if .Summary}}<div class="summary">{{.Summary}}</div>{{end}}
  <div class="body">{{.BodyHTML}}</div>
</body>
</html>`
