// ABOUTME: Report download endpoint serving archived markdown or rendered HTML
// ABOUTME: Markdown is converted with goldmark when ?format=html is requested

package gateway

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/research-gateway/internal/archive"
)

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
<style>
body { max-width: 48rem; margin: 2rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.6; }
pre, code { background: #f4f4f4; }
pre { padding: 0.75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ddd; padding: 0.25rem 0.5rem; }
</style>
</head>
<body>
{{.Content}}
</body>
</html>
`))

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// handleReport handles GET /api/reports/{filename}. The archived file is
// returned as markdown, or as an HTML page with ?format=html.
func (g *Gateway) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if name == "" {
		g.sendJSONError(w, http.StatusNotFound, "Report not found")
		return
	}

	data, err := g.conversation.RawReport(r.Context(), name)
	if errors.Is(err, archive.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		g.sendStoreError(w, "read report", err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		g.writeReportHTML(w, name, data)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(data)
}

func (g *Gateway) writeReportHTML(w http.ResponseWriter, name string, data []byte) {
	var body bytes.Buffer
	if err := markdown.Convert(data, &body); err != nil {
		g.logger.Error("failed to convert report markdown", "report", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	var page bytes.Buffer
	err := reportPage.Execute(&page, struct {
		Name    string
		Content template.HTML
	}{
		Name:    name,
		Content: template.HTML(body.String()),
	})
	if err != nil {
		g.logger.Error("failed to render report page", "report", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page.Bytes())
}
