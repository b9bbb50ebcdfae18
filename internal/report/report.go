package report

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/stats"
	"github.com/fyrsmithlabs/insightd/internal/viz"
)

// Data is everything a report draws from. Stats, Charts, and Contexts are
// optional; the session is required. Narrative, when set, becomes the
// report's summary section.
type Data struct {
	Session   *session.Session
	Narrative string
	Stats     *stats.Result
	Charts    []viz.Chart
	Contexts  []memory.RetrievedContext
}

// Generator renders reports.
type Generator struct {
	logger   *logging.Logger
	markdown goldmark.Markdown
}

// NewGenerator creates a generator. A nil logger falls back to a no-op
// logger.
func NewGenerator(logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	return &Generator{
		logger: logger.Named("report"),
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

// HTML converts the markdown report into a standalone HTML page.
func (g *Generator) HTML(data Data) (string, error) {
	md, err := g.Markdown(data)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	if err := g.markdown.Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("convert report to html: %w", err)
	}

	title := html.EscapeString("Analysis Report: " + data.Session.Dataset)
	return fmt.Sprintf(pageTemplate, title, body.String()), nil
}

// Write renders both report forms into dir and returns their paths.
func (g *Generator) Write(ctx context.Context, data Data, dir string) (mdPath, htmlPath string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}

	md, err := g.Markdown(data)
	if err != nil {
		return "", "", err
	}
	page, err := g.HTML(data)
	if err != nil {
		return "", "", err
	}

	mdPath = filepath.Join(dir, "report.md")
	if err := os.WriteFile(mdPath, []byte(md), 0o600); err != nil {
		return "", "", fmt.Errorf("write markdown report: %w", err)
	}
	htmlPath = filepath.Join(dir, "report.html")
	if err := os.WriteFile(htmlPath, []byte(page), 0o600); err != nil {
		return "", "", fmt.Errorf("write html report: %w", err)
	}

	g.logger.Debug(ctx, "report written",
		zap.String("session_id", data.Session.ID),
		zap.String("markdown", mdPath),
		zap.String("html", htmlPath))
	return mdPath, htmlPath, nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 0.35rem 0.7rem; text-align: left; }
th { background: #f2f2f2; }
pre { background: #0b0e14; color: #d6e2ef; padding: 1rem; overflow-x: auto; border-radius: 6px; }
code { font-family: ui-monospace, monospace; }
h1, h2 { border-bottom: 1px solid #e2e2e2; padding-bottom: 0.3rem; }
</style>
</head>
<body>
%s</body>
</html>
`
