// Package export renders a conversation transcript to PDF. The transcript is
// laid out as markdown, converted to HTML, and printed through headless
// Chromium.
package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/optichem/lenschat/internal/chatstore"
)

// Renderer turns a complete HTML document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

type Exporter struct {
	renderer Renderer
}

func New(renderer Renderer) *Exporter {
	return &Exporter{renderer: renderer}
}

// Export builds the transcript document for one conversation and renders it.
// Summary messages are internal bookkeeping and are left out.
func (e *Exporter) Export(ctx context.Context, conversationID string, messages []chatstore.Message) ([]byte, error) {
	md := BuildMarkdown(conversationID, messages)
	htmlDoc, err := buildHTML(conversationID, md)
	if err != nil {
		return nil, err
	}
	return e.renderer.Render(ctx, htmlDoc)
}

// BuildMarkdown lays the transcript out as a markdown document, one section
// per turn with the speaker and timestamp as the heading.
func BuildMarkdown(conversationID string, messages []chatstore.Message) string {
	var b strings.Builder
	b.WriteString("# Conversation Transcript\n\n")
	b.WriteString("Conversation ID: `" + conversationID + "`\n")
	for _, m := range messages {
		if m.Role == chatstore.RoleSummary {
			continue
		}
		speaker := m.Username
		if m.Role == chatstore.RoleAssistant {
			speaker = "Assistant"
		}
		b.WriteString("\n## " + speaker + " (" + m.Timestamp.Format("2006-01-02 15:04:05 MST") + ")\n\n")
		b.WriteString(m.Content + "\n")
	}
	return b.String()
}

func buildHTML(conversationID, markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}

	return "<!doctype html><html><head><meta charset='utf-8'><title>" +
		html.EscapeString("Conversation "+conversationID) + "</title>" +
		"<style>" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		"body{font-family:Georgia,serif;color:#1c1917;background:#fff;padding:0.6rem;line-height:1.5;} " +
		".transcript{max-width:820px;margin:0 auto;} " +
		".transcript h1{font-size:1.4rem;border-bottom:2px solid #92400e;padding-bottom:0.3rem;} " +
		".transcript h2{font-size:1rem;color:#78350f;margin-top:1.2rem;} " +
		".transcript code{background:#f5f5f4;padding:0.1rem 0.25rem;font-size:0.85em;} " +
		".transcript table{width:100% !important;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.8rem;} " +
		".transcript th,.transcript td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;} " +
		"@media print{ @page{size:auto;margin:12mm;} body{padding:0;} }" +
		"</style></head><body>" +
		"<div class='transcript'>" + content.String() + "</div>" +
		"</body></html>", nil
}

type ChromiumRenderer struct {
	chromePath string
}

func NewChromiumRenderer() *ChromiumRenderer {
	return &ChromiumRenderer{chromePath: detectChromePath()}
}

func (r *ChromiumRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;padding-right:8px;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.45).
				WithMarginRight(0.45).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
