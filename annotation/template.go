package annotation

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	texttemplate "text/template"

	"github.com/gin-gonic/gin"
	"github.com/russross/blackfriday/v2"
)

var (
	//go:embed templates/*
	templateFS embed.FS

	helpTemplate   = texttemplate.Must(texttemplate.New("help.md").Funcs(texttemplate.FuncMap{"i": i}).ParseFS(templateFS, "templates/help.md"))
	layoutTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html"))
)

// i is replaced per render with a localizer bound to the request
func i(messageID string) string {
	return messageID
}

// markdown converts text to HTML. Raw HTML in the source is dropped.
func markdown(text []byte) template.HTML {
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.SkipHTML,
	})
	return template.HTML(blackfriday.Run(text, blackfriday.WithRenderer(renderer)))
}

// RenderMarkdownPage executes the named markdown template with data and writes it as
// a standalone HTML page
func RenderMarkdownPage(ctx context.Context, w io.Writer, title string, data any) error {
	tmpl, err := helpTemplate.Clone()
	if err != nil {
		return err
	}
	tmpl.Funcs(texttemplate.FuncMap{"i": func(id string) string { return LocalizeWithContext(ctx, id) }})

	var md bytes.Buffer
	if err := tmpl.Execute(&md, data); err != nil {
		return fmt.Errorf("while rendering markdown: %w", err)
	}
	return layoutTemplate.Execute(w, map[string]any{
		"Lang":  LocalizeWithContext(ctx, "lang"),
		"Title": title,
		"Body":  markdown(md.Bytes()),
	})
}

// handleHelp renders the annotation guide of a dataset
func (a *App) handleHelp(c *gin.Context) {
	ds, err := a.Datasets.Get(c.Request.Context(), currentUser(c), c.Param("datasetId"))
	if err != nil {
		c.Error(err)
		status, message := statusOf(err), localize(c, "internal_error")
		if status == http.StatusNotFound {
			message = localize(c, "not_found")
		}
		c.String(status, message)
		return
	}
	title := fmt.Sprintf("%s: %s", localize(c, "help_title"), ds.Name)

	var page bytes.Buffer
	if err := RenderMarkdownPage(c.Request.Context(), &page, title, ds); err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, localize(c, "internal_error"))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page.Bytes())
}
