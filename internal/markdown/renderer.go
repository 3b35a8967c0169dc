// Package markdown renders assistant answers to HTML for the chat client.
package markdown

import (
	"bytes"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts model output to HTML. Raw HTML in the input is escaped,
// since answers echo document text the user does not control.
type Renderer struct {
	md goldmark.Markdown
}

func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	return &Renderer{md: md}
}

// Render converts Markdown to HTML.
func (r *Renderer) Render(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderAnswer renders an answer string; blank answers render to "".
func (r *Renderer) RenderAnswer(answer string) (string, error) {
	if strings.TrimSpace(answer) == "" {
		return "", nil
	}
	out, err := r.Render([]byte(answer))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
