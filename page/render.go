package page

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"strings"
	texttemplate "text/template"
)

//go:embed templates static
var files embed.FS

// Renderer turns structured data into markup. It has no side effects.
type Renderer interface {
	Render(name string, data any) ([]byte, error)
}

// TemplateRenderer renders the embedded templates: *.html as HTML,
// everything else (assets/app.js) as plain text.
type TemplateRenderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	html, err := htmltemplate.ParseFS(files, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("page: parse html templates: %w", err)
	}
	text, err := texttemplate.ParseFS(files, "templates/assets/*.js")
	if err != nil {
		return nil, fmt.Errorf("page: parse script templates: %w", err)
	}
	return &TemplateRenderer{html: html, text: text}, nil
}

// Render executes the template called name ("article.html", "home.html", "assets/app.js").
func (r *TemplateRenderer) Render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	base := path.Base(name)

	var err error
	if strings.HasSuffix(name, ".html") {
		if r.html.Lookup(base) == nil {
			return nil, fmt.Errorf("page: no template %q", name)
		}
		err = r.html.ExecuteTemplate(&buf, base, data)
	} else {
		if r.text.Lookup(base) == nil {
			return nil, fmt.Errorf("page: no template %q", name)
		}
		err = r.text.ExecuteTemplate(&buf, base, data)
	}
	if err != nil {
		return nil, fmt.Errorf("page: render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// staticAssets returns the files copied verbatim into <build>/assets.
func staticAssets() (fs.FS, error) {
	return fs.Sub(files, "static")
}
