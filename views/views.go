// Package views renders the shell's pages from embedded templates.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/upb/entra-shell/claims"
	"github.com/upb/entra-shell/shell"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names.
const (
	PageHome     = "home"
	PageLogin    = "login"
	PageProfile  = "profile"
	PageNotFound = "notfound"
)

// Page is the data every page renders.
type Page struct {
	Title string
	State shell.DisplayState
	// Framed pages are loaded inside an iframe and render without the page outlet.
	Framed bool

	Profile      *claims.Profile
	GraphProfile map[string]interface{}
	ProfileError string
}

// Views holds one parsed template set per page.
type Views struct {
	pages map[string]*template.Template
}

// New parses the embedded templates.
func New() (*Views, error) {
	v := &Views{pages: make(map[string]*template.Template)}
	for _, name := range []string{PageHome, PageLogin, PageProfile, PageNotFound} {
		t, err := template.New("layout.html").ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// Render writes page name with the given status.
func (v *Views) Render(w http.ResponseWriter, status int, name string, page Page) error {
	t, ok := v.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, page); err != nil {
		return fmt.Errorf("rendering %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
