package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the HTML pages served by the form handler.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}
