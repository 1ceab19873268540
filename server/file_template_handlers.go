package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

//go:embed templates/*
var templateFiles embed.FS

const layoutTemplate = "layout.html"

// pageTemplates are the pages rendered inside the layout.
var pageTemplates = []string{
	"home.html",
	"about.html",
	"gallery.html",
	"coming_soon.html",
	"events.html",
	"event.html",
	"event_form.html",
	"dashboard.html",
}

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses a page together with the layout it renders into
func ParseTemplate(name string) (*template.Template, error) {
	return template.New(layoutTemplate).ParseFS(TemplateFilesFS(), layoutTemplate, name)
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageTemplates))
	for _, name := range pageTemplates {
		tmpl, err := ParseTemplate(name)
		if err != nil {
			return nil, fmt.Errorf("[parsePages] %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}
