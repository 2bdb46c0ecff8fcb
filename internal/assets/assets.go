// Package assets embeds the page templates and the browser client.
package assets

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

//go:embed templates/*.html
var templateFS embed.FS

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetClientJS returns the browser JavaScript
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/portal.js")
}

// GetClientCSS returns the stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/portal.css")
}

// Templates parses the page templates. funcs is added before parsing so
// templates may call the functions.
func Templates(funcs template.FuncMap) (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}
