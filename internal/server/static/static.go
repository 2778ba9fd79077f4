// Package static serves the bundled editing UI.
package static

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"strings"
)

// Index is served for the base path.
const Index = "disco.xhtml"

//go:embed assets/*
var assets embed.FS

func init() {
	// Pin the asset types so host mime tables cannot change them.
	mime.AddExtensionType(".xhtml", "application/xhtml+xml; charset=utf-8")
	mime.AddExtensionType(".js", "text/javascript; charset=utf-8")
	mime.AddExtensionType(".css", "text/css; charset=utf-8")
}

// Assets returns the bundled files.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// Handler serves assets below prefix, which must end in a slash. The bare
// prefix serves Index.
func Handler(prefix string) http.Handler {
	files := http.FileServer(http.FS(Assets()))
	return http.StripPrefix(strings.TrimSuffix(prefix, "/"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.URL.Path == "" {
			r.URL.Path = "/" + Index
			r.URL.RawPath = ""
		}
		files.ServeHTTP(w, r)
	}))
}
