// Package web serves the embedded browser client.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist/*
var content embed.FS

// assetExts are never rewritten to index.html; a missing asset is a 404.
var assetExts = map[string]bool{
	".js": true, ".css": true, ".map": true, ".ico": true, ".png": true,
	".jpg": true, ".jpeg": true, ".webp": true, ".svg": true, ".woff2": true,
}

// Handler returns an http.Handler that serves the embedded SPA assets. Any
// other path gets index.html so client-side routes survive a reload.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}
	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}

	static := http.FileServer(http.FS(fsys))

	serveIndex := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(indexBytes)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if cleanPath == "" || cleanPath == "." || cleanPath == "index.html" {
			serveIndex(w)
			return
		}

		if _, err := fs.Stat(fsys, cleanPath); err == nil {
			static.ServeHTTP(w, r)
			return
		}
		if assetExts[strings.ToLower(path.Ext(cleanPath))] {
			http.NotFound(w, r)
			return
		}

		// Deep-link fallback.
		serveIndex(w)
	}), nil
}
