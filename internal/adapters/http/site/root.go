// Package site serves the browser upload page.
package site

import (
	"context"
	"net/http"
)

// Register attaches the embedded upload page and its assets to mux.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("/", http.FileServer(FS()))
}
