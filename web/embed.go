package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
)

//go:embed static
var content embed.FS

// StaticFS returns the embedded frontend assets rooted at static/.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-filesystem: %v", err)
	}
	return http.FS(sub)
}
