// Package web embeds the browser upload page and its assets.
package web

import (
	"embed"
	"io/fs"
	"mime"
	"path"
	"strings"
)

//go:embed index.html 401.html 404.html assets
var files embed.FS

// Asset returns the content and content type of an embedded file. name may
// carry a leading slash.
func Asset(name string) ([]byte, string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	content, err := fs.ReadFile(files, name)
	if err != nil {
		return nil, "", false
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return content, contentType, true
}

// MustAsset returns an embedded file that is known to exist
func MustAsset(name string) []byte {
	content, _, ok := Asset(name)
	if !ok {
		panic("web: missing embedded asset " + name)
	}
	return content
}
