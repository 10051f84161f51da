package objectstore

import (
	"mime"
	"path"
)

// markerContentType is stored on the zero-byte objects that stand for
// directories.
const markerContentType = "application/x-directory"

// contentType picks the Content-Type for the object at a root-relative path.
// Unknown extensions are left for S3 to default.
func contentType(p string) string {
	if ext := path.Ext(p); ext != "" {
		return mime.TypeByExtension(ext)
	}
	return ""
}
