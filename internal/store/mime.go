package store

import "os"

func currentUID() int {
	return os.Getuid()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// commonExtensions covers the mime types object-store activities write
// most often; anything else falls back to no extension.
var commonExtensions = map[string]string{
	"text/plain":       ".txt",
	"text/html":        ".html",
	"text/csv":         ".csv",
	"application/pdf":  ".pdf",
	"application/json": ".json",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/svg+xml":    ".svg",
	"audio/ogg":        ".ogg",
	"video/ogg":        ".ogv",
}

func extensionForMimeType(mime string) string {
	return commonExtensions[mime]
}
