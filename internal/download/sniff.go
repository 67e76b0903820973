package download

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// guessFromURL guesses a media type from the URL path extension, defaulting
// to text/html for extensionless pages.
func guessFromURL(u *url.URL) string {
	ext := path.Ext(u.Path)
	if ext == "" {
		return "text/html"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return baseType(t)
	}
	return "text/html"
}

// guessFromPath guesses a media type for a local file.
func guessFromPath(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return baseType(t)
	}
	return "application/octet-stream"
}

// sniff inspects the leading bytes of the file and returns the detected type
// when it is more specific than guess.
func sniff(p, guess string) string {
	m, err := mimetype.DetectFile(p)
	if err != nil {
		return guess
	}
	detected := baseType(m.String())
	switch {
	case detected == "application/octet-stream":
		return guess
	case detected == "text/plain" && strings.HasPrefix(guess, "text/"):
		return guess
	}
	return detected
}

// baseType strips parameters such as charset from a media type.
func baseType(t string) string {
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		mt, _, _ = strings.Cut(t, ";")
		return strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}
