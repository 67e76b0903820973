package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/starford/keep/internal/models"
)

func extractPDF(path string) (info *models.ExtractedInfo, err error) {
	// The pdf reader panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, fmt.Errorf("pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return nil, err
	}
	body := strings.ToValidUTF8(buf.String(), "�")
	return &models.ExtractedInfo{Title: firstLine(body), Body: body}, nil
}

// firstLine returns the first non-blank line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
