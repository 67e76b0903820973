package extract

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/keep/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// markdownExts are treated as Markdown even when sniffed as plain text.
var markdownExts = map[string]bool{".md": true, ".markdown": true, ".mdown": true}

func isMarkdown(mediaType, path string) bool {
	if mediaType == "text/markdown" || mediaType == "text/x-markdown" {
		return true
	}
	return mediaType == "text/plain" && markdownExts[strings.ToLower(filepath.Ext(path))]
}

// extractMarkdown takes the title from front matter or the first H1 and
// indexes front matter tags, inline #tags and [[wikilink]] targets as extra
// text.
func extractMarkdown(path string) (*models.ExtractedInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fm, body := splitFrontmatter(data)

	info := &models.ExtractedInfo{
		Title: deriveTitle(fm, body),
		Body:  strings.ToValidUTF8(body, "�"),
	}
	extra := append(extractTags(body, fm), extractLinks(body)...)
	if len(extra) > 0 {
		s := strings.Join(extra, " ")
		info.Extra = &s
	}
	return info, nil
}

// splitFrontmatter separates YAML front matter (between leading ---
// delimiters) from the body. Without valid front matter the whole content is
// body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// extractLinks returns deduplicated wikilink targets, dropping aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target, _, _ := strings.Cut(m[1], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractTags collects the front matter "tags" list followed by inline #tags.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if list, ok := fm["tags"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				add(strings.TrimSpace(s))
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the front matter "title", else the first H1 heading,
// else "".
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
