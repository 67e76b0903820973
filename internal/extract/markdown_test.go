package extract

import (
	"context"
	"testing"

	"github.com/starford/keep/internal/models"
)

func TestExtractMarkdown_FrontmatterAndBody(t *testing.T) {
	blob := blobFile(t, "note.md",
		"---\ntitle: Hello\ntags:\n  - go\n  - notes\n---\n# Hello\nBody text about [[XDP sockets|sockets]] #kernel.\n",
		"text/plain; charset=utf-8")

	info, err := New(nil).Extract(context.Background(), testItem, blob)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if info.Title != "Hello" {
		t.Errorf("title = %q, want Hello", info.Title)
	}
	if info.Body != "# Hello\nBody text about [[XDP sockets|sockets]] #kernel.\n" {
		t.Errorf("body = %q", info.Body)
	}
	if got := models.Deref(info.Extra); got != "go notes kernel XDP sockets" {
		t.Errorf("extra = %q", got)
	}
}

func TestExtractMarkdown_ByMediaType(t *testing.T) {
	blob := blobFile(t, "readme", "# Just a heading\nSome text.\n", "text/markdown")
	info, err := New(nil).Extract(context.Background(), testItem, blob)
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "Just a heading" || info.Extra != nil {
		t.Errorf("info = %+v", info)
	}
}

func TestExtractMarkdown_PlainTextUntouched(t *testing.T) {
	blob := blobFile(t, "notes.txt", "# not markdown\n", "text/plain")
	info, err := New(nil).Extract(context.Background(), testItem, blob)
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "" {
		t.Errorf("plain text got a title: %q", info.Title)
	}
}

func TestSplitFrontmatter_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	fm, body := splitFrontmatter(input)
	if fm != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if body != string(input) {
		t.Errorf("body = %q", body)
	}
}

func TestSplitFrontmatter_Unterminated(t *testing.T) {
	input := []byte("---\ntitle: x\nno closing fence")
	if fm, body := splitFrontmatter(input); fm != nil || body != string(input) {
		t.Errorf("fm = %v, body = %q", fm, body)
	}
}

func TestExtractLinks(t *testing.T) {
	links := extractLinks("See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again. [[ ]] [[|x]]")
	if len(links) != 2 || links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{"tags": []any{"alpha"}}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := deriveTitle(map[string]any{"title": "FM Title"}, "# H1 Title\ntext"); got != "FM Title" {
		t.Errorf("title = %q, want FM Title", got)
	}
	if got := deriveTitle(nil, "some text\n# My Heading\nmore"); got != "My Heading" {
		t.Errorf("title = %q, want My Heading", got)
	}
}
