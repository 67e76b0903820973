package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/keep/internal/models"
)

// run executes the CLI against a config rooted in a temp data dir and
// returns what the command printed.
func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	defer func() { stdout = prev }()

	argv := append([]string{"keep", "--config", configPath}, args...)
	err := newCommand().Run(context.Background(), argv)
	return buf.String(), err
}

func testConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("app:\n  log_level: ERROR\ndata:\n  dir: %s\ndownload:\n  tool: none\n", filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func addItem(t *testing.T, cfg string, args ...string) models.Item {
	t.Helper()
	out, err := run(t, cfg, append([]string{"add"}, args...)...)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var item models.Item
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("decode add output %q: %v", out, err)
	}
	return item
}

func TestAddListSearch(t *testing.T) {
	cfg := testConfigFile(t)

	item := addItem(t, cfg, "--tag", "kernel", "--comment", "fast path", "Accelerating", "networking", "with", "AF_XDP")
	if item.Name != "Accelerating networking with AF_XDP" {
		t.Errorf("name = %q", item.Name)
	}
	addItem(t, cfg, "Gardening tips")

	out, err := run(t, cfg, "list", "--tag", "kernel")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, item.ID) || strings.Contains(out, "Gardening") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, cfg, "search", "AF_XDP")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, item.ID) {
		t.Errorf("search output:\n%s", out)
	}

	if _, err := run(t, cfg, "search", "nosuch:field"); err == nil {
		t.Error("expected invalid query error")
	}
}

func TestGetEditDelete(t *testing.T) {
	cfg := testConfigFile(t)
	item := addItem(t, cfg, "--comment", "old", "draft")

	out, err := run(t, cfg, "edit", "--name", "final", "--comment", "", "--add-tag", "done", item.ID)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	var edited models.Item
	json.Unmarshal([]byte(out), &edited)
	if edited.Name != "final" || edited.Comment != nil || len(edited.Tags) != 1 {
		t.Errorf("edited = %+v", edited)
	}

	out, err = run(t, cfg, "get", item.ID)
	if err != nil || !strings.Contains(out, `"final"`) {
		t.Errorf("get = %q, %v", out, err)
	}

	if _, err := run(t, cfg, "delete", item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run(t, cfg, "get", item.ID); err == nil {
		t.Error("expected error getting deleted item")
	}
}

func TestLinkRequiresTwoIDs(t *testing.T) {
	cfg := testConfigFile(t)
	a := addItem(t, cfg, "a")
	b := addItem(t, cfg, "b")

	if _, err := run(t, cfg, "link", a.ID); err == nil {
		t.Error("expected usage error")
	}
	if _, err := run(t, cfg, "link", a.ID, b.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := run(t, cfg, "unlink", b.ID, a.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
}

func TestVerifyAndReindex(t *testing.T) {
	cfg := testConfigFile(t)
	local := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(local, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	item := addItem(t, cfg, "--url", local, "notes")

	out, err := run(t, cfg, "verify")
	if err != nil || !strings.Contains(out, "ok") {
		t.Fatalf("verify = %q, %v", out, err)
	}

	if err := os.WriteFile(local, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, cfg, "verify", item.ID)
	if err == nil || !strings.Contains(out, "changed") {
		t.Errorf("verify after change = %q, %v", out, err)
	}

	out, err = run(t, cfg, "reindex")
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		Indexed int `json:"indexed"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil || report.Indexed != 0 {
		t.Errorf("reindex report = %q, %v", out, err)
	}

	if out, err = run(t, cfg, "reindex", item.ID); err != nil || !strings.Contains(out, "reindexed") {
		t.Errorf("reindex id = %q, %v", out, err)
	}
}

func TestMissingConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if _, err := run(t, filepath.Join(dir, "absent.yaml"), "list"); err != nil {
		t.Fatalf("list with defaults: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "store")); err != nil {
		t.Errorf("default data dir not used: %v", err)
	}
}
