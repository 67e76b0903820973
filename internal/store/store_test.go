package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *SQLite, req models.AddItem) *models.Item {
	t.Helper()
	it, err := s.CreateItem(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return it
}

func TestCreateAndGetItem(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, models.AddItem{
		Name:    "AF_XDP",
		URL:     models.Ptr("https://lwn.net/Articles/750845/"),
		Comment: models.Ptr("fast packets"),
		Tags:    []string{"kernel", "networking", "kernel"},
	})
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetItem(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Name != "AF_XDP" || models.Deref(got.URL) != "https://lwn.net/Articles/750845/" {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.Body != nil {
		t.Errorf("body = %v, want nil", *got.Body)
	}
	labels := got.TagLabels()
	if len(labels) != 2 || labels[0] != "kernel" || labels[1] != "networking" {
		t.Errorf("tags = %v, want [kernel networking]", labels)
	}
	if got.Blob != nil {
		t.Errorf("unexpected blob: %+v", got.Blob)
	}
}

func TestCreateItemRequiresName(t *testing.T) {
	s := testStore(t)
	_, err := s.CreateItem(context.Background(), models.AddItem{Name: "  "})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetItemNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetItem(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var nf *apperr.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Errorf("expected id in error, got %v", err)
	}
}

func TestTagsAreShared(t *testing.T) {
	s := testStore(t)
	a := mustCreate(t, s, models.AddItem{Name: "a", Tags: []string{"kernel"}})
	b := mustCreate(t, s, models.AddItem{Name: "b", Tags: []string{"kernel"}})

	if a.Tags[0].ID != b.Tags[0].ID {
		t.Errorf("tag ids differ: %s vs %s", a.Tags[0].ID, b.Tags[0].ID)
	}

	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM tags WHERE label = 'kernel'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("tag rows = %d, want 1", n)
	}
}

func TestListItemsFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, models.AddItem{Name: "one", Tags: []string{"go"}})
	mustCreate(t, s, models.AddItem{Name: "two", Tags: []string{"go", "db"}})
	mustCreate(t, s, models.AddItem{Name: "three"})

	all, err := s.ListItems(ctx, models.ListItems{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Name != "three" {
		t.Errorf("newest first: got %q", all[0].Name)
	}

	limited, _ := s.ListItems(ctx, models.ListItems{Count: 2})
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}

	goItems, _ := s.ListItems(ctx, models.ListItems{Tags: []string{"go"}})
	if len(goItems) != 2 {
		t.Errorf("go items = %d, want 2", len(goItems))
	}
	both, _ := s.ListItems(ctx, models.ListItems{Tags: []string{"go", "db"}})
	if len(both) != 1 || both[0].Name != "two" {
		t.Errorf("go+db items = %+v", both)
	}
}

func TestUpdateItem(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	it := mustCreate(t, s, models.AddItem{Name: "old", Comment: models.Ptr("c"), Tags: []string{"a", "b"}})

	got, err := s.UpdateItem(ctx, models.EditItem{
		ID:         it.ID,
		Name:       models.Ptr("new"),
		Comment:    models.Ptr(""),
		Summary:    models.Ptr("short"),
		AddTags:    []string{"c", "a"},
		RemoveTags: []string{"b"},
	})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if got.Name != "new" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Comment != nil {
		t.Errorf("comment should be cleared, got %q", *got.Comment)
	}
	if models.Deref(got.Summary) != "short" {
		t.Errorf("summary = %v", got.Summary)
	}
	labels := got.TagLabels()
	if len(labels) != 2 || labels[0] != "a" || labels[1] != "c" {
		t.Errorf("tags = %v, want [a c]", labels)
	}

	_, err = s.UpdateItem(ctx, models.EditItem{ID: "missing", Name: models.Ptr("x")})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLinksAreSymmetricAndIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, models.AddItem{Name: "a"})
	b := mustCreate(t, s, models.AddItem{Name: "b"})

	if err := s.CreateLink(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if err := s.CreateLink(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("CreateLink reversed: %v", err)
	}

	fromA, err := s.LinkedItems(ctx, a.ID)
	if err != nil {
		t.Fatalf("LinkedItems: %v", err)
	}
	if len(fromA) != 1 || fromA[0].ID != b.ID {
		t.Errorf("linked from a = %+v", fromA)
	}
	fromB, _ := s.LinkedItems(ctx, b.ID)
	if len(fromB) != 1 || fromB[0].ID != a.ID {
		t.Errorf("linked from b = %+v", fromB)
	}

	if err := s.CreateLink(ctx, a.ID, a.ID); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("self link: expected ErrInvalidInput, got %v", err)
	}
	if err := s.CreateLink(ctx, a.ID, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("link to missing: expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteLink(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	fromA, _ = s.LinkedItems(ctx, a.ID)
	if len(fromA) != 0 {
		t.Errorf("expected no links, got %+v", fromA)
	}
}

func TestBlobLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	it := mustCreate(t, s, models.AddItem{Name: "a"})

	if _, err := s.ItemBlob(ctx, it.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before add, got %v", err)
	}

	b, err := s.AddBlob(ctx, models.Blob{
		ItemID:      it.ID,
		SourceURI:   "https://example.com",
		ContentHash: "abc",
		ContentType: "text/html",
		LocalPath:   "/tmp/x.html",
		Managed:     true,
	})
	if err != nil {
		t.Fatalf("AddBlob: %v", err)
	}

	byItem, err := s.ItemBlob(ctx, it.ID)
	if err != nil {
		t.Fatalf("ItemBlob: %v", err)
	}
	byID, err := s.GetBlob(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if byItem.ID != b.ID || byID.ItemID != it.ID || !byID.Managed {
		t.Errorf("blob mismatch: %+v %+v", byItem, byID)
	}

	b.ContentHash = "def"
	b.ContentType = "text/plain"
	if err := s.UpdateBlob(ctx, *b); err != nil {
		t.Fatalf("UpdateBlob: %v", err)
	}
	got, _ := s.GetBlob(ctx, b.ID)
	if got.ContentHash != "def" || got.ContentType != "text/plain" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := s.DeleteBlob(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.GetBlob(ctx, b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAddBlobReplacesPrevious(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	it := mustCreate(t, s, models.AddItem{Name: "a"})

	oldPath := filepath.Join(t.TempDir(), "old")
	_ = os.WriteFile(oldPath, []byte("old"), 0o644)
	first, _ := s.AddBlob(ctx, models.Blob{ItemID: it.ID, LocalPath: oldPath, Managed: true, ContentType: "text/plain"})
	second, err := s.AddBlob(ctx, models.Blob{ItemID: it.ID, LocalPath: "/tmp/new", Managed: true, ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("AddBlob: %v", err)
	}
	if _, err := s.GetBlob(ctx, first.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("first blob should be gone, got %v", err)
	}
	got, _ := s.ItemBlob(ctx, it.ID)
	if got.ID != second.ID {
		t.Errorf("item blob = %s, want %s", got.ID, second.ID)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("old managed file should be removed: %v", err)
	}
}

func TestDeleteItemCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	managedPath := filepath.Join(dir, "managed.html")
	unmanagedPath := filepath.Join(dir, "mine.txt")
	_ = os.WriteFile(managedPath, []byte("m"), 0o644)
	_ = os.WriteFile(unmanagedPath, []byte("u"), 0o644)

	managed := mustCreate(t, s, models.AddItem{Name: "managed", Tags: []string{"t"}})
	unmanaged := mustCreate(t, s, models.AddItem{Name: "unmanaged"})
	_, _ = s.AddBlob(ctx, models.Blob{ItemID: managed.ID, LocalPath: managedPath, Managed: true, ContentType: "text/html"})
	_, _ = s.AddBlob(ctx, models.Blob{ItemID: unmanaged.ID, LocalPath: unmanagedPath, Managed: false, ContentType: "text/plain"})
	_ = s.CreateLink(ctx, managed.ID, unmanaged.ID)

	if err := s.DeleteItem(ctx, managed.ID); err != nil {
		t.Fatalf("DeleteItem managed: %v", err)
	}
	if err := s.DeleteItem(ctx, unmanaged.ID); err != nil {
		t.Fatalf("DeleteItem unmanaged: %v", err)
	}

	if _, err := os.Stat(managedPath); !os.IsNotExist(err) {
		t.Errorf("managed file should be removed: %v", err)
	}
	if _, err := os.Stat(unmanagedPath); err != nil {
		t.Errorf("unmanaged file must survive: %v", err)
	}

	var n int
	_ = s.conn.QueryRow(`SELECT COUNT(*) FROM blobs`).Scan(&n)
	if n != 0 {
		t.Errorf("blob rows = %d, want 0", n)
	}
	_ = s.conn.QueryRow(`SELECT COUNT(*) FROM links`).Scan(&n)
	if n != 0 {
		t.Errorf("link rows = %d, want 0", n)
	}

	if err := s.DeleteItem(ctx, managed.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestUnmanagedBlobs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, models.AddItem{Name: "a"})
	b := mustCreate(t, s, models.AddItem{Name: "b"})
	_, _ = s.AddBlob(ctx, models.Blob{ItemID: a.ID, LocalPath: "/x", Managed: true})
	_, _ = s.AddBlob(ctx, models.Blob{ItemID: b.ID, LocalPath: "/y", Managed: false})

	blobs, err := s.UnmanagedBlobs(ctx)
	if err != nil {
		t.Fatalf("UnmanagedBlobs: %v", err)
	}
	if len(blobs) != 1 || blobs[0].ItemID != b.ID {
		t.Errorf("unmanaged = %+v", blobs)
	}
}
