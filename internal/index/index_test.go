package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func mustIndex(t *testing.T, ix *Index, item *models.Item, tags []string, info *models.ExtractedInfo) {
	t.Helper()
	if err := ix.IndexFull(context.Background(), item, tags, info); err != nil {
		t.Fatalf("IndexFull(%s): %v", item.ID, err)
	}
}

func newItem(id, name string) *models.Item {
	return &models.Item{ID: id, Name: name, CreatedAt: time.Now().UTC()}
}

func TestUnicodeHighlightOffsets(t *testing.T) {
	ix := testIndex(t)
	mustIndex(t, ix, newItem("u", "Héllo, Wörld"), nil, nil)

	res, err := ix.Search(context.Background(), "wörld", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("results = %+v", res)
	}
	name := res[0].Snippets.Name
	if len(name.Highlighted) != 1 || name.Highlighted[0] != [2]int{8, 14} {
		t.Fatalf("highlights = %v", name.Highlighted)
	}
	if got := name.Fragment[8:14]; got != "Wörld" {
		t.Errorf("highlighted %q", got)
	}
}

func TestQualifiedValueWithColonNeedsQuotes(t *testing.T) {
	ix := testIndex(t)
	item := newItem("l", "lwn")
	item.URL = models.Ptr("https://lwn.net/Articles/750845/")
	mustIndex(t, ix, item, nil, nil)

	res, err := ix.Search(context.Background(), `url:"https://lwn.net/Articles/750845/"`, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Errorf("quoted url search = %+v", res)
	}
	if _, err := ix.Search(context.Background(), "http://lwn.net", 10); !errors.Is(err, apperr.ErrInvalidQuery) {
		t.Errorf("bare url = %v, want invalid query", err)
	}
}

func TestIndexAndSearchRoundTrip(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	item := newItem("a1", "Accelerating networking")
	item.Comment = models.Ptr("read later")
	mustIndex(t, ix, item, nil, &models.ExtractedInfo{Body: "a new socket family for fast packet processing"})

	for _, q := range []string{"accelerating", "socket", "later", "PACKET"} {
		res, err := ix.Search(ctx, q, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(res) != 1 || res[0].ID != "a1" {
			t.Errorf("Search(%q) = %+v, want a1", q, res)
		}
	}

	res, _ := ix.Search(ctx, "missing", 10)
	if len(res) != 0 {
		t.Errorf("unexpected hits: %+v", res)
	}
}

func TestAFXDPScenario(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	item := newItem("x1", "AF_XDP")
	item.URL = models.Ptr("https://lwn.net/Articles/750845/")
	mustIndex(t, ix, item, []string{"kernel"}, &models.ExtractedInfo{
		Title: "Accelerating networking with AF_XDP",
		Body:  "The AF_XDP socket type is aimed at high-speed packet processing.",
	})
	mustIndex(t, ix, newItem("x2", "unrelated"), nil, nil)

	res, err := ix.Search(ctx, "AF_XDP", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ID != "x1" {
		t.Fatalf("Search = %+v, want x1", res)
	}
	name := res[0].Snippets.Name
	if name.Fragment != "AF_XDP" {
		t.Errorf("name fragment = %q", name.Fragment)
	}
	want := [][2]int{{0, 6}}
	if len(name.Highlighted) != len(want) {
		t.Fatalf("highlights = %v, want %v", name.Highlighted, want)
	}
	for i := range want {
		if name.Highlighted[i] != want[i] {
			t.Errorf("highlight %d = %v, want %v", i, name.Highlighted[i], want[i])
		}
	}
	if len(res[0].Snippets.Body.Highlighted) == 0 {
		t.Error("body snippet should highlight the match")
	}
}

func TestRemove(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	mustIndex(t, ix, newItem("r1", "removable thing"), []string{"t"}, nil)

	if err := ix.Remove(ctx, "r1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, q := range []string{"removable", "id:r1", "tag:t", "*"} {
		res, err := ix.Search(ctx, q, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(res) != 0 {
			t.Errorf("Search(%q) after remove = %+v", q, res)
		}
	}
	if err := ix.Remove(ctx, "r1"); err != nil {
		t.Errorf("removing a missing doc should succeed: %v", err)
	}
}

func TestUpsertKeepsCount(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	item := newItem("u1", "first name")
	mustIndex(t, ix, item, nil, nil)
	mustIndex(t, ix, newItem("u2", "other"), nil, nil)

	before, _ := ix.Count(ctx)
	item.Name = "second name"
	if err := ix.Remove(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	mustIndex(t, ix, item, nil, nil)
	after, _ := ix.Count(ctx)
	if before != 2 || after != 2 {
		t.Errorf("count before=%d after=%d, want 2", before, after)
	}

	// IndexFull alone also replaces.
	mustIndex(t, ix, item, nil, nil)
	if n, _ := ix.Count(ctx); n != 2 {
		t.Errorf("count after double index = %d, want 2", n)
	}

	res, _ := ix.Search(ctx, "first", 10)
	if len(res) != 0 {
		t.Errorf("stale content still searchable: %+v", res)
	}
	res, _ = ix.Search(ctx, "second", 10)
	if len(res) != 1 {
		t.Errorf("new content not searchable: %+v", res)
	}
}

func TestFieldQualifiersAndPhrases(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	a := newItem("a", "kernel bypass")
	a.Comment = models.Ptr("networking notes")
	mustIndex(t, ix, a, []string{"linux/net"}, nil)
	b := newItem("b", "networking kernel")
	mustIndex(t, ix, b, []string{"linux"}, nil)

	cases := []struct {
		q    string
		want []string
	}{
		{`comment:networking`, []string{"a"}},
		{`name:networking`, []string{"b"}},
		{`"kernel bypass"`, []string{"a"}},
		{`"bypass kernel"`, nil},
		{`name:"networking kernel"`, []string{"b"}},
		{`id:b`, []string{"b"}},
		{`tag:linux/net`, []string{"a"}},
		{`tag:linux`, []string{"a", "b"}},
		{`bypass id:b`, []string{"a", "b"}},
	}
	for _, tc := range cases {
		res, err := ix.Search(ctx, tc.q, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", tc.q, err)
		}
		got := map[string]bool{}
		for _, r := range res {
			got[r.ID] = true
		}
		if len(got) != len(tc.want) {
			t.Errorf("Search(%q) = %v, want %v", tc.q, got, tc.want)
			continue
		}
		for _, id := range tc.want {
			if !got[id] {
				t.Errorf("Search(%q) missing %s", tc.q, id)
			}
		}
	}
}

func TestMatchAllAndTieOrder(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	for _, id := range []string{"first", "second", "third"} {
		mustIndex(t, ix, newItem(id, "same words"), nil, nil)
	}

	res, err := ix.Search(ctx, "*", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("len = %d, want 3", len(res))
	}
	for i, id := range []string{"first", "second", "third"} {
		if res[i].ID != id {
			t.Errorf("res[%d] = %s, want %s", i, res[i].ID, id)
		}
	}

	res, _ = ix.Search(ctx, "same", 2)
	if len(res) != 2 || res[0].ID != "first" || res[1].ID != "second" {
		t.Errorf("tied results should keep insertion order: %+v", res)
	}
}

func TestRankingPrefersMoreMatches(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	mustIndex(t, ix, newItem("one", "packet"), nil, &models.ExtractedInfo{Body: "unrelated text about cooking"})
	mustIndex(t, ix, newItem("both", "packet"), nil, &models.ExtractedInfo{Body: "packet processing"})

	res, err := ix.Search(ctx, "packet processing", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 || res[0].ID != "both" {
		t.Fatalf("expected 'both' first, got %+v", res)
	}
	if res[0].Score <= res[1].Score {
		t.Errorf("scores not descending: %v then %v", res[0].Score, res[1].Score)
	}
}

func TestMalformedQueries(t *testing.T) {
	ix := testIndex(t)
	for _, q := range []string{`"unterminated`, `nosuchfield:x`, `name:`, `:x`} {
		_, err := ix.Search(context.Background(), q, 10)
		if !errors.Is(err, apperr.ErrInvalidQuery) {
			t.Errorf("Search(%q): expected ErrInvalidQuery, got %v", q, err)
		}
	}
	res, err := ix.Search(context.Background(), "   ", 10)
	if err != nil || len(res) != 0 {
		t.Errorf("blank query = %+v, %v", res, err)
	}
}

func TestSchemaVersionPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	ix, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustIndex(t, ix, newItem("p1", "persisted"), nil, nil)
	ix.Close()

	ix, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n, _ := ix.Count(context.Background()); n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
	mustIndex(t, ix, newItem("p2", "second"), nil, nil)
	ids, _ := ix.IDs(context.Background())
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Errorf("ids after reopen = %v, want [p1 p2]", ids)
	}

	if err := ix.bi.SetInternal(schemaKey, []byte("old")); err != nil {
		t.Fatal(err)
	}
	ix.Close()

	ix, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen after version change: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	if n, _ := ix.Count(context.Background()); n != 0 {
		t.Errorf("count after rebuild = %d, want 0", n)
	}
	ids, _ = ix.IDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("ids after rebuild = %v", ids)
	}
}

func TestMutationsAfterClose(t *testing.T) {
	ix, err := Open(filepath.Join(t.TempDir(), "index"), nil)
	if err != nil {
		t.Fatal(err)
	}
	ix.Close()
	err = ix.IndexFull(context.Background(), newItem("z", "z"), nil, nil)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
