package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/keep/internal/download"
	"github.com/starford/keep/internal/extract"
	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/models"
	"github.com/starford/keep/internal/sse"
	"github.com/starford/keep/internal/testutil"
)

// testEnv builds a service over temp storage and returns it with its router.
func testEnv(t *testing.T, authEnabled bool, token string) (*itemservice.Service, http.Handler, *sse.Broker) {
	t.Helper()
	st := testutil.TestStore(t)
	ix := testutil.TestIndex(t)
	_, files := testutil.TestDownloads(t)
	logger := testutil.Logger()

	broker := sse.NewBroker(time.Minute)
	t.Cleanup(broker.Close)

	dl := download.New(files, st, download.Config{}, logger)
	svc := itemservice.New(st, ix, dl, extract.New(logger), itemservice.DefaultConfig(),
		itemservice.WithLogger(logger),
		itemservice.WithDownloads(files),
		itemservice.WithNotifier(broker.PublishItemEvent),
	)
	return svc, NewRouter(svc, authEnabled, token, broker), broker
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func addItem(t *testing.T, router http.Handler, req models.AddItem) models.Item {
	t.Helper()
	w := do(t, router, http.MethodPost, "/items", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var item models.Item
	if err := json.NewDecoder(w.Body).Decode(&item); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestCreateAndGetItem(t *testing.T) {
	_, router, _ := testEnv(t, false, "")

	item := addItem(t, router, models.AddItem{Name: "hello", Comment: models.Ptr("first"), Tags: []string{"greeting"}})
	if item.ID == "" || item.Name != "hello" {
		t.Fatalf("unexpected item %+v", item)
	}

	w := do(t, router, http.MethodGet, "/items/"+item.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got models.Item
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != item.ID || len(got.Tags) != 1 || got.Tags[0].Label != "greeting" {
		t.Errorf("unexpected item %+v", got)
	}

	w = do(t, router, http.MethodGet, "/items/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", w.Code)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	_, router, _ := testEnv(t, false, "")

	w := do(t, router, http.MethodPost, "/items", map[string]string{"comment": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader("{not json"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestEditItem(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	item := addItem(t, router, models.AddItem{Name: "draft"})

	w := do(t, router, http.MethodPatch, "/items/"+item.ID, EditItemRequest{
		Name:    models.Ptr("final"),
		AddTags: []string{"done"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", w.Code, w.Body.String())
	}
	var edited models.Item
	json.NewDecoder(w.Body).Decode(&edited)
	if edited.Name != "final" {
		t.Errorf("name = %q, want final", edited.Name)
	}

	w = do(t, router, http.MethodGet, "/search?q=tag:done", nil)
	var resp SearchResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != item.ID {
		t.Errorf("edited item not re-indexed: %+v", resp)
	}

	w = do(t, router, http.MethodPatch, "/items/ghost", EditItemRequest{Name: models.Ptr("x")})
	if w.Code != http.StatusNotFound {
		t.Errorf("edit missing = %d, want 404", w.Code)
	}
}

func TestDeleteItem(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	item := addItem(t, router, models.AddItem{Name: "doomed"})

	w := do(t, router, http.MethodDelete, "/items/"+item.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/items/"+item.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/items/"+item.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestListItems(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	addItem(t, router, models.AddItem{Name: "a", Tags: []string{"x"}})
	addItem(t, router, models.AddItem{Name: "b", Tags: []string{"x", "y"}})
	addItem(t, router, models.AddItem{Name: "c"})

	cases := map[string]int{
		"/items":             3,
		"/items?count=2":     2,
		"/items?tag=x":       2,
		"/items?tag=x&tag=y": 1,
		"/items?tag=missing": 0,
	}
	for target, want := range cases {
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", target, w.Code)
		}
		var resp ItemListResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if len(resp.Items) != want {
			t.Errorf("%s = %d items, want %d", target, len(resp.Items), want)
		}
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	item := addItem(t, router, models.AddItem{Name: "Accelerating networking with AF_XDP"})
	addItem(t, router, models.AddItem{Name: "Unrelated"})

	w := do(t, router, http.MethodGet, "/search?q=AF_XDP&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != item.ID {
		t.Fatalf("unexpected results %+v", resp)
	}
	if len(resp.Results[0].Snippets.Name.Highlighted) == 0 {
		t.Error("expected highlighted name")
	}
}

func TestSearchErrors(t *testing.T) {
	_, router, _ := testEnv(t, false, "")

	cases := []string{
		"/search",
		"/search?q=bogus:field",
		"/search?q=name:%22open",
	}
	for _, target := range cases {
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, w.Code)
		}
	}
}

func TestLinks(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	a := addItem(t, router, models.AddItem{Name: "a"})
	b := addItem(t, router, models.AddItem{Name: "b"})

	w := do(t, router, http.MethodPost, "/links", LinkRequest{A: a.ID, B: b.ID})
	if w.Code != http.StatusNoContent {
		t.Fatalf("link status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/items/"+b.ID+"/links", nil)
	var resp ItemListResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Items) != 1 || resp.Items[0].ID != a.ID {
		t.Errorf("unexpected links %+v", resp)
	}

	if w := do(t, router, http.MethodPost, "/links", LinkRequest{A: a.ID}); w.Code != http.StatusBadRequest {
		t.Errorf("half link = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/links", LinkRequest{A: a.ID, B: a.ID}); w.Code != http.StatusBadRequest {
		t.Errorf("self link = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/links", LinkRequest{A: a.ID, B: "ghost"}); w.Code != http.StatusNotFound {
		t.Errorf("link to missing = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodDelete, "/links", LinkRequest{A: b.ID, B: a.ID})
	if w.Code != http.StatusNoContent {
		t.Fatalf("unlink status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/items/"+a.ID+"/links", nil)
	resp = ItemListResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Items) != 0 {
		t.Errorf("links after unlink: %+v", resp.Items)
	}
}

func uploadFile(t *testing.T, router http.Handler, target, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeBlob(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	item := addItem(t, router, models.AddItem{Name: "report"})

	w := uploadFile(t, router, "/items/"+item.ID+"/blob", "report.txt", []byte("quarterly numbers"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated models.Item
	json.NewDecoder(w.Body).Decode(&updated)
	if updated.Blob == nil || !updated.Blob.Managed || updated.Blob.ContentType != "text/plain" {
		t.Fatalf("unexpected blob %+v", updated.Blob)
	}

	w = do(t, router, http.MethodGet, "/items/"+item.ID+"/blob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("item blob = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/blobs/"+updated.Blob.ID+"/content", nil)
	if w.Code != http.StatusOK || w.Body.String() != "quarterly numbers" {
		t.Errorf("content = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type = %q", ct)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}

	w = do(t, router, http.MethodGet, "/items/"+item.ID+"/verify", nil)
	var v itemservice.Verification
	json.NewDecoder(w.Body).Decode(&v)
	if w.Code != http.StatusOK || !v.OK {
		t.Errorf("verify = %d %+v", w.Code, v)
	}

	w = do(t, router, http.MethodGet, "/search?q=body:quarterly", nil)
	var resp SearchResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Results) != 1 {
		t.Errorf("uploaded content not indexed: %+v", resp)
	}
}

func TestUploadBlobErrors(t *testing.T) {
	_, router, _ := testEnv(t, false, "")

	w := uploadFile(t, router, "/items/ghost/blob", "x.txt", []byte("x"))
	if w.Code != http.StatusNotFound {
		t.Errorf("upload to missing item = %d, want 404", w.Code)
	}

	item := addItem(t, router, models.AddItem{Name: "x"})
	req := httptest.NewRequest(http.MethodPost, "/items/"+item.ID+"/blob", strings.NewReader("plain"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non multipart = %d, want 400", w.Code)
	}
}

func TestBlobContentMissingFile(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	local := filepath.Join(t.TempDir(), "vanishing.txt")
	if err := os.WriteFile(local, []byte("now you see me"), 0o644); err != nil {
		t.Fatal(err)
	}
	item := addItem(t, router, models.AddItem{Name: "v", URL: models.Ptr(local)})
	if item.Blob == nil {
		t.Fatal("expected blob for local file")
	}
	os.Remove(local)

	w := do(t, router, http.MethodGet, "/blobs/"+item.Blob.ID+"/content", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodGet, "/items/"+item.ID+"/verify", nil)
	var v itemservice.Verification
	json.NewDecoder(w.Body).Decode(&v)
	if !v.Missing || v.OK {
		t.Errorf("verify should report missing: %+v", v)
	}
}

func TestReindexAndStatus(t *testing.T) {
	_, router, _ := testEnv(t, false, "")
	item := addItem(t, router, models.AddItem{Name: "counted"})

	if w := do(t, router, http.MethodPost, "/items/"+item.ID+"/reindex", nil); w.Code != http.StatusNoContent {
		t.Fatalf("reindex = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/items/ghost/reindex", nil); w.Code != http.StatusNotFound {
		t.Errorf("reindex missing = %d, want 404", w.Code)
	}

	w := do(t, router, http.MethodGet, "/status", nil)
	var st StatusResponse
	json.NewDecoder(w.Body).Decode(&st)
	if w.Code != http.StatusOK || st.Items != 1 || st.Indexed != 1 {
		t.Errorf("status = %d %+v", w.Code, st)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router, _ := testEnv(t, true, "secret123")

	body, _ := json.Marshal(models.AddItem{Name: "auth"})
	req := httptest.NewRequest(http.MethodPost, "/items", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router, _ := testEnv(t, true, "secret123")

	w := do(t, router, http.MethodGet, "/items", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router, _ := testEnv(t, true, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router, _ := testEnv(t, false, "")

	w := do(t, router, http.MethodGet, "/items", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router, _ := testEnv(t, true, "secret")

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router, _ := testEnv(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestSSEEvents_DeliversItemEvents(t *testing.T) {
	svc, router, broker := testEnv(t, false, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return broker.ClientCount() == 1
	}, "SSE client never subscribed")

	item, err := svc.Add(context.Background(), models.AddItem{Name: "live"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return broker.Sent() >= 1
	}, "event never published")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: "+itemservice.EventAdded) || !strings.Contains(body, item.ID) {
		t.Errorf("stream missing item.added: %q", body)
	}
}
