package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/config"
	"github.com/kalambet/folio/internal/feed"
	"github.com/kalambet/folio/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(token string) *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      token,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestClient_Recommend(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /recommend": `[{"id":2,"title":"B","author":"Unknown","category":"Horror","description":"x","price":1.99,"cover_url":"","year":2000}]`,
	})

	resp, err := ts.client("").get(ctx, "/recommend?book_title=A&k=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var books []catalog.Book
	if err := decodeJSON(resp, &books); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(books) != 1 || books[0].Title != "B" || books[0].Price != 199 {
		t.Errorf("books = %+v", books)
	}

	r := ts.requests[0]
	if r.Path != "/recommend?book_title=A&k=2" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Auth != "" {
		t.Errorf("auth header sent without a token: %q", r.Auth)
	}
}

func TestClient_FeedKeepsRowOrder(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/global_feed": `{"Recommended (Because you read bestsellers)":[],"Horror":[],"Art":[]}`,
	})

	resp, err := ts.client("").get(ctx, "/api/global_feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var f feed.Feed
	if err := decodeJSON(resp, &f); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	got := strings.Join(f.Labels(), "|")
	if got != "Recommended (Because you read bestsellers)|Horror|Art" {
		t.Errorf("labels = %s", got)
	}
}

func TestClient_AdminSendsToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/reindex": `{"status":"queued"}`,
	})

	resp, err := ts.client("s3cret").post(ctx, "/admin/reindex", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "queued" {
		t.Errorf("status = %v", result["status"])
	}
	if ts.requests[0].Auth != "Bearer s3cret" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client("").get(ctx, "/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if err.Error() != "server returned 404: not found" {
		t.Errorf("error = %q", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: http.DefaultClient}
	_, err := c.get(ctx, "/health")
	if err == nil || !strings.Contains(err.Error(), "is folio running") {
		t.Errorf("err = %v", err)
	}
}

const yamlSeed = `
books:
  - title: Dracula
    author: Bram Stoker
    category: Horror
    description: A vampire travels to England.
    ia_id: dracula-ia
  - title: Emma
    category: Romance
    description: A matchmaker in Highbury.
    price: 3.5
`

func TestParseSeed_YAMLMapping(t *testing.T) {
	books, err := parseSeed([]byte(yamlSeed))
	if err != nil {
		t.Fatalf("parseSeed: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("books = %d, want 2", len(books))
	}
	if books[0].SourceArchiveID != "dracula-ia" || books[0].Price != catalog.PriceForTitle("Dracula") {
		t.Errorf("first = %+v", books[0])
	}
	if books[1].Author != catalog.UnknownAuthor || books[1].Price != 350 {
		t.Errorf("second = %+v", books[1])
	}
}

func TestParseSeed_JSONList(t *testing.T) {
	books, err := parseSeed([]byte(`[{"title":"A","category":"Horror","description":"ghosts","year":1900}]`))
	if err != nil {
		t.Fatalf("parseSeed: %v", err)
	}
	if len(books) != 1 || books[0].Year != 1900 {
		t.Errorf("books = %+v", books)
	}
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ``},
		{"scalar", `hello`},
		{"missing title", `[{"category":"Horror","description":"x"}]`},
		{"missing category", `[{"title":"A","description":"x"}]`},
		{"missing description", `[{"title":"A","category":"Horror"}]`},
		{"malformed", `[{"title": "A"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseSeed([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadSeed(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(yamlSeed), 0o644); err != nil {
		t.Fatal(err)
	}

	inserted, total, err := loadSeed(ctx, store, path)
	if err != nil || inserted != 2 || total != 2 {
		t.Fatalf("loadSeed = %d/%d, %v", inserted, total, err)
	}
	if n, _ := store.PendingJobs(ctx, storage.JobTypeReindex); n != 1 {
		t.Errorf("pending reindex jobs = %d, want 1", n)
	}

	// Dracula has an archive id and is skipped; Emma has none and loads again.
	inserted, _, err = loadSeed(ctx, store, path)
	if err != nil || inserted != 1 {
		t.Errorf("second load inserted %d, %v; want 1", inserted, err)
	}
}

func TestNewApp_EmptyThenSeeded(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadFrom(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg.Storage.DataDir = dir
	cfg.Cache.RedisAddr = ""

	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.service.IndexSize() != 0 {
		t.Errorf("IndexSize = %d on an empty catalog", a.service.IndexSize())
	}

	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, []byte(yamlSeed), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadSeed(ctx, a.store, path); err != nil {
		t.Fatalf("loadSeed: %v", err)
	}
	if _, err := a.service.Reindex(ctx); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	got, err := a.service.Similar(ctx, "Dracula", 1)
	if err != nil || len(got) != 1 || got[0].Title != "Emma" {
		t.Errorf("Similar = %+v, %v", got, err)
	}
	a.Close()
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Errorf("readPIDFile = %d, %v", pid, err)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still present after remove")
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "info": "INFO", "": "INFO", "verbose": "INFO",
	} {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWriteBooks(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	writeBooks(&buf, nil)
	if !strings.Contains(buf.String(), "(no books)") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	writeBooks(&buf, []catalog.Book{
		{ID: catalog.LocalID(1), Title: "Dracula", Author: "Bram Stoker", Category: "Horror", Price: 299},
		{ID: catalog.ExternalID("/works/OL1W"), Title: "Emma", Author: "Jane Austen", Category: "Romance", Price: 350},
	})
	out := buf.String()
	for _, want := range []string{"Dracula", "2.99", "ext_/works/OL1W", "3.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestRootCommands(t *testing.T) {
	want := []string{"start", "stop", "status", "similar", "feed", "search", "reindex", "catalog", "config"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing command %q", name)
		}
	}
}

func TestSimilarCommand_RequiresTitle(t *testing.T) {
	rootCmd.SetArgs([]string{"similar"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error when title is missing")
	}
}
