package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// testRemote is a minimal in-memory remote server speaking the ifetch
// HTTP protocol.
type testRemote struct {
	password  string
	twoFactor string // non-empty enables the challenge round
	files     map[string][]byte
	etags     map[string]string
	noRange   bool // ignore Range headers, reply 200 with the full body
	noLength  bool // omit Content-Length on HEAD responses
}

func (tr *testRemote) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Code     string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if creds.Password != tr.password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if tr.twoFactor != "" && creds.Code == "" {
			w.Header().Set("X-Ifetch-Challenge", "device")
			http.Error(w, "second factor required", http.StatusUnauthorized)
			return
		}
		if tr.twoFactor != "" && creds.Code != tr.twoFactor {
			http.Error(w, "bad code", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "test-token",
			"expires_at": time.Now().Add(time.Hour),
		})
	})

	mux.HandleFunc("/api/list", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var items []Item
		known := false
		prefix := strings.TrimSuffix(r.URL.Query().Get("path"), "/") + "/"
		for path, data := range tr.files {
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			known = true
			if strings.Contains(path[len(prefix):], "/") {
				continue
			}
			items = append(items, Item{
				Name: path[len(prefix):],
				Path: path,
				Size: int64(len(data)),
				ETag: tr.etags[path],
			})
		}
		if !known {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(items)
	})

	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		path := "/" + strings.TrimPrefix(r.URL.Path, "/files/")
		data, ok := tr.files[path]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if etag := tr.etags[path]; etag != "" {
			w.Header().Set("ETag", `"`+etag+`"`)
		}
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))

		if r.Method == http.MethodHead {
			if !tr.noLength {
				w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			}
			return
		}

		rng := r.Header.Get("Range")
		if rng == "" || tr.noRange {
			w.Write(data)
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if start >= int64(len(data)) {
			http.Error(w, "out of range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	})

	return mux
}

func newTestClient(t *testing.T, tr *testRemote, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(tr.handler())
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	if opts.Username == "" {
		opts.Username = "alex"
	}
	if opts.Password == "" {
		opts.Password = "secret"
	}
	return NewClient(opts)
}

func TestFingerprint(t *testing.T) {
	withETag := Item{Size: 100, ModTime: time.Unix(1700000000, 0), ETag: "abc123"}
	if got := withETag.Fingerprint(); got != "abc123" {
		t.Errorf("expected etag fingerprint, got %q", got)
	}

	without := Item{Size: 100, ModTime: time.Unix(1700000000, 0)}
	if got := without.Fingerprint(); got != "100-1700000000" {
		t.Errorf("expected size-mtime fingerprint, got %q", got)
	}
}

func TestAuthenticate(t *testing.T) {
	client := newTestClient(t, &testRemote{password: "secret"}, Options{})
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestAuthenticateBadPassword(t *testing.T) {
	client := newTestClient(t, &testRemote{password: "secret"}, Options{Password: "wrong"})
	err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateTwoFactor(t *testing.T) {
	calls := 0
	client := newTestClient(t, &testRemote{password: "secret", twoFactor: "123456"}, Options{
		TwoFactor: func() (string, error) {
			calls++
			return "123456", nil
		},
	})

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one two-factor prompt, got %d", calls)
	}
}

func TestAuthenticateTwoFactorRejected(t *testing.T) {
	client := newTestClient(t, &testRemote{password: "secret", twoFactor: "123456"}, Options{
		TwoFactor: func() (string, error) { return "999999", nil },
	})
	err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong code, got %v", err)
	}
}

func TestAuthenticateTwoFactorCallbackError(t *testing.T) {
	client := newTestClient(t, &testRemote{password: "secret", twoFactor: "123456"}, Options{
		TwoFactor: func() (string, error) { return "", errors.New("user cancelled") },
	})
	err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrTwoFactorDenied) {
		t.Fatalf("expected ErrTwoFactorDenied, got %v", err)
	}
}

func TestAuthenticateNoTwoFactorCallback(t *testing.T) {
	client := newTestClient(t, &testRemote{password: "secret", twoFactor: "123456"}, Options{})
	err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without callback, got %v", err)
	}
}

func TestListChildren(t *testing.T) {
	tr := &testRemote{
		password: "secret",
		files: map[string][]byte{
			"/docs/a.txt": []byte("aaa"),
			"/docs/b.txt": []byte("bbbb"),
			"/other/c":    []byte("c"),
		},
		etags: map[string]string{"/docs/a.txt": "etag-a"},
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	items, err := client.ListChildren(ctx, "/docs")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, item := range items {
		if item.Name == "a.txt" && item.ETag != "etag-a" {
			t.Errorf("expected cleaned etag etag-a, got %q", item.ETag)
		}
	}
}

func TestStat(t *testing.T) {
	tr := &testRemote{
		password: "secret",
		files:    map[string][]byte{"/docs/a.txt": []byte("hello world")},
		etags:    map[string]string{"/docs/a.txt": "etag-a"},
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	item, err := client.Stat(ctx, "/docs/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if item.Size != 11 {
		t.Errorf("expected size 11, got %d", item.Size)
	}
	if item.ETag != "etag-a" {
		t.Errorf("expected etag-a, got %q", item.ETag)
	}
	if item.Name != "a.txt" {
		t.Errorf("expected name a.txt, got %q", item.Name)
	}
	if item.ModTime.IsZero() {
		t.Error("expected mod time from Last-Modified header")
	}
}

func TestStatDirectory(t *testing.T) {
	tr := &testRemote{
		password: "secret",
		files:    map[string][]byte{"/docs/sub/a.txt": []byte("x")},
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	item, err := client.Stat(ctx, "/docs")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !item.Dir {
		t.Error("expected listable path to stat as a directory")
	}
}

func TestStatMissingContentLength(t *testing.T) {
	tr := &testRemote{
		password: "secret",
		files:    map[string][]byte{"/docs/a.txt": []byte("hello")},
		noLength: true,
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err := client.Stat(ctx, "/docs/a.txt")
	if err == nil || !strings.Contains(err.Error(), "Content-Length") {
		t.Fatalf("expected a Content-Length protocol error, got %v", err)
	}
}

func TestStatNotFound(t *testing.T) {
	client := newTestClient(t, &testRemote{password: "secret", files: map[string][]byte{}}, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err := client.Stat(ctx, "/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRange(t *testing.T) {
	content := []byte("0123456789abcdef")
	tr := &testRemote{
		password: "secret",
		files:    map[string][]byte{"/f.bin": content},
		etags:    map[string]string{"/f.bin": "e1"},
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	item := Item{Path: "/f.bin", Size: int64(len(content)), ETag: "e1"}
	body, err := client.OpenRange(ctx, item, 4, 8)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "456789ab" {
		t.Errorf("expected range bytes 456789ab, got %q", data)
	}
}

func TestOpenRangeNotSupported(t *testing.T) {
	tr := &testRemote{
		password: "secret",
		files:    map[string][]byte{"/f.bin": []byte("0123456789")},
		noRange:  true,
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err := client.OpenRange(ctx, Item{Path: "/f.bin", Size: 10}, 0, 4)
	if !errors.Is(err, ErrRangeNotSupported) {
		t.Fatalf("expected ErrRangeNotSupported, got %v", err)
	}
}

func TestOpenRangeSourceChanged(t *testing.T) {
	tr := &testRemote{
		password: "secret",
		files:    map[string][]byte{"/f.bin": []byte("0123456789")},
		etags:    map[string]string{"/f.bin": "new-etag"},
	}
	client := newTestClient(t, tr, Options{})
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// The plan was built against an older etag.
	_, err := client.OpenRange(ctx, Item{Path: "/f.bin", Size: 10, ETag: "old-etag"}, 0, 4)
	if !errors.Is(err, ErrSourceChanged) {
		t.Fatalf("expected ErrSourceChanged, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsTransient(ErrServerError) {
		t.Error("server errors should be transient")
	}
	if !IsTransient(io.ErrUnexpectedEOF) {
		t.Error("unexpected EOF should be transient")
	}
	if IsTransient(ErrNotFound) {
		t.Error("not found should not be transient")
	}

	for _, err := range []error{ErrNotFound, ErrForbidden, ErrUnauthorized, ErrSourceChanged, ErrRangeNotSupported} {
		if !IsFatal(err) {
			t.Errorf("%v should be fatal", err)
		}
	}
	if IsFatal(ErrServerError) {
		t.Error("server errors should not be fatal")
	}
}
