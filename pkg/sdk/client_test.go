package zoomdex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testClient starts a server for h and returns a client pointed at it.
func testClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty URL returned nil error")
	}
}

func TestNew_BadScheme(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Fatal("New accepted a non-http scheme")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[],"total":0}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Datasets(context.Background()); err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if path != "/v1/datasets" {
		t.Fatalf("path = %q, want /v1/datasets", path)
	}
}

func TestClient_SendsHeaders(t *testing.T) {
	var got http.Header
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"items":[],"total":0}`))
	}, WithAPIKey("secret-key"), WithUserAgent("custom-agent/1.0"))

	if _, err := c.Datasets(context.Background()); err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if auth := got.Get("Authorization"); auth != "Bearer secret-key" {
		t.Fatalf("Authorization = %q, want Bearer secret-key", auth)
	}
	if ua := got.Get("User-Agent"); ua != "custom-agent/1.0" {
		t.Fatalf("User-Agent = %q", ua)
	}
	if accept := got.Get("Accept"); accept != "application/json" {
		t.Fatalf("Accept = %q", accept)
	}
}

func TestClient_NoAuthHeaderWithoutKey(t *testing.T) {
	var auth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"items":[],"total":0}`))
	})

	if _, err := c.Datasets(context.Background()); err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if auth != "" {
		t.Fatalf("Authorization sent without an API key: %q", auth)
	}
}

func TestClient_ContentTypeOnlyWithBody(t *testing.T) {
	var byPath = map[string]string{}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		byPath[r.URL.Path] = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	})

	ctx := context.Background()
	if _, err := c.Dataset(ctx, "m31"); err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if _, err := c.Search(ctx, "m31", SearchRequest{Query: "x"}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	if ct := byPath["/v1/datasets/m31"]; ct != "" {
		t.Fatalf("GET carried Content-Type %q", ct)
	}
	if ct := byPath["/v1/datasets/m31/search"]; ct != "application/json" {
		t.Fatalf("POST Content-Type = %q", ct)
	}
}

func TestAPIError_KindMapping(t *testing.T) {
	cases := []struct {
		kind     string
		status   int
		sentinel error
	}{
		{"not_found", http.StatusNotFound, ErrNotFound},
		{"invalid_input", http.StatusBadRequest, ErrInvalidInput},
		{"not_ready", http.StatusConflict, ErrNotReady},
		{"already_indexing", http.StatusConflict, ErrAlreadyIndexing},
		{"budget_exceeded", http.StatusPaymentRequired, ErrBudgetExceeded},
		{"encoder_unavailable", http.StatusBadGateway, ErrEncoderUnavailable},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"kind":"` + tc.kind + `","message":"boom"}`))
			})

			_, err := c.Dataset(context.Background(), "m31")
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("err = %v, want %v", err, tc.sentinel)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err %v is not an *APIError", err)
			}
			if apiErr.Status != tc.status || apiErr.Kind != tc.kind || apiErr.Message != "boom" {
				t.Fatalf("APIError = %+v", apiErr)
			}
		})
	}
}

func TestAPIError_NotReadyCarriesState(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"kind":"not_ready","message":"index not ready","state":"indexing"}`))
	})

	_, err := c.Search(context.Background(), "m31", SearchRequest{Query: "x"})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want not ready", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.State != "indexing" {
		t.Fatalf("state not carried: %+v", apiErr)
	}
}

func TestAPIError_UnknownKindHasNoSentinel(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"kind":"internal","message":"internal error"}`))
	})

	_, err := c.Dataset(context.Background(), "m31")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, sentinel := range []error{ErrNotFound, ErrInvalidInput, ErrNotReady, ErrUnauthorized} {
		if errors.Is(err, sentinel) {
			t.Fatalf("internal error matched sentinel %v", sentinel)
		}
	}
}

func TestAPIError_NonJSONBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>502 Bad Gateway</html>"))
	})

	_, err := c.Dataset(context.Background(), "m31")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err %v is not an *APIError", err)
	}
	if apiErr.Kind != "internal" || !strings.Contains(apiErr.Message, "502") {
		t.Fatalf("proxy answer not preserved: %+v", apiErr)
	}
}

func TestAPIError_EmptyBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Dataset(context.Background(), "m31")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err %v is not an *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message == "" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Close()

	if _, err := c.Datasets(context.Background()); err == nil {
		t.Fatal("request against a closed server returned nil error")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Datasets(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestWithTimeout(t *testing.T) {
	c, err := New("http://localhost:1", WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.httpc.Timeout != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", c.httpc.Timeout)
	}
}

func TestWithHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: time.Minute}
	c, err := New("http://localhost:1", WithHTTPClient(custom))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.httpc != custom {
		t.Fatal("custom HTTP client was not used")
	}
}

func TestDefaultUserAgent(t *testing.T) {
	var ua string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte(`{"items":[],"total":0}`))
	})

	if _, err := c.Datasets(context.Background()); err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if !strings.HasPrefix(ua, "zoomdex-go/") {
		t.Fatalf("User-Agent = %q, want zoomdex-go/ prefix", ua)
	}
}

func TestDatasetPath_EscapesID(t *testing.T) {
	if got := datasetPath("a/b", "index"); got != "/v1/datasets/a%2Fb/index" {
		t.Fatalf("datasetPath = %q", got)
	}
	if got := datasetPath("m31", ""); got != "/v1/datasets/m31" {
		t.Fatalf("datasetPath = %q", got)
	}
}
