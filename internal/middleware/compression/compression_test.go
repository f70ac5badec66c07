package compression

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func TestNegotiateEncoding(t *testing.T) {
	c := New(Options{})

	tests := []struct {
		name   string
		accept string
		want   string
	}{
		{"gzip only", "gzip, deflate", "gzip"},
		{"server prefers brotli", "br, gzip", "br"},
		{"client quality wins", "gzip;q=1.0, br;q=0.5", "gzip"},
		{"wildcard picks server order", "*", "br"},
		{"rejected algorithm", "gzip;q=0", ""},
		{"unsupported only", "deflate", ""},
		{"zstd", "zstd", "zstd"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.accept != "" {
				r.Header.Set("Accept-Encoding", tt.accept)
			}
			if got := c.NegotiateEncoding(r); got != tt.want {
				t.Errorf("NegotiateEncoding() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareRoundTrip(t *testing.T) {
	c := New(Options{MinSize: 10})
	body := strings.Repeat(`{"key":"value"}`, 100)

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))

	decoders := map[string]func(t *testing.T, b []byte) []byte{
		"gzip": func(t *testing.T, b []byte) []byte {
			gr, err := gzip.NewReader(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("gzip reader: %v", err)
			}
			defer gr.Close()
			out, err := io.ReadAll(gr)
			if err != nil {
				t.Fatalf("gunzip: %v", err)
			}
			return out
		},
		"br": func(t *testing.T, b []byte) []byte {
			out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(b)))
			if err != nil {
				t.Fatalf("brotli: %v", err)
			}
			return out
		},
		"zstd": func(t *testing.T, b []byte) []byte {
			dec, err := zstd.NewReader(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("zstd reader: %v", err)
			}
			defer dec.Close()
			out, err := io.ReadAll(dec)
			if err != nil {
				t.Fatalf("zstd: %v", err)
			}
			return out
		},
	}

	for algo, decode := range decoders {
		t.Run(algo, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Accept-Encoding", algo)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Content-Encoding"); got != algo {
				t.Fatalf("Content-Encoding = %q, want %q", got, algo)
			}
			if rr.Header().Get("Content-Length") != "" {
				t.Error("Content-Length should be dropped on compressed responses")
			}
			if !strings.Contains(rr.Header().Get("Vary"), "Accept-Encoding") {
				t.Error("Vary should include Accept-Encoding")
			}
			if got := string(decode(t, rr.Body.Bytes())); got != body {
				t.Error("decompressed body does not match original")
			}
		})
	}
}

func TestMiddlewareSkipsSmallBody(t *testing.T) {
	c := New(Options{MinSize: 1024})

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "" {
		t.Error("small body should not be compressed")
	}
	if rr.Body.String() != `{"ok":true}` {
		t.Errorf("body altered: %q", rr.Body.String())
	}
}

func TestMiddlewareSkipsPreEncoded(t *testing.T) {
	c := New(Options{MinSize: 10})
	body := strings.Repeat("x", 200)

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upstream already compressed this response.
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Body.String() != body {
		t.Error("pre-encoded body should pass through untouched")
	}
}

func TestMiddlewareSkipsNonCompressibleType(t *testing.T) {
	c := New(Options{MinSize: 10})
	body := strings.Repeat("x", 200)

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(body))
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "" {
		t.Error("image/png should not be compressed")
	}
	if rr.Body.String() != body {
		t.Error("body altered")
	}
}

func TestMiddlewarePreservesStatusCode(t *testing.T) {
	c := New(Options{MinSize: 10})

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(strings.Repeat(`{"id":1}`, 50)))
	}))

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Error("expected gzip Content-Encoding")
	}
}

func TestStats(t *testing.T) {
	c := New(Options{MinSize: 10})
	body := strings.Repeat(`{"key":"value"}`, 100)

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	snap := c.Stats()
	gz := snap.Algorithms["gzip"]
	if gz.Count != 1 {
		t.Fatalf("gzip count = %d, want 1", gz.Count)
	}
	if gz.BytesIn != int64(len(body)) {
		t.Errorf("bytes in = %d, want %d", gz.BytesIn, len(body))
	}
	if gz.BytesOut <= 0 || gz.BytesOut >= gz.BytesIn {
		t.Errorf("bytes out = %d, want 0 < out < %d", gz.BytesOut, gz.BytesIn)
	}
}

func TestWriterWithoutBody(t *testing.T) {
	c := New(Options{MinSize: 10})

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("DELETE", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Content-Encoding") != "" {
		t.Error("empty response should not be compressed")
	}
}
