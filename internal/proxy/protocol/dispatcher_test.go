package protocol

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	"github.com/apidoorman/doorman-sub003/internal/catalog"
	"github.com/apidoorman/doorman-sub003/internal/credits"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	cat := catalog.New(store.NewMemory(), cache.New(256, time.Minute), 10)
	return Deps{
		Selector:  proxy.NewSelector(cat),
		Forwarder: proxy.NewForwarder(proxy.NewTransportPool(proxy.DefaultTransportConfig()), 5*time.Second),
	}
}

func testExchange(servers []string, body []byte) *Exchange {
	r := httptest.NewRequest(http.MethodPost, "http://gw.example/api/rest/orders/v1/items", nil)
	return &Exchange{
		Target: resolve.Target{
			Protocol:   resolve.ProtocolREST,
			Method:     http.MethodPost,
			APIName:    "orders",
			APIVersion: "v1",
			URI:        "/items",
		},
		Resolution: &resolve.Resolution{
			API: &model.API{
				APIName:    "orders",
				APIVersion: "v1",
				APIType:    model.TypeREST,
				APIServers: servers,
				Active:     true,
			},
			Endpoint: &model.Endpoint{
				APIName:        "orders",
				APIVersion:     "v1",
				EndpointMethod: http.MethodPost,
				EndpointURI:    "/items",
			},
		},
		RequestID: "req-1",
		Body:      body,
		Request:   r,
	}
}

func TestRelayPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "hit")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer upstream.Close()

	ex := testExchange([]string{upstream.URL}, nil)
	w := httptest.NewRecorder()

	err := Relay(w, ex, testDeps(t), &proxy.UpstreamRequest{
		Method: http.MethodPost,
		Path:   "/items",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want pass-through 418", w.Code)
	}
	if w.Body.String() != "short and stout" {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get("X-Upstream") != "hit" {
		t.Error("upstream header lost")
	}
	if w.Header().Get("X-Request-ID") != "req-1" {
		t.Error("request id missing on response")
	}
}

func TestRelayAttachesCreditKeys(t *testing.T) {
	var seen []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Values("X-Api-Key")
	}))
	defer upstream.Close()

	ex := testExchange([]string{upstream.URL}, nil)
	ex.Deduction = &credits.Deduction{
		Group:  "ai",
		Header: "x-api-key",
		Keys:   []string{"old-key", "new-key"},
	}

	err := Relay(httptest.NewRecorder(), ex, testDeps(t), &proxy.UpstreamRequest{
		Method: http.MethodPost,
		Path:   "/items",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != "old-key" || seen[1] != "new-key" {
		t.Errorf("credit keys = %v, want both rotation keys", seen)
	}
}

func TestRelayNoServers(t *testing.T) {
	ex := testExchange(nil, nil)
	err := Relay(httptest.NewRecorder(), ex, testDeps(t), &proxy.UpstreamRequest{
		Method: http.MethodPost,
		Path:   "/items",
		Header: http.Header{},
	})
	if !errors.Is(err, apierrors.ErrUpstreamExhausted) {
		t.Errorf("err = %v, want GTW006", err)
	}
}

func TestAttachCreditKeys(t *testing.T) {
	h := http.Header{}
	h.Set("X-Api-Key", "stale")

	AttachCreditKeys(h, &credits.Deduction{Header: "x-api-key", Keys: []string{"fresh"}})
	if got := h.Values("X-Api-Key"); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("values = %v, want the deducted key only", got)
	}

	AttachCreditKeys(h, nil)
	if got := h.Values("X-Api-Key"); len(got) != 1 {
		t.Errorf("nil deduction must not touch headers, got %v", got)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	var m Metrics
	start := time.Now()
	m.Done(start, nil)
	m.Done(start, nil)
	m.Done(start, errors.New("boom"))

	snap := m.Snapshot("rest")
	if snap.Requests != 3 || snap.Successes != 2 || snap.Failures != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Protocol != "rest" {
		t.Errorf("protocol = %q", snap.Protocol)
	}
}

func TestRegistry(t *testing.T) {
	Register("testproto", func(deps Deps) Dispatcher { return fakeDispatcher{} })

	d, err := New("testproto", Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != "fake" {
		t.Errorf("Name = %q", d.Name())
	}

	if _, err := New("nope", Deps{}); err == nil {
		t.Error("unknown protocol should error")
	}
}

type fakeDispatcher struct{}

func (fakeDispatcher) Name() string { return "fake" }
func (fakeDispatcher) Dispatch(w http.ResponseWriter, ex *Exchange) error { return nil }
func (fakeDispatcher) Stats() *MetricsSnapshot { return nil }
