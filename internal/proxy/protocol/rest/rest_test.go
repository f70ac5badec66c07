package rest

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	"github.com/apidoorman/doorman-sub003/internal/catalog"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cat := catalog.New(store.NewMemory(), cache.New(256, time.Minute), 10)
	return &Dispatcher{deps: protocol.Deps{
		Selector:  proxy.NewSelector(cat),
		Forwarder: proxy.NewForwarder(proxy.NewTransportPool(proxy.DefaultTransportConfig()), 5*time.Second),
	}}
}

func restExchange(api *model.API, method, uri, query string, body []byte) *protocol.Exchange {
	r := httptest.NewRequest(method, "http://gw.example/api/rest/"+api.APIName+"/"+api.APIVersion+uri, nil)
	return &protocol.Exchange{
		Target: resolve.Target{
			Protocol:   resolve.ProtocolREST,
			Method:     method,
			APIName:    api.APIName,
			APIVersion: api.APIVersion,
			URI:        uri,
		},
		Resolution: &resolve.Resolution{
			API: api,
			Endpoint: &model.Endpoint{
				APIName:        api.APIName,
				APIVersion:     api.APIVersion,
				EndpointMethod: method,
				EndpointURI:    uri,
			},
		},
		RequestID: "req-rest",
		RawQuery:  query,
		Body:      body,
		Request:   r,
	}
}

func TestDispatchForwardsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/items/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.RawQuery != "expand=notes" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Request-ID") != "req-rest" {
			t.Error("request id not propagated upstream")
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer upstream.Close()

	api := &model.API{
		APIName: "orders", APIVersion: "v1", APIType: model.TypeREST,
		APIServers: []string{upstream.URL}, Active: true,
	}
	ex := restExchange(api, http.MethodPut, "/items/42", "expand=notes", []byte(`{"qty":3}`))

	w := httptest.NewRecorder()
	if err := newDispatcher(t).Dispatch(w, ex); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if w.Body.String() != `{"qty":3}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDispatchFiltersHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant-ID") != "t-7" {
			t.Error("allowed header should reach the upstream")
		}
		if r.Header.Get("X-Secret") != "" {
			t.Error("unlisted header leaked upstream")
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("gateway credentials leaked upstream")
		}
	}))
	defer upstream.Close()

	api := &model.API{
		APIName: "orders", APIVersion: "v1", APIType: model.TypeREST,
		APIServers:        []string{upstream.URL},
		APIAllowedHeaders: []string{"X-Tenant-ID"},
		Active:            true,
	}
	ex := restExchange(api, http.MethodGet, "/items", "", nil)
	ex.Request.Header.Set("X-Tenant-ID", "t-7")
	ex.Request.Header.Set("X-Secret", "shh")
	ex.Request.Header.Set("Authorization", "Bearer gw-token")

	if err := newDispatcher(t).Dispatch(httptest.NewRecorder(), ex); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchUpstreamErrorBubbles(t *testing.T) {
	api := &model.API{
		APIName: "orders", APIVersion: "v1", APIType: model.TypeREST,
		APIServers: []string{"http://127.0.0.1:1"}, Active: true,
	}
	ex := restExchange(api, http.MethodGet, "/items", "", nil)

	d := newDispatcher(t)
	err := d.Dispatch(httptest.NewRecorder(), ex)
	if !errors.Is(err, apierrors.ErrUpstreamExhausted) {
		t.Errorf("err = %v, want GTW006", err)
	}

	snap := d.Stats()
	if snap.Requests != 1 || snap.Failures != 1 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestDispatcherRegistered(t *testing.T) {
	d, err := protocol.New(resolve.ProtocolREST, protocol.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != resolve.ProtocolREST {
		t.Errorf("Name = %q", d.Name())
	}
}
