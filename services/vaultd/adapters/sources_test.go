package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/config"
)

func TestStaticSource(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := &Registry{Now: func() time.Time { return now }}
	src, err := reg.Build(config.Source{Type: "static", Price: "1.0425"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if src.Name() != "static" {
		t.Fatalf("unexpected name: %s", src.Name())
	}
	q, err := src.Fetch(context.Background(), "EUI", "EUD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.Rate.String() != "1.0425" || !q.Timestamp.Equal(now) {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if _, err := reg.Build(config.Source{Type: "static", Price: "-1"}); err == nil {
		t.Fatalf("expected negative static price to be rejected")
	}
	if _, err := reg.Build(config.Source{Type: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestNowPaymentsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") != "EUI" || r.URL.Query().Get("to") != "EUD" {
			http.Error(w, "bad pair", http.StatusBadRequest)
			return
		}
		if r.Header.Get("x-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"rate":"1.0512","timestamp":1700000000}`))
	}))
	defer srv.Close()

	reg := &Registry{HTTPClient: srv.Client()}
	src, err := reg.Build(config.Source{Name: "np", Type: "nowpayments", Endpoint: srv.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	q, err := src.Fetch(context.Background(), "eui", "eud")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.Rate.String() != "1.0512" || q.Timestamp.Unix() != 1_700_000_000 || q.Source != "np" {
		t.Fatalf("unexpected quote: %+v", q)
	}

	bad, _ := reg.Build(config.Source{Type: "nowpayments", Endpoint: srv.URL})
	if _, err := bad.Fetch(context.Background(), "EUI", "EUD"); err == nil {
		t.Fatalf("expected error status to surface")
	}
}

func TestCoinGeckoSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "eurodollar-invest" || r.URL.Query().Get("vs_currencies") != "eur" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"eurodollar-invest":{"eur":1.0731,"last_updated_at":1700000100}}`))
	}))
	defer srv.Close()

	reg := &Registry{HTTPClient: srv.Client()}
	src, err := reg.Build(config.Source{
		Type:     "coingecko",
		Endpoint: srv.URL,
		Assets:   map[string]string{"eui": "eurodollar-invest", "EUD": "EUR"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	q, err := src.Fetch(context.Background(), "EUI", "EUD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.Rate.String() != "1.0731" || q.Timestamp.Unix() != 1_700_000_100 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if _, err := src.Fetch(context.Background(), "XYZ", "EUD"); err == nil {
		t.Fatalf("expected missing asset to fail")
	}
}
