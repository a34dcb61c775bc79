package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/config"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/oracle"
)

const (
	defaultNowPaymentsEndpoint = "https://api.nowpayments.io/v1/exchange/rates"
	defaultCoinGeckoEndpoint   = "https://api.coingecko.com/api/v3/simple/price"
)

// HTTPDoer is the subset of *http.Client used by the HTTP sources.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry constructs price sources from configuration.
type Registry struct {
	HTTPClient HTTPDoer
	Now        func() time.Time
}

// NewRegistry builds a registry with a bounded HTTP client.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}, Now: time.Now}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(src config.Source) (oracle.Source, error) {
	switch strings.ToLower(strings.TrimSpace(src.Type)) {
	case "static":
		rate, err := decimal.NewFromString(strings.TrimSpace(src.Price))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("static source %q: invalid price %q", src.Name, src.Price)
		}
		return &staticSource{name: label(src.Name, "static"), rate: rate, now: r.clock()}, nil
	case "nowpayments":
		return &nowPaymentsSource{
			name:     label(src.Name, "nowpayments"),
			client:   r.client(),
			endpoint: endpointOr(src.Endpoint, defaultNowPaymentsEndpoint),
			apiKey:   strings.TrimSpace(src.APIKey),
		}, nil
	case "coingecko":
		return &coinGeckoSource{
			name:     label(src.Name, "coingecko"),
			client:   r.client(),
			endpoint: endpointOr(src.Endpoint, defaultCoinGeckoEndpoint),
			ids:      normaliseAssets(src.Assets),
		}, nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", src.Type)
	}
}

// BuildAll builds every configured source.
func (r *Registry) BuildAll(sources []config.Source) ([]oracle.Source, error) {
	out := make([]oracle.Source, 0, len(sources))
	for _, src := range sources {
		built, err := r.Build(src)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}

func (r *Registry) client() HTTPDoer {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (r *Registry) clock() func() time.Time {
	if r.Now != nil {
		return r.Now
	}
	return time.Now
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}

func endpointOr(endpoint, fallback string) string {
	if ep := strings.TrimSpace(endpoint); ep != "" {
		return ep
	}
	return fallback
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func normaliseAssets(assets map[string]string) map[string]string {
	out := make(map[string]string, len(assets))
	for k, v := range assets {
		out[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return out
}

type staticSource struct {
	name string
	rate decimal.Decimal
	now  func() time.Time
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(ctx context.Context, base, quote string) (oracle.Quote, error) {
	if err := ctx.Err(); err != nil {
		return oracle.Quote{}, err
	}
	return oracle.Quote{Rate: s.rate, Timestamp: s.now(), Source: s.name}, nil
}

type nowPaymentsSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
}

func (s *nowPaymentsSource) Name() string { return s.name }

func (s *nowPaymentsSource) Fetch(ctx context.Context, base, quote string) (oracle.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return oracle.Quote{}, err
	}
	values := url.Values{}
	values.Set("from", normaliseSymbol(base))
	values.Set("to", normaliseSymbol(quote))
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oracle.Quote{}, fmt.Errorf("nowpayments: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oracle.Quote{}, fmt.Errorf("nowpayments: decode: %w", err)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(payload.Rate))
	if err != nil || !rate.IsPositive() {
		return oracle.Quote{}, fmt.Errorf("nowpayments: invalid rate %q", payload.Rate)
	}
	return oracle.Quote{Rate: rate, Timestamp: time.Unix(payload.Timestamp, 0), Source: s.name}, nil
}

type coinGeckoSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	ids      map[string]string
}

func (s *coinGeckoSource) Name() string { return s.name }

func (s *coinGeckoSource) id(symbol string) string {
	if id, ok := s.ids[normaliseSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// Fetch prices base in units of quote. Both symbols go through the asset map;
// the quote resolves to a CoinGecko vs_currency.
func (s *coinGeckoSource) Fetch(ctx context.Context, base, quote string) (oracle.Quote, error) {
	id := s.id(base)
	vs := strings.ToLower(s.id(quote))
	if id == "" || vs == "" {
		return oracle.Quote{}, fmt.Errorf("coingecko: unmapped pair %s/%s", base, quote)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return oracle.Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vs)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oracle.Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return oracle.Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return oracle.Quote{}, fmt.Errorf("coingecko: quote missing for %s", id)
	}
	raw, ok := entry[vs]
	if !ok {
		return oracle.Quote{}, fmt.Errorf("coingecko: no %s price for %s", vs, id)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || !rate.IsPositive() {
		return oracle.Quote{}, fmt.Errorf("coingecko: invalid rate %q", raw.String())
	}
	var ts time.Time
	if updated, ok := entry["last_updated_at"]; ok {
		if secs, err := strconv.ParseInt(updated.String(), 10, 64); err == nil && secs > 0 {
			ts = time.Unix(secs, 0)
		}
	}
	return oracle.Quote{Rate: rate, Timestamp: ts, Source: s.name}, nil
}
