package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core"
	"github.com/minanew12/eurodollar-protocol-sub001/core/genesis"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/oracle"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
	ledgerstore "github.com/minanew12/eurodollar-protocol-sub001/storage"
)

var (
	adminAcct  = common.HexToAddress("0xad")
	feederAcct = common.HexToAddress("0xfe")
	pauserAcct = common.HexToAddress("0xbb")
	aliceAcct  = common.HexToAddress("0x01")
	holderAcct = common.HexToAddress("0xc0")
)

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), nativecommon.Scale)
}

type testEnv struct {
	server  *Server
	handler http.Handler
	store   *storage.Storage
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	spec := &genesis.Spec{
		CashUnit:      "EUD",
		InvestUnit:    "EUI",
		CashVariant:   permissions.BlockList,
		InvestVariant: permissions.AllowList,
		Oracle: oracle.Params{
			CurrentPrice:     e18(1),
			OldPrice:         e18(1),
			MaxPriceIncrease: new(uint256.Int).Div(nativecommon.Scale, uint256.NewInt(10)),
			Delay:            3600,
			LastUpdate:       1_700_000_000,
		},
		Roles: map[nativecommon.Role][]common.Address{
			nativecommon.RoleAdmin:  {adminAcct},
			nativecommon.RoleOracle: {feederAcct},
			nativecommon.RolePauser: {pauserAcct},
		},
		Allowed: []common.Address{aliceAcct},
		Holder:  holderAcct,
		Alloc: []genesis.Allocation{
			{Unit: "EUD", Account: aliceAcct, Amount: e18(1000)},
		},
	}
	now := time.Unix(1_700_000_000, 0)
	ledger, err := core.NewLedger(ledgerstore.NewMemDB(), spec, core.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	store, err := storage.Open(storage.MemoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	auth, err := NewAuthenticator([]Credential{
		{Name: "alice", Token: "alice-token", Account: aliceAcct},
		{Name: "feeder", Token: "feeder-token", Account: feederAcct},
		{Name: "pauser", Token: "pauser-token", Account: pauserAcct},
	}, true)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	if limit.RequestsPerSecond == 0 {
		limit = RateLimit{RequestsPerSecond: 1000, Burst: 1000}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(Config{ListenAddress: ":0", RateLimit: limit}, ledger, store, auth, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{server: srv, handler: srv.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	expectStatus(t, env.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestWritesRequireToken(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/vault/deposit", "", vaultRequest{Amount: "1"})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, http.MethodPost, "/v1/vault/deposit", "wrong", vaultRequest{Amount: "1"})
	expectStatus(t, rec, http.StatusUnauthorized)

	// reads are open
	expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle", "", nil), http.StatusOK)
}

func TestUnauthorizedCallerMapsTo403(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/oracle/price", "alice-token", priceRequest{Price: "1.01"})
	expectStatus(t, rec, http.StatusForbidden)
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Kind != "unauthorized" {
		t.Fatalf("unexpected kind %q", body.Kind)
	}
}

func TestDepositRecordsReceipt(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	amount := e18(100).Dec()

	rec := env.do(t, http.MethodPost, "/v1/vault/deposit", "alice-token", vaultRequest{Amount: amount})
	expectStatus(t, rec, http.StatusOK)
	var resp vaultResponse
	decodeBody(t, rec, &resp)
	if resp.ReceiptID == "" {
		t.Fatalf("expected receipt id")
	}
	if resp.AmountIn != amount || resp.AmountOut != amount {
		t.Fatalf("unexpected amounts in=%s out=%s", resp.AmountIn, resp.AmountOut)
	}
	if len(resp.Events) == 0 {
		t.Fatalf("expected events in response")
	}

	rec = env.do(t, http.MethodGet, "/v1/vault/receipts/"+resp.ReceiptID, "", nil)
	expectStatus(t, rec, http.StatusOK)
	var conv storage.Conversion
	decodeBody(t, rec, &conv)
	if conv.Operation != core.OpDeposit || conv.AmountOut != amount {
		t.Fatalf("unexpected receipt: %+v", conv)
	}

	rec = env.do(t, http.MethodGet, "/v1/tokens/EUI/balances/"+aliceAcct.Hex(), "", nil)
	expectStatus(t, rec, http.StatusOK)
	var bal map[string]string
	decodeBody(t, rec, &bal)
	if bal["balance"] != amount {
		t.Fatalf("unexpected share balance %q", bal["balance"])
	}

	expectStatus(t, env.do(t, http.MethodGet, "/v1/vault/receipts/missing", "", nil), http.StatusNotFound)
}

func TestPreviewAndLimits(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodGet, "/v1/vault/preview?op=deposit&amount=500", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var preview map[string]string
	decodeBody(t, rec, &preview)
	if preview["result"] != "500" {
		t.Fatalf("unexpected preview %v", preview)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/v1/vault/preview?op=swap&amount=1", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/vault/preview?op=mint&amount=abc", "", nil), http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/v1/vault/limits/"+aliceAcct.Hex(), "", nil)
	expectStatus(t, rec, http.StatusOK)
	var limits map[string]string
	decodeBody(t, rec, &limits)
	if limits["max_deposit"] != nativecommon.MaxUint256.Dec() {
		t.Fatalf("unexpected max deposit %q", limits["max_deposit"])
	}
}

func TestPausedInvestRejectsWrites(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	expectStatus(t, env.do(t, http.MethodPost, "/v1/pause/invest", "pauser-token", nil), http.StatusOK)

	rec := env.do(t, http.MethodGet, "/v1/pause/EUI", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var status map[string]bool
	decodeBody(t, rec, &status)
	if !status["paused"] {
		t.Fatalf("expected invest to be paused")
	}

	rec = env.do(t, http.MethodPost, "/v1/tokens/EUI/transfer", "alice-token", transferRequest{To: holderAcct.Hex(), Amount: "1"})
	expectStatus(t, rec, http.StatusConflict)

	// vault limits drop to zero while paused
	rec = env.do(t, http.MethodPost, "/v1/vault/deposit", "alice-token", vaultRequest{Amount: "10"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Kind != "exceeds_max" {
		t.Fatalf("unexpected kind %q", body.Kind)
	}
}

func TestGuardrailRejectionIsAudited(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/oracle/price", "feeder-token", priceRequest{Price: "2"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Kind != "guardrail_violation" {
		t.Fatalf("unexpected kind %q", body.Kind)
	}

	rec = env.do(t, http.MethodGet, "/v1/oracle/submissions?limit=5", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var subs struct {
		Submissions []storage.Submission `json:"submissions"`
	}
	decodeBody(t, rec, &subs)
	if len(subs.Submissions) != 1 || subs.Submissions[0].Result != "guardrail_violation" {
		t.Fatalf("unexpected submissions %+v", subs.Submissions)
	}
}

func TestFeederRoundLookup(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle/rounds/latest", "", nil), http.StatusNotFound)

	err := env.store.RecordRound(context.Background(), storage.Round{
		ProofID: "abc123",
		Pair:    "EUI/EUD",
		Median:  "1.010000000000000000",
		Samples: []storage.Sample{{Source: "static", Rate: "1.01", ObservedAt: time.Unix(1_700_000_000, 0)}},
	})
	if err != nil {
		t.Fatalf("record round: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/v1/oracle/rounds/latest", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var round storage.Round
	decodeBody(t, rec, &round)
	if round.ProofID != "abc123" || len(round.Samples) != 1 {
		t.Fatalf("unexpected round %+v", round)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle/rounds/abc123", "", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle/rounds/latest?pair=EUD/EUI", "", nil), http.StatusNotFound)
}

func TestUnknownUnitIs404(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	expectStatus(t, env.do(t, http.MethodGet, "/v1/tokens/XYZ/supply", "", nil), http.StatusNotFound)
}

func TestUnknownVaultOpIs400(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/vault/swap", "alice-token", vaultRequest{Amount: "1"})
	expectStatus(t, rec, http.StatusBadRequest)
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Kind != "bad_request" {
		t.Fatalf("unexpected kind %q", body.Kind)
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	body := map[string]string{"amount": "1", "memo": "x"}
	expectStatus(t, env.do(t, http.MethodPost, "/v1/tokens/EUD/transfer", "alice-token", body), http.StatusBadRequest)
}

func TestRateLimitReturns429(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle", "alice-token", nil), http.StatusOK)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle", "alice-token", nil), http.StatusTooManyRequests)
	// other callers keep their own bucket
	expectStatus(t, env.do(t, http.MethodGet, "/v1/oracle", "feeder-token", nil), http.StatusOK)
}
