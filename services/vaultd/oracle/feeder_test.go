package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
)

type fakeSource struct {
	name  string
	quote Quote
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	_ = ctx
	if f.err != nil {
		return Quote{}, f.err
	}
	return f.quote, nil
}

type capturingSubmitter struct {
	prices []*uint256.Int
	caller common.Address
	err    error
}

func (c *capturingSubmitter) UpdatePrice(ctx context.Context, caller common.Address, price *uint256.Int) ([]*types.Event, error) {
	_ = ctx
	c.caller = caller
	if c.err != nil {
		return nil, c.err
	}
	c.prices = append(c.prices, new(uint256.Int).Set(price))
	return nil, nil
}

var feederAccount = common.HexToAddress("0xfe")

func openStore(t *testing.T, name string) *storage.Storage {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN(name))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func quoteAt(name, rate string, ts time.Time) *fakeSource {
	return &fakeSource{name: name, quote: Quote{Rate: decimal.RequireFromString(rate), Timestamp: ts, Source: name}}
}

func settings(minFeeds int) Settings {
	return Settings{Base: "EUI", Quote: "EUD", Interval: time.Second, MaxAge: time.Minute, MinFeeds: minFeeds}
}

func TestTickSubmitsMedian(t *testing.T) {
	store := openStore(t, "feeder_median")
	now := time.Unix(1_700_000_000, 0)
	sources := []Source{
		quoteAt("alpha", "1.0", now),
		quoteAt("beta", "1.2", now),
		quoteAt("gamma", "1.4", now),
		quoteAt("stale", "9.9", now.Add(-2*time.Minute)),
		quoteAt("future", "9.9", now.Add(time.Minute)),
		&fakeSource{name: "broken", err: fmt.Errorf("timeout")},
	}
	sub := &capturingSubmitter{}
	feeder, err := New(store, sub, feederAccount, sources, settings(2), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(sub.prices) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.prices))
	}
	want := new(uint256.Int).Mul(uint256.NewInt(12), uint256.NewInt(100_000_000_000_000_000))
	if !sub.prices[0].Eq(want) {
		t.Fatalf("unexpected submitted price: %s", sub.prices[0])
	}
	if sub.caller != feederAccount {
		t.Fatalf("unexpected caller: %s", sub.caller.Hex())
	}
	round, err := store.LatestRound(context.Background(), "EUI/EUD")
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Median != "1.200000000000000000" || len(round.Samples) != 3 {
		t.Fatalf("unexpected round: %+v", round)
	}
	n, err := store.CountSamples(context.Background(), "EUI/EUD")
	if err != nil {
		t.Fatalf("count samples: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected only fresh samples recorded, got %d", n)
	}
}

func TestTickEvenMedian(t *testing.T) {
	got := computeMedian([]decimal.Decimal{
		decimal.RequireFromString("1.000000000000000001"),
		decimal.RequireFromString("1.000000000000000002"),
	})
	if got.StringFixed(19) != "1.0000000000000000015" {
		t.Fatalf("unexpected median: %s", got)
	}
}

func TestTickInsufficientFeeds(t *testing.T) {
	store := openStore(t, "feeder_insufficient")
	now := time.Unix(1_700_000_000, 0)
	sub := &capturingSubmitter{}
	feeder, err := New(store, sub, feederAccount, []Source{quoteAt("alpha", "1.1", now)}, settings(2), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); !errors.Is(err, ErrInsufficientFeeds) {
		t.Fatalf("expected insufficient feeds, got %v", err)
	}
	if len(sub.prices) != 0 {
		t.Fatalf("expected no submission")
	}
}

func TestGuardrailRejectionIsRecorded(t *testing.T) {
	store := openStore(t, "feeder_guardrail")
	now := time.Unix(1_700_000_000, 0)
	sub := &capturingSubmitter{err: fmt.Errorf("%w: update before delay", nativecommon.ErrGuardrailViolation)}
	feeder, err := New(store, sub, feederAccount, []Source{quoteAt("alpha", "1.1", now)}, settings(1), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("guardrail rejection should not fail the tick: %v", err)
	}
	subs, err := store.RecentSubmissions(context.Background(), 1)
	if err != nil {
		t.Fatalf("recent submissions: %v", err)
	}
	if len(subs) != 1 || subs[0].Result != "guardrail_violation" || subs[0].Reason == "" {
		t.Fatalf("unexpected submission audit: %+v", subs)
	}

	sub.err = fmt.Errorf("%w: missing role", nativecommon.ErrUnauthorized)
	if err := feeder.Tick(context.Background()); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized to surface, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := openStore(t, "feeder_run")
	sub := &capturingSubmitter{}
	feeder, err := New(store, sub, feederAccount, []Source{quoteAt("alpha", "1.1", time.Now())}, settings(1))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feeder did not stop")
	}
	if len(sub.prices) == 0 {
		t.Fatalf("expected the first tick to submit")
	}
}
