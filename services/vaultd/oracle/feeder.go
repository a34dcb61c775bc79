package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/observability"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
)

// ErrInsufficientFeeds is returned when fewer than the configured minimum of
// sources produced a usable quote.
var ErrInsufficientFeeds = errors.New("insufficient oracle feeds")

const futureSkew = 5 * time.Second

// Quote is a Cash-per-Invest rate reported by a source.
type Quote struct {
	Rate      decimal.Decimal
	Timestamp time.Time
	Source    string
}

// Source resolves a price quote for a currency pair.
type Source interface {
	Name() string
	Fetch(ctx context.Context, base, quote string) (Quote, error)
}

// Submitter publishes a price to the ledger oracle.
type Submitter interface {
	UpdatePrice(ctx context.Context, caller common.Address, price *uint256.Int) ([]*types.Event, error)
}

// Settings tunes the aggregation loop.
type Settings struct {
	Base     string
	Quote    string
	Interval time.Duration
	MaxAge   time.Duration
	MinFeeds int
}

// Feeder polls the configured sources, takes the median of the fresh quotes
// and submits it to the ledger as the oracle account.
type Feeder struct {
	logger    *slog.Logger
	storage   *storage.Storage
	submitter Submitter
	account   common.Address
	sources   []Source
	settings  Settings
	metrics   *observability.FeederMetrics
	now       func() time.Time
	once      sync.Once
}

// Option configures a Feeder.
type Option func(*Feeder)

func WithLogger(l *slog.Logger) Option {
	return func(f *Feeder) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Feeder) {
		if now != nil {
			f.now = now
		}
	}
}

// New constructs a feeder.
func New(store *storage.Storage, submitter Submitter, account common.Address, sources []Source, settings Settings, opts ...Option) (*Feeder, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if settings.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if strings.TrimSpace(settings.Base) == "" || strings.TrimSpace(settings.Quote) == "" {
		return nil, fmt.Errorf("invalid pair configuration")
	}
	if settings.MaxAge <= 0 {
		settings.MaxAge = time.Minute
	}
	if settings.MinFeeds <= 0 {
		settings.MinFeeds = 1
	}
	f := &Feeder{
		logger:    slog.Default(),
		storage:   store,
		submitter: submitter,
		account:   account,
		sources:   append([]Source{}, sources...),
		settings:  settings,
		metrics:   observability.Feeder(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = f.logger.With("component", "oracle_feeder")
	return f, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feeder not configured")
	}
	ticker := time.NewTicker(f.settings.Interval)
	defer ticker.Stop()
	f.once.Do(func() {
		f.logger.Info("oracle feeder started",
			slog.Int("sources", len(f.sources)),
			slog.String("pair", f.pair()),
			slog.Duration("interval", f.settings.Interval))
	})
	for {
		if err := f.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("oracle tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Feeder) pair() string {
	return storage.Pair(f.settings.Base, f.settings.Quote)
}

// Tick performs a single aggregation and submission cycle. Guardrail
// rejections are recorded and do not fail the tick.
func (f *Feeder) Tick(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feeder not configured")
	}
	base, quote := f.settings.Base, f.settings.Quote
	now := f.now()
	quotes := make([]decimal.Decimal, 0, len(f.sources))
	samples := make([]storage.Sample, 0, len(f.sources))
	feeders := make([]string, 0, len(f.sources))
	for _, src := range f.sources {
		if src == nil {
			continue
		}
		q, err := src.Fetch(ctx, base, quote)
		if err != nil {
			f.metrics.RecordSample(src.Name(), "error")
			f.logger.Warn("oracle source failed", slog.String("source", src.Name()), slog.Any("error", err))
			continue
		}
		if !q.Rate.IsPositive() {
			f.metrics.RecordSample(src.Name(), "invalid")
			f.logger.Warn("oracle source returned invalid rate", slog.String("source", src.Name()))
			continue
		}
		if q.Timestamp.After(now.Add(futureSkew)) {
			f.metrics.RecordSample(src.Name(), "future")
			f.logger.Warn("oracle source produced future timestamp", slog.String("source", src.Name()))
			continue
		}
		if q.Timestamp.Before(now.Add(-f.settings.MaxAge)) {
			f.metrics.RecordSample(src.Name(), "stale")
			f.logger.Warn("oracle source quote expired", slog.String("source", src.Name()), slog.Time("observed_at", q.Timestamp))
			continue
		}
		f.metrics.RecordSample(src.Name(), "ok")
		feeders = append(feeders, src.Name())
		quotes = append(quotes, q.Rate)
		samples = append(samples, storage.Sample{Source: src.Name(), Rate: q.Rate.String(), ObservedAt: q.Timestamp})
	}
	if len(quotes) < f.settings.MinFeeds {
		return fmt.Errorf("%w for %s: have %d, need %d", ErrInsufficientFeeds, f.pair(), len(quotes), f.settings.MinFeeds)
	}
	median := computeMedian(quotes)
	if !median.IsPositive() {
		return fmt.Errorf("median computation failed for %s", f.pair())
	}
	proof := proofID(base, quote, feeders, now)
	medianStr := median.StringFixed(nativecommon.Decimals)
	round := storage.Round{ProofID: proof, Pair: f.pair(), Median: medianStr, Samples: samples, RecordedAt: now}
	if err := f.storage.RecordRound(ctx, round); err != nil {
		return fmt.Errorf("record round: %w", err)
	}
	price, err := nativecommon.ParseFixed18(medianStr)
	if err != nil {
		return fmt.Errorf("scale median: %w", err)
	}
	return f.submit(ctx, price, medianStr, median, proof, now)
}

func (f *Feeder) submit(ctx context.Context, price *uint256.Int, medianStr string, median decimal.Decimal, proof string, now time.Time) error {
	_, err := f.submitter.UpdatePrice(ctx, f.account, price)
	result := nativecommon.Kind(err)
	sub := storage.Submission{Price: medianStr, Result: result, ProofID: proof, SubmittedAt: now}
	if err != nil {
		sub.Reason = err.Error()
	}
	if recErr := f.storage.RecordSubmission(ctx, sub); recErr != nil {
		f.logger.Error("record submission", slog.Any("error", recErr))
	}
	f.metrics.RecordSubmission(result, median.InexactFloat64(), now)
	switch {
	case err == nil:
		f.logger.Info("oracle price submitted", slog.String("price", medianStr), slog.String("proof_id", proof))
		return nil
	case errors.Is(err, nativecommon.ErrGuardrailViolation):
		f.logger.Warn("oracle price rejected by guardrail", slog.String("price", medianStr), slog.Any("error", err))
		return nil
	default:
		return fmt.Errorf("submit price: %w", err)
	}
}

func computeMedian(quotes []decimal.Decimal) decimal.Decimal {
	if len(quotes) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal{}, quotes...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Mul(decimal.RequireFromString("0.5"))
}

func proofID(base, quote string, feeders []string, ts time.Time) string {
	digest := sha256.New()
	digest.Write([]byte(strings.ToUpper(strings.TrimSpace(base))))
	digest.Write([]byte("/"))
	digest.Write([]byte(strings.ToUpper(strings.TrimSpace(quote))))
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, name := range sorted {
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}
