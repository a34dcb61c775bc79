package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
)

// Storage is the vaultd audit log: feeder rounds with their samples, price
// submissions and conversion receipts.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("vaultd storage path must be configured")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("vaultd storage: record not found")
)

// Open initialises the backing store using a sqlite DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS feed_rounds (
    proof_id TEXT PRIMARY KEY,
    pair TEXT NOT NULL,
    median TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feed_rounds_pair ON feed_rounds(pair, recorded_at);

CREATE TABLE IF NOT EXISTS feed_samples (
    round_id TEXT NOT NULL REFERENCES feed_rounds(proof_id),
    source TEXT NOT NULL,
    rate TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    PRIMARY KEY (round_id, source)
);

CREATE TABLE IF NOT EXISTS price_submissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    price TEXT NOT NULL,
    result TEXT NOT NULL,
    reason TEXT NOT NULL,
    proof_id TEXT NOT NULL,
    submitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_submissions_ts ON price_submissions(submitted_at);

CREATE TABLE IF NOT EXISTS conversions (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    caller TEXT NOT NULL,
    receiver TEXT NOT NULL,
    owner TEXT NOT NULL,
    amount_in TEXT NOT NULL,
    amount_out TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversions_caller ON conversions(caller, created_at);
`

// Pair renders the canonical "BASE/QUOTE" key.
func Pair(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// Sample is one fresh upstream quote that took part in a round.
type Sample struct {
	Source     string    `json:"source"`
	Rate       string    `json:"rate"`
	ObservedAt time.Time `json:"observed_at"`
}

// Round is one feeder aggregation: the samples used and their median.
type Round struct {
	ProofID    string    `json:"proof_id"`
	Pair       string    `json:"pair"`
	Median     string    `json:"median"`
	Samples    []Sample  `json:"samples"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordRound stores a round and its samples in one transaction.
func (s *Storage) RecordRound(ctx context.Context, round Round) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(round.ProofID) == "" || strings.TrimSpace(round.Median) == "" {
		return fmt.Errorf("round requires proof id and median")
	}
	if round.RecordedAt.IsZero() {
		round.RecordedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin round: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feed_rounds(proof_id, pair, median, recorded_at) VALUES(?, ?, ?, ?)`,
		round.ProofID, strings.ToUpper(round.Pair), round.Median, round.RecordedAt.UTC().UnixNano()); err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	for _, sample := range round.Samples {
		if strings.TrimSpace(sample.Rate) == "" {
			return fmt.Errorf("sample %s missing rate", sample.Source)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feed_samples(round_id, source, rate, observed_at) VALUES(?, ?, ?, ?)`,
			round.ProofID, strings.ToLower(sample.Source), sample.Rate, sample.ObservedAt.UTC().Unix()); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// LatestRound returns the newest round recorded for pair.
func (s *Storage) LatestRound(ctx context.Context, pair string) (Round, error) {
	return s.loadRound(ctx,
		`SELECT proof_id, pair, median, recorded_at FROM feed_rounds WHERE pair = ? ORDER BY recorded_at DESC LIMIT 1`,
		strings.ToUpper(strings.TrimSpace(pair)))
}

// GetRound returns the round with the given proof id.
func (s *Storage) GetRound(ctx context.Context, proofID string) (Round, error) {
	return s.loadRound(ctx,
		`SELECT proof_id, pair, median, recorded_at FROM feed_rounds WHERE proof_id = ?`,
		strings.TrimSpace(proofID))
}

func (s *Storage) loadRound(ctx context.Context, query string, arg string) (Round, error) {
	var round Round
	if s == nil || s.db == nil {
		return round, fmt.Errorf("storage not configured")
	}
	var recorded int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&round.ProofID, &round.Pair, &round.Median, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return round, ErrNotFound
	}
	if err != nil {
		return round, fmt.Errorf("query round: %w", err)
	}
	round.RecordedAt = time.Unix(0, recorded).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, rate, observed_at FROM feed_samples WHERE round_id = ? ORDER BY source`, round.ProofID)
	if err != nil {
		return round, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sample Sample
		var observed int64
		if err := rows.Scan(&sample.Source, &sample.Rate, &observed); err != nil {
			return round, fmt.Errorf("scan sample: %w", err)
		}
		sample.ObservedAt = time.Unix(observed, 0).UTC()
		round.Samples = append(round.Samples, sample)
	}
	return round, rows.Err()
}

// CountSamples returns how many samples were used across every round of pair.
func (s *Storage) CountSamples(ctx context.Context, pair string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM feed_samples fs
        JOIN feed_rounds fr ON fr.proof_id = fs.round_id
        WHERE fr.pair = ?`, strings.ToUpper(strings.TrimSpace(pair))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

// Submission is the outcome of publishing a price to the ledger oracle.
type Submission struct {
	Price       string    `json:"price"`
	Result      string    `json:"result"`
	Reason      string    `json:"reason,omitempty"`
	ProofID     string    `json:"proof_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RecordSubmission appends a price submission outcome.
func (s *Storage) RecordSubmission(ctx context.Context, sub Submission) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(sub.Result) == "" {
		return fmt.Errorf("submission result required")
	}
	submitted := sub.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO price_submissions(price, result, reason, proof_id, submitted_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.TrimSpace(sub.Price), sub.Result, sub.Reason, sub.ProofID, submitted.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// RecentSubmissions returns up to limit submissions, newest first.
func (s *Storage) RecentSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT price, result, reason, proof_id, submitted_at
        FROM price_submissions
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()
	out := make([]Submission, 0)
	for rows.Next() {
		var (
			sub Submission
			ts  int64
		)
		if err := rows.Scan(&sub.Price, &sub.Result, &sub.Reason, &sub.ProofID, &ts); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.SubmittedAt = time.Unix(ts, 0).UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// Conversion is the receipt of a vault operation.
type Conversion struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Caller    string    `json:"caller"`
	Receiver  string    `json:"receiver"`
	Owner     string    `json:"owner"`
	AmountIn  string    `json:"amount_in"`
	AmountOut string    `json:"amount_out"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordConversion stores a receipt and returns its identifier. A fresh uuid
// is assigned when ID is empty.
func (s *Storage) RecordConversion(ctx context.Context, conv Conversion) (string, error) {
	if s == nil {
		return "", fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(conv.Operation) == "" {
		return "", fmt.Errorf("conversion operation required")
	}
	id := strings.TrimSpace(conv.ID)
	if id == "" {
		id = uuid.NewString()
	}
	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO conversions(id, operation, caller, receiver, owner, amount_in, amount_out, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, id, conv.Operation, strings.ToLower(conv.Caller), strings.ToLower(conv.Receiver), strings.ToLower(conv.Owner),
		conv.AmountIn, conv.AmountOut, created.UTC().Unix())
	if err != nil {
		return "", fmt.Errorf("insert conversion: %w", err)
	}
	return id, nil
}

// GetConversion loads a receipt by id.
func (s *Storage) GetConversion(ctx context.Context, id string) (Conversion, error) {
	conv := Conversion{}
	if s == nil {
		return conv, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, operation, caller, receiver, owner, amount_in, amount_out, created_at
        FROM conversions
        WHERE id = ?
    `, strings.TrimSpace(id))
	var ts int64
	if err := row.Scan(&conv.ID, &conv.Operation, &conv.Caller, &conv.Receiver, &conv.Owner, &conv.AmountIn, &conv.AmountOut, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conv, ErrNotFound
		}
		return conv, fmt.Errorf("query conversion: %w", err)
	}
	conv.CreatedAt = time.Unix(ts, 0).UTC()
	return conv, nil
}
