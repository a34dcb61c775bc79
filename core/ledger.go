package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	"github.com/minanew12/eurodollar-protocol-sub001/core/genesis"
	"github.com/minanew12/eurodollar-protocol-sub001/core/state"
	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
	"github.com/minanew12/eurodollar-protocol-sub001/native/access"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/freeze"
	"github.com/minanew12/eurodollar-protocol-sub001/native/oracle"
	"github.com/minanew12/eurodollar-protocol-sub001/native/pause"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
	"github.com/minanew12/eurodollar-protocol-sub001/native/token"
	"github.com/minanew12/eurodollar-protocol-sub001/native/vault"
	"github.com/minanew12/eurodollar-protocol-sub001/observability"
	"github.com/minanew12/eurodollar-protocol-sub001/storage"
)

var (
	ErrUnknownUnit = errors.New("ledger: unknown unit")
	errNilDatabase = errors.New("ledger: database must not be nil")
	errNilGenesis  = errors.New("ledger: genesis spec must not be nil")
)

var genesisKey = []byte("genesis/applied")

// Ledger serialises every operation on the two-unit ledger. Each call wires the
// engines over a fresh state journal and either commits all of its writes in
// one batch or discards them.
type Ledger struct {
	stateMu sync.Mutex
	db      storage.Database
	spec    *genesis.Spec
	now     func() time.Time
	sink    events.Emitter
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	tracer  trace.Tracer
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used by the oracle delay guard.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithEmitter forwards committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.sink = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger opens the ledger on db, applying spec when the database has not
// been initialised yet. Later runs keep the persisted state; only the unit
// symbols, list variants and custodial holder are read from spec.
func NewLedger(db storage.Database, spec *genesis.Spec, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	if spec == nil {
		return nil, errNilGenesis
	}
	l := &Ledger{
		db:      db,
		spec:    spec,
		now:     time.Now,
		sink:    events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: observability.Ledger(),
		tracer:  otel.Tracer("github.com/minanew12/eurodollar-protocol-sub001/core"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	if err := l.applyGenesis(); err != nil {
		return nil, err
	}
	l.refreshPriceMetrics()
	return l, nil
}

type modules struct {
	state        *state.Manager
	access       *access.Controller
	pauses       *pause.Controller
	cash         *token.Ledger
	invest       *token.Ledger
	cashList     *permissions.Registry
	investList   *permissions.Registry
	cashFreeze   *freeze.Ledger
	investFreeze *freeze.Ledger
	oracle       *oracle.Oracle
	vault        *vault.Engine
}

func (l *Ledger) wire(mgr *state.Manager, emitter events.Emitter) *modules {
	m := &modules{state: mgr}

	m.access = access.NewController()
	m.access.SetState(mgr)
	m.access.SetEmitter(emitter)

	m.pauses = pause.NewController(m.access)
	m.pauses.SetState(mgr)
	m.pauses.SetEmitter(emitter)

	m.cashList = permissions.NewRegistry(nativecommon.ModuleCash, l.spec.CashVariant, m.access)
	m.cashList.SetState(mgr)
	m.cashList.SetEmitter(emitter)
	m.investList = permissions.NewRegistry(nativecommon.ModuleInvest, l.spec.InvestVariant, m.access)
	m.investList.SetState(mgr)
	m.investList.SetEmitter(emitter)

	m.cash = l.newToken(mgr, emitter, l.spec.CashUnit, nativecommon.ModuleCash, m.cashList, m)
	m.invest = l.newToken(mgr, emitter, l.spec.InvestUnit, nativecommon.ModuleInvest, m.investList, m)

	m.cashFreeze = l.newFreeze(mgr, emitter, m.cash, m.cashList, m.access)
	m.investFreeze = l.newFreeze(mgr, emitter, m.invest, m.investList, m.access)

	m.oracle = oracle.New(m.access)
	m.oracle.SetState(mgr)
	m.oracle.SetPauses(m.pauses)
	m.oracle.SetEmitter(emitter)
	m.oracle.SetClock(l.now)

	m.pauses.OnPause(nativecommon.ModuleInvest, m.oracle.CaptureSnapshot)
	m.pauses.OnUnpause(nativecommon.ModuleInvest, m.oracle.ClearSnapshot)

	m.vault = vault.NewEngine(m.cash, m.invest, m.oracle)
	m.vault.SetPauses(m.pauses)
	m.vault.SetJournal(mgr)
	m.vault.SetEmitter(emitter)
	return m
}

func (l *Ledger) newToken(mgr *state.Manager, emitter events.Emitter, unit, module string, list *permissions.Registry, m *modules) *token.Ledger {
	ledger := token.NewLedger(unit, module)
	ledger.SetState(mgr)
	ledger.SetPauses(m.pauses)
	ledger.SetValidator(list)
	ledger.SetCapabilities(m.access)
	ledger.SetEmitter(emitter)
	return ledger
}

func (l *Ledger) newFreeze(mgr *state.Manager, emitter events.Emitter, tokens *token.Ledger, list *permissions.Registry, caps nativecommon.Capabilities) *freeze.Ledger {
	ledger := freeze.NewLedger(tokens, list, caps)
	ledger.SetState(mgr)
	ledger.SetHolder(l.spec.Holder)
	ledger.SetEmitter(emitter)
	return ledger
}

func (l *Ledger) applyGenesis() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	mgr := state.NewManager(l.db)
	var applied bool
	if _, err := mgr.KVGet(genesisKey, &applied); err != nil {
		return fmt.Errorf("ledger: read genesis marker: %w", err)
	}
	if applied {
		return nil
	}
	m := l.wire(mgr, events.NoopEmitter{})
	err := mgr.Atomic(func() error {
		for _, role := range l.spec.SortedRoles() {
			for _, addr := range l.spec.Roles[role] {
				if err := m.access.Bootstrap(role, addr); err != nil {
					return err
				}
			}
		}
		if err := m.oracle.Init(l.spec.Oracle); err != nil {
			return err
		}
		for _, addr := range l.spec.Blocked {
			if err := m.cashList.Seed(addr, permissions.StatusBlocked); err != nil {
				return err
			}
		}
		for _, addr := range l.spec.Allowed {
			if err := m.investList.Seed(addr, permissions.StatusAllowed); err != nil {
				return err
			}
		}
		if l.spec.Holder != (common.Address{}) {
			for _, list := range []*permissions.Registry{m.cashList, m.investList} {
				if list.Variant() == permissions.AllowList {
					if err := list.Seed(l.spec.Holder, permissions.StatusAllowed); err != nil {
						return err
					}
				}
			}
		}
		for _, alloc := range l.spec.Alloc {
			units, err := m.units(alloc.Unit)
			if err != nil {
				return err
			}
			if err := units.Mint(alloc.Account, alloc.Amount); err != nil {
				return fmt.Errorf("alloc %s to %s: %w", alloc.Unit, alloc.Account.Hex(), err)
			}
		}
		return mgr.KVPut(genesisKey, true)
	})
	if err != nil {
		mgr.Discard()
		return fmt.Errorf("ledger: apply genesis: %w", err)
	}
	if err := mgr.Commit(); err != nil {
		return err
	}
	l.logger.Info("genesis applied",
		slog.String("cash", l.spec.CashUnit),
		slog.String("invest", l.spec.InvestUnit),
		slog.Int("allocations", len(l.spec.Alloc)))
	return nil
}

// committedEvent adapts a rendered event for downstream emitters.
type committedEvent struct {
	evt *types.Event
}

func (c committedEvent) EventType() string   { return c.evt.Type }
func (c committedEvent) Event() *types.Event { return c.evt }

func (l *Ledger) exec(ctx context.Context, op string, fn func(m *modules) error) ([]*types.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := l.tracer.Start(ctx, "ledger."+op)
	defer span.End()
	start := time.Now()

	l.stateMu.Lock()
	mgr := state.NewManager(l.db)
	rec := &events.Recorder{}
	m := l.wire(mgr, rec)
	err := mgr.Atomic(func() error { return fn(m) })
	if err == nil {
		err = mgr.Commit()
	} else {
		mgr.Discard()
	}
	l.stateMu.Unlock()

	kind := nativecommon.Kind(err)
	l.metrics.Observe(op, kind, time.Since(start))
	span.SetAttributes(attribute.String("ledger.result", kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		if kind == "internal" {
			l.logger.Error("ledger operation failed", slog.String("operation", op), slog.Any("error", err))
		} else {
			l.logger.Debug("ledger operation rejected", slog.String("operation", op), slog.String("reason", kind), slog.Any("error", err))
		}
		return nil, err
	}
	committed := rec.Drain()
	for _, evt := range committed {
		observability.Events().RecordEvent(evt.Type)
		l.sink.Emit(committedEvent{evt: evt})
	}
	return committed, nil
}

func (l *Ledger) view(fn func(m *modules) error) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	mgr := state.NewManager(l.db)
	return fn(l.wire(mgr, events.NoopEmitter{}))
}

func (m *modules) units(unit string) (*token.Ledger, error) {
	switch resolveModule(unit, m.cash.Unit(), m.invest.Unit()) {
	case nativecommon.ModuleCash:
		return m.cash, nil
	case nativecommon.ModuleInvest:
		return m.invest, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
}

func (m *modules) registry(unit string) (*permissions.Registry, error) {
	switch resolveModule(unit, m.cash.Unit(), m.invest.Unit()) {
	case nativecommon.ModuleCash:
		return m.cashList, nil
	case nativecommon.ModuleInvest:
		return m.investList, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
}

func (m *modules) freezer(unit string) (*freeze.Ledger, error) {
	switch resolveModule(unit, m.cash.Unit(), m.invest.Unit()) {
	case nativecommon.ModuleCash:
		return m.cashFreeze, nil
	case nativecommon.ModuleInvest:
		return m.investFreeze, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
}

// resolveModule accepts either the module name ("cash", "invest") or the unit
// symbol.
func resolveModule(unit, cashSymbol, investSymbol string) string {
	trimmed := strings.TrimSpace(unit)
	switch {
	case strings.EqualFold(trimmed, nativecommon.ModuleCash), strings.EqualFold(trimmed, cashSymbol):
		return nativecommon.ModuleCash
	case strings.EqualFold(trimmed, nativecommon.ModuleInvest), strings.EqualFold(trimmed, investSymbol):
		return nativecommon.ModuleInvest
	}
	return ""
}

// Units returns the Cash and Invest symbols.
func (l *Ledger) Units() (cash, invest string) {
	return l.spec.CashUnit, l.spec.InvestUnit
}

// Module maps a unit symbol or module name to its pause module.
func (l *Ledger) Module(unit string) (string, error) {
	module := resolveModule(unit, l.spec.CashUnit, l.spec.InvestUnit)
	if module == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return module, nil
}

// Holder returns the custodial account that receives frozen funds.
func (l *Ledger) Holder() common.Address { return l.spec.Holder }

func (l *Ledger) refreshPriceMetrics() {
	st, err := l.OracleState()
	if err != nil {
		return
	}
	l.metrics.RecordPrices(st.CurrentPrice, st.OldPrice, st.LastUpdate)
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
