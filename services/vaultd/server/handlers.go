package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core"
	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
)

type eventsResponse struct {
	Events []*types.Event `json:"events"`
}

func eventsOrEmpty(evts []*types.Event) []*types.Event {
	if evts == nil {
		return []*types.Event{}
	}
	return evts
}

func (s *Server) respondEvents(w http.ResponseWriter, r *http.Request, evts []*types.Event, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: eventsOrEmpty(evts)})
}

// ---- oracle ----

type oracleResponse struct {
	CurrentPrice          string `json:"current_price"`
	OldPrice              string `json:"old_price"`
	EffectiveCurrentPrice string `json:"effective_current_price"`
	EffectiveOldPrice     string `json:"effective_old_price"`
	MaxPriceIncrease      string `json:"max_price_increase"`
	DelaySeconds          uint64 `json:"delay_seconds"`
	LastUpdate            uint64 `json:"last_update"`
	InvestPaused          bool   `json:"invest_paused"`
	Snapshotted           bool   `json:"snapshotted"`
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.OracleState()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, oracleResponse{
		CurrentPrice:          nativecommon.FormatFixed18(view.CurrentPrice),
		OldPrice:              nativecommon.FormatFixed18(view.OldPrice),
		EffectiveCurrentPrice: nativecommon.FormatFixed18(view.EffectiveCurrent),
		EffectiveOldPrice:     nativecommon.FormatFixed18(view.EffectiveOld),
		MaxPriceIncrease:      nativecommon.FormatFixed18(view.MaxPriceIncrease),
		DelaySeconds:          view.Delay,
		LastUpdate:            view.LastUpdate,
		InvestPaused:          view.InvestPaused,
		Snapshotted:           view.Snapshotted,
	})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	subs, err := s.storage.RecentSubmissions(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submissions": subs})
}

// handleLatestRound serves the newest feeder round. The pair defaults to
// INVEST/CASH.
func (s *Server) handleLatestRound(w http.ResponseWriter, r *http.Request) {
	pair := strings.TrimSpace(r.URL.Query().Get("pair"))
	if pair == "" {
		cash, invest := s.ledger.Units()
		pair = storage.Pair(invest, cash)
	}
	round, err := s.storage.LatestRound(r.Context(), pair)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.storage.GetRound(r.Context(), chi.URLParam(r, "proof"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

type priceRequest struct {
	Price string `json:"price"`
}

func (s *Server) decodePrice(w http.ResponseWriter, r *http.Request) (*uint256.Int, error) {
	var req priceRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}
	return parsePrice(req.Price)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.decodePrice(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.UpdatePrice(r.Context(), caller(r), price)
	result := nativecommon.Kind(err)
	sub := storage.Submission{Price: nativecommon.FormatFixed18(price), Result: result, ProofID: "manual"}
	if err != nil {
		sub.Reason = err.Error()
	}
	if recErr := s.storage.RecordSubmission(r.Context(), sub); recErr != nil {
		s.logger.Error("record submission", "error", recErr)
	}
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleAdminCurrent(w http.ResponseWriter, r *http.Request) {
	price, err := s.decodePrice(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.AdminSetCurrentPrice(r.Context(), caller(r), price)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleAdminOld(w http.ResponseWriter, r *http.Request) {
	price, err := s.decodePrice(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.AdminSetOldPrice(r.Context(), caller(r), price)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleMaxIncrease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parsePrice(req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.SetMaxPriceIncrease(r.Context(), caller(r), value)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds uint64 `json:"seconds"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.SetDelay(r.Context(), caller(r), req.Seconds)
	s.respondEvents(w, r, evts, err)
}

// ---- vault ----

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	total, err := s.ledger.TotalAssets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, share := s.ledger.VaultUnits()
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":        asset,
		"share":        share,
		"total_assets": amountString(total),
	})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limits, err := s.ledger.Limits(account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"max_deposit":  amountString(limits.MaxDeposit),
		"max_mint":     amountString(limits.MaxMint),
		"max_withdraw": amountString(limits.MaxWithdraw),
		"max_redeem":   amountString(limits.MaxRedeem),
	})
}

func validVaultOp(op string) bool {
	switch op {
	case core.OpDeposit, core.OpMint, core.OpWithdraw, core.OpRedeem:
		return true
	}
	return false
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	op := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("op")))
	if !validVaultOp(op) {
		s.writeError(w, r, badRequest("op must be one of deposit, mint, withdraw, redeem"))
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.ledger.Preview(op, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"op": op, "amount": amount.Dec(), "result": amountString(out)})
}

type vaultRequest struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
}

type vaultResponse struct {
	ReceiptID string         `json:"receipt_id"`
	Operation string         `json:"operation"`
	AmountIn  string         `json:"amount_in"`
	AmountOut string         `json:"amount_out"`
	Events    []*types.Event `json:"events"`
}

func (s *Server) handleVaultOp(w http.ResponseWriter, r *http.Request) {
	op := strings.ToLower(chi.URLParam(r, "op"))
	if !validVaultOp(op) {
		s.writeError(w, r, badRequest("op must be one of deposit, mint, withdraw, redeem"))
		return
	}
	var req vaultRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	who := caller(r)
	receiver, err := parseOptionalAddress(req.Receiver, "receiver", who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseOptionalAddress(req.Owner, "owner", who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var receipt *core.Receipt
	switch op {
	case core.OpDeposit:
		receipt, err = s.ledger.Deposit(r.Context(), who, amount, receiver)
	case core.OpMint:
		receipt, err = s.ledger.Mint(r.Context(), who, amount, receiver)
	case core.OpWithdraw:
		receipt, err = s.ledger.Withdraw(r.Context(), who, amount, receiver, owner)
	case core.OpRedeem:
		receipt, err = s.ledger.Redeem(r.Context(), who, amount, receiver, owner)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// deposit and redeem take the exact input; mint and withdraw fix the output.
	in, out := amount, receipt.Amount
	if op == core.OpMint || op == core.OpWithdraw {
		in, out = receipt.Amount, amount
	}
	id, err := s.storage.RecordConversion(r.Context(), storage.Conversion{
		Operation: op,
		Caller:    who.Hex(),
		Receiver:  receiver.Hex(),
		Owner:     owner.Hex(),
		AmountIn:  in.Dec(),
		AmountOut: out.Dec(),
	})
	if err != nil {
		s.logger.Error("record conversion", "operation", op, "error", err)
	}
	writeJSON(w, http.StatusOK, vaultResponse{
		ReceiptID: id,
		Operation: op,
		AmountIn:  in.Dec(),
		AmountOut: out.Dec(),
		Events:    eventsOrEmpty(receipt.Events),
	})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	conv, err := s.storage.GetConversion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ---- tokens ----

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unit := chi.URLParam(r, "unit")
	bal, err := s.ledger.Balance(unit, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	frozen, err := s.ledger.FrozenBalance(unit, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"unit":    unit,
		"account": account.Hex(),
		"balance": amountString(bal),
		"frozen":  amountString(frozen),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := s.ledger.TotalSupply(chi.URLParam(r, "unit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total_supply": amountString(supply)})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := urlAddress(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := urlAddress(r, "spender")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	allowance, err := s.ledger.Allowance(chi.URLParam(r, "unit"), owner, spender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"allowance": amountString(allowance)})
}

type transferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) decodeTransfer(w http.ResponseWriter, r *http.Request) (transferRequest, *uint256.Int, error) {
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		return req, nil, err
	}
	amount, err := parseAmount(req.Amount)
	return req, amount, err
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	req, amount, err := s.decodeTransfer(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.Transfer(r.Context(), chi.URLParam(r, "unit"), caller(r), to, amount)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	req, amount, err := s.decodeTransfer(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseAddress(req.From, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.TransferFrom(r.Context(), chi.URLParam(r, "unit"), caller(r), from, to, amount)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, amount, err := s.decodeTransfer(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := parseAddress(req.Spender, "spender")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.Approve(r.Context(), chi.URLParam(r, "unit"), caller(r), spender, amount)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	req, amount, err := s.decodeTransfer(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.MintTo(r.Context(), chi.URLParam(r, "unit"), caller(r), to, amount)
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	req, amount, err := s.decodeTransfer(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseAddress(req.From, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evts, err := s.ledger.BurnFrom(r.Context(), chi.URLParam(r, "unit"), caller(r), from, amount)
	s.respondEvents(w, r, evts, err)
}

// ---- permissions ----

func (s *Server) handlePermissionStatus(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, variant, err := s.ledger.PermissionStatus(chi.URLParam(r, "unit"), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"status":  status.String(),
		"variant": variant.String(),
	})
}

func parseStatus(raw string) (permissions.Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "allowed", "allow":
		return permissions.StatusAllowed, nil
	case "blocked", "block":
		return permissions.StatusBlocked, nil
	case "unset", "void", "":
		return permissions.StatusUnset, nil
	}
	return permissions.StatusUnset, badRequest("unknown status %q", raw)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accounts []string `json:"accounts"`
		Status   string   `json:"status"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Accounts) == 0 {
		s.writeError(w, r, badRequest("accounts must not be empty"))
		return
	}
	accounts := make([]common.Address, 0, len(req.Accounts))
	for _, raw := range req.Accounts {
		addr, err := parseAddress(raw, "accounts")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		accounts = append(accounts, addr)
	}
	unit := chi.URLParam(r, "unit")
	var (
		evts []*types.Event
		err  error
	)
	switch chi.URLParam(r, "action") {
	case "add":
		evts, err = s.ledger.AddPermissions(r.Context(), unit, caller(r), accounts)
	case "remove":
		evts, err = s.ledger.RemovePermissions(r.Context(), unit, caller(r), accounts)
	case "set":
		status, perr := parseStatus(req.Status)
		if perr != nil {
			s.writeError(w, r, perr)
			return
		}
		evts, err = s.ledger.SetPermissions(r.Context(), unit, caller(r), accounts, status)
	default:
		err = badRequest("unknown permissions action")
	}
	s.respondEvents(w, r, evts, err)
}

// ---- freeze ----

func (s *Server) handleFrozen(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	frozen, err := s.ledger.FrozenBalance(chi.URLParam(r, "unit"), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"frozen":  amountString(frozen),
		"holder":  s.ledger.Holder().Hex(),
	})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	req, amount, err := s.decodeTransfer(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseAddress(req.From, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	action := chi.URLParam(r, "action")
	fallback := common.Address{}
	if action == "freeze" || action == "release" {
		fallback = s.ledger.Holder()
	}
	to, err := parseOptionalAddress(req.To, "to", fallback)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unit := chi.URLParam(r, "unit")
	var evts []*types.Event
	switch action {
	case "freeze":
		evts, err = s.ledger.Freeze(r.Context(), unit, caller(r), from, to, amount)
	case "release":
		evts, err = s.ledger.Release(r.Context(), unit, caller(r), from, to, amount)
	case "reclaim":
		evts, err = s.ledger.Reclaim(r.Context(), unit, caller(r), from, to, amount)
	default:
		err = badRequest("unknown freeze action")
	}
	s.respondEvents(w, r, evts, err)
}

// ---- pause ----

func (s *Server) handlePauseStatus(w http.ResponseWriter, r *http.Request) {
	paused, err := s.ledger.IsPaused(chi.URLParam(r, "unit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	evts, err := s.ledger.Pause(r.Context(), chi.URLParam(r, "unit"), caller(r))
	s.respondEvents(w, r, evts, err)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	evts, err := s.ledger.Unpause(r.Context(), chi.URLParam(r, "unit"), caller(r))
	s.respondEvents(w, r, evts, err)
}

// ---- roles ----

func parseRole(raw string) (nativecommon.Role, error) {
	role, err := nativecommon.ParseRole(raw)
	if err != nil {
		return "", badRequest("%v", err)
	}
	return role, nil
}

func (s *Server) handleRoleMembers(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(chi.URLParam(r, "role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.ledger.RoleMembers(role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"role": string(role), "members": out})
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(chi.URLParam(r, "role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Account string `json:"account"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAddress(req.Account, "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var evts []*types.Event
	switch chi.URLParam(r, "action") {
	case "grant":
		evts, err = s.ledger.GrantRole(r.Context(), caller(r), role, account)
	case "revoke":
		evts, err = s.ledger.RevokeRole(r.Context(), caller(r), role, account)
	default:
		err = badRequest("unknown role action")
	}
	s.respondEvents(w, r, evts, err)
}
