package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps ledger error kinds onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrUnknownUnit), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}
	kind := nativecommon.Kind(err)
	switch kind {
	case "unauthorized", "permission_denied":
		return http.StatusForbidden, kind
	case "paused":
		return http.StatusConflict, kind
	case "invalid_amount":
		return http.StatusBadRequest, kind
	case "guardrail_violation", "invalid_price", "exceeds_max", "insufficient_frozen_balance",
		"insufficient_allowance", "insufficient_balance", "overflow":
		return http.StatusUnprocessableEntity, kind
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func decode(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

func caller(r *http.Request) common.Address {
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		return principal.Account
	}
	return common.Address{}
}

func parseAddress(raw, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, badRequest("%s must be a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseOptionalAddress returns fallback when raw is empty.
func parseOptionalAddress(raw, field string, fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseAddress(raw, field)
}

func urlAddress(r *http.Request, param string) (common.Address, error) {
	return parseAddress(chi.URLParam(r, param), param)
}

func parseAmount(raw string) (*uint256.Int, error) {
	return nativecommon.ParseAmount(raw)
}

func parsePrice(raw string) (*uint256.Int, error) {
	return nativecommon.ParseFixed18(raw)
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
