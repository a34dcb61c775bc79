package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleInvest); err != nil {
		t.Fatalf("nil view should not block: %v", err)
	}
	view := pauseMap{ModuleInvest: true}
	if err := Guard(view, ModuleInvest); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if err := Guard(view, ModuleCash); err != nil {
		t.Fatalf("cash should not be paused: %v", err)
	}
}

type capSet map[common.Address]Role

func (c capSet) HasCapability(account common.Address, role Role) bool { return c[account] == role }

func TestRequire(t *testing.T) {
	oracle := common.HexToAddress("0x01")
	caps := capSet{oracle: RoleOracle}
	if err := Require(caps, oracle, RoleOracle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Require(caps, oracle, RolePriceAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := Require(nil, oracle, RoleOracle); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without capabilities, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Price_Admin ")
	if err != nil || role != RolePriceAdmin {
		t.Fatalf("unexpected parse result %q %v", role, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestFixed18(t *testing.T) {
	cases := map[string]string{
		"1":                    "1000000000000000000",
		"1.5":                  "1500000000000000000",
		"0.000000000000000001": "1",
		"2.0":                  "2000000000000000000",
	}
	for in, want := range cases {
		got, err := ParseFixed18(in)
		if err != nil {
			t.Fatalf("parse %s: %v", in, err)
		}
		if got.Dec() != want {
			t.Fatalf("parse %s: got %s want %s", in, got.Dec(), want)
		}
	}
	if _, err := ParseFixed18("0.0000000000000000001"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected precision error, got %v", err)
	}
	if _, err := ParseFixed18("-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative error, got %v", err)
	}
	if got := FormatFixed18(uint256.NewInt(1_500_000_000_000_000_000)); got != "1.5" {
		t.Fatalf("unexpected format %s", got)
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("100000000000000000000")
	if err != nil || got.Dec() != "100000000000000000000" {
		t.Fatalf("unexpected amount %v %v", got, err)
	}
	if _, err := ParseAmount("1.5"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestKind(t *testing.T) {
	if Kind(nil) != "ok" {
		t.Fatalf("nil should map to ok")
	}
	wrapped := fmt.Errorf("oracle: %w", ErrGuardrailViolation)
	if got := Kind(wrapped); got != "guardrail_violation" {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := Kind(errors.New("disk")); got != "internal" {
		t.Fatalf("unexpected kind %q", got)
	}
}
