package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/config"
	"github.com/minanew12/eurodollar-protocol-sub001/core/genesis"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

type auditReport struct {
	Units struct {
		Cash          string `json:"cash"`
		Invest        string `json:"invest"`
		CashVariant   string `json:"cashVariant"`
		InvestVariant string `json:"investVariant"`
	} `json:"units"`
	Oracle struct {
		CurrentPrice     string `json:"currentPrice"`
		OldPrice         string `json:"oldPrice"`
		MaxPriceIncrease string `json:"maxPriceIncrease"`
		DelaySeconds     uint64 `json:"delaySeconds"`
	} `json:"oracle"`
	Roles        map[string][]string `json:"roles"`
	EmptyRoles   []string            `json:"emptyRoles"`
	Blocked      int                 `json:"blocked"`
	Allowed      int                 `json:"allowed"`
	FreezeHolder string              `json:"freezeHolder"`
	Alloc        map[string]string   `json:"alloc"`
}

func main() {
	configPath := flag.String("config", "./config/ledger.toml", "Path to ledger configuration file")
	flag.Parse()

	if err := run(*configPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	report, err := buildReport(cfg)
	if err != nil {
		return err
	}
	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(output))
	return err
}

func buildReport(cfg *config.Ledger) (*auditReport, error) {
	spec, err := genesis.FromConfig(cfg, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve genesis: %w", err)
	}
	report := &auditReport{
		Roles:   make(map[string][]string),
		Blocked: len(spec.Blocked),
		Allowed: len(spec.Allowed),
		Alloc:   make(map[string]string),
	}
	report.Units.Cash = spec.CashUnit
	report.Units.Invest = spec.InvestUnit
	report.Units.CashVariant = spec.CashVariant.String()
	report.Units.InvestVariant = spec.InvestVariant.String()
	report.Oracle.CurrentPrice = nativecommon.FormatFixed18(spec.Oracle.CurrentPrice)
	report.Oracle.OldPrice = nativecommon.FormatFixed18(spec.Oracle.OldPrice)
	report.Oracle.MaxPriceIncrease = nativecommon.FormatFixed18(spec.Oracle.MaxPriceIncrease)
	report.Oracle.DelaySeconds = spec.Oracle.Delay
	if spec.Holder != (common.Address{}) {
		report.FreezeHolder = spec.Holder.Hex()
	}

	for _, role := range nativecommon.Roles() {
		members := spec.Roles[role]
		if len(members) == 0 {
			report.EmptyRoles = append(report.EmptyRoles, string(role))
			continue
		}
		for _, m := range members {
			report.Roles[string(role)] = append(report.Roles[string(role)], m.Hex())
		}
	}

	totals := make(map[string]*uint256.Int)
	for _, alloc := range spec.Alloc {
		unit := alloc.Unit
		switch unit {
		case "CASH":
			unit = spec.CashUnit
		case "INVEST":
			unit = spec.InvestUnit
		}
		if totals[unit] == nil {
			totals[unit] = new(uint256.Int)
		}
		if _, overflow := totals[unit].AddOverflow(totals[unit], alloc.Amount); overflow {
			return nil, fmt.Errorf("alloc %s: %w", unit, nativecommon.ErrOverflow)
		}
	}
	for unit, total := range totals {
		report.Alloc[unit] = nativecommon.FormatFixed18(total)
	}
	return report, nil
}
