package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Ledger holds the genesis parameters of the two-unit ledger.
type Ledger struct {
	Units       Units               `toml:"units"`
	Oracle      Oracle              `toml:"oracle"`
	Roles       map[string][]string `toml:"roles"`
	Permissions Permissions         `toml:"permissions"`
	Freeze      Freeze              `toml:"freeze"`
	Alloc       []Alloc             `toml:"alloc"`
}

type Units struct {
	Cash   string `toml:"cash"`
	Invest string `toml:"invest"`
}

// Oracle prices are human decimals ("1.05"); they are scaled to 18 decimals
// when the ledger is built.
type Oracle struct {
	CurrentPrice     string   `toml:"current_price"`
	OldPrice         string   `toml:"old_price"`
	MaxPriceIncrease string   `toml:"max_price_increase"`
	Delay            Duration `toml:"delay"`
	LastUpdate       int64    `toml:"last_update"`
}

type Permissions struct {
	CashVariant   string   `toml:"cash_variant"`
	InvestVariant string   `toml:"invest_variant"`
	Blocked       []string `toml:"blocked"`
	Allowed       []string `toml:"allowed"`
}

type Freeze struct {
	Holder string `toml:"holder"`
}

// Alloc credits a genesis balance. Amount is a human decimal.
type Alloc struct {
	Unit    string `toml:"unit"`
	Account string `toml:"account"`
	Amount  string `toml:"amount"`
}

// Duration wraps time.Duration for TOML string values such as "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", trimmed, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a single-operator development configuration.
func Default() *Ledger {
	return &Ledger{
		Units: Units{Cash: "EUD", Invest: "EUI"},
		Oracle: Oracle{
			CurrentPrice:     "1",
			OldPrice:         "1",
			MaxPriceIncrease: "0.001",
			Delay:            Duration{24 * time.Hour},
		},
		Roles: map[string][]string{},
		Permissions: Permissions{
			CashVariant:   "blocklist",
			InvestVariant: "allowlist",
		},
	}
}

// Load reads the ledger configuration at path. A missing file yields the
// defaults, which are written back so operators have a template to edit.
func Load(path string) (*Ledger, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration held in memory.
func Parse(data string) (*Ledger, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise trims identifiers and fills defaults for empty fields.
func (c *Ledger) Normalise() {
	def := Default()
	c.Units.Cash = strings.ToUpper(strings.TrimSpace(c.Units.Cash))
	c.Units.Invest = strings.ToUpper(strings.TrimSpace(c.Units.Invest))
	if c.Units.Cash == "" {
		c.Units.Cash = def.Units.Cash
	}
	if c.Units.Invest == "" {
		c.Units.Invest = def.Units.Invest
	}
	c.Oracle.CurrentPrice = strings.TrimSpace(c.Oracle.CurrentPrice)
	if c.Oracle.CurrentPrice == "" {
		c.Oracle.CurrentPrice = def.Oracle.CurrentPrice
	}
	c.Oracle.OldPrice = strings.TrimSpace(c.Oracle.OldPrice)
	if c.Oracle.OldPrice == "" {
		c.Oracle.OldPrice = c.Oracle.CurrentPrice
	}
	c.Oracle.MaxPriceIncrease = strings.TrimSpace(c.Oracle.MaxPriceIncrease)
	if c.Oracle.MaxPriceIncrease == "" {
		c.Oracle.MaxPriceIncrease = "0"
	}
	if strings.TrimSpace(c.Permissions.CashVariant) == "" {
		c.Permissions.CashVariant = def.Permissions.CashVariant
	}
	if strings.TrimSpace(c.Permissions.InvestVariant) == "" {
		c.Permissions.InvestVariant = def.Permissions.InvestVariant
	}
	if c.Roles == nil {
		c.Roles = map[string][]string{}
	}
	normalisedRoles := make(map[string][]string, len(c.Roles))
	for role, members := range c.Roles {
		key := strings.ToLower(strings.TrimSpace(role))
		normalisedRoles[key] = append(normalisedRoles[key], trimAll(members)...)
	}
	c.Roles = normalisedRoles
	c.Permissions.Blocked = trimAll(c.Permissions.Blocked)
	c.Permissions.Allowed = trimAll(c.Permissions.Allowed)
	c.Freeze.Holder = strings.TrimSpace(c.Freeze.Holder)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Save writes cfg as TOML to path.
func Save(path string, cfg *Ledger) error {
	return persist(path, cfg)
}

func persist(path string, cfg *Ledger) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
