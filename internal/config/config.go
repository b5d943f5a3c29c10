package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/stockflow-dev/stockflow/internal/model"
	"github.com/stockflow-dev/stockflow/internal/statements"
)

// DateLayout is the format of SimulationConfig.Start.
const DateLayout = "2006-01-02"

// Bankruptcy policies applied by the runner when an agent files.
const (
	PolicyHalt     = "halt"
	PolicyContinue = "continue"
	PolicyRestore  = "restore"
)

// Config represents a scenario file (stockflow.yaml or stockflow.toml).
type Config struct {
	Simulation   SimulationConfig     `yaml:"simulation" toml:"simulation"`
	Logging      LoggingConfig        `yaml:"logging" toml:"logging"`
	Output       OutputConfig         `yaml:"output" toml:"output"`
	Agents       []AgentGroup         `yaml:"agents" toml:"agents"`
	Transactions []TransactionConfig  `yaml:"transactions,omitempty" toml:"transactions,omitempty"`
	Depreciation []DepreciationConfig `yaml:"depreciation,omitempty" toml:"depreciation,omitempty"`
}

// SimulationConfig controls the period loop.
type SimulationConfig struct {
	Name       string          `yaml:"name" toml:"name"`
	Periods    int             `yaml:"periods" toml:"periods"`
	Start      string          `yaml:"start" toml:"start"` // "YYYY-MM-DD"
	StepMonths int             `yaml:"step_months" toml:"step_months"`
	Epsilon    decimal.Decimal `yaml:"epsilon" toml:"epsilon"`
	Bankruptcy string          `yaml:"bankruptcy" toml:"bankruptcy"` // halt, continue or restore
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Format string `yaml:"format" toml:"format"`
	Level  string `yaml:"level" toml:"level"`
	File   string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// OutputConfig names where run artifacts are written. Relative paths are
// resolved against Dir.
type OutputConfig struct {
	Dir         string `yaml:"dir" toml:"dir"`
	Archive     string `yaml:"archive,omitempty" toml:"archive,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty" toml:"metrics_file,omitempty"`
	// Commit snapshots Dir into a git repository after every run.
	Commit bool `yaml:"commit,omitempty" toml:"commit,omitempty"`
}

// AgentGroup declares Count agents of one class with the same endowment.
type AgentGroup struct {
	Class     string                     `yaml:"class" toml:"class"`
	Count     int                        `yaml:"count" toml:"count"`
	Endowment map[string]decimal.Decimal `yaml:"endowment,omitempty" toml:"endowment,omitempty"`
}

// TransactionConfig is a scripted cash transfer executed every period
// between each agent of From and a counterparty of To.
type TransactionConfig struct {
	Name       string                  `yaml:"name" toml:"name"`
	Subject    string                  `yaml:"subject,omitempty" toml:"subject,omitempty"`
	From       string                  `yaml:"from" toml:"from"`
	To         string                  `yaml:"to" toml:"to"`
	Quantity   decimal.Decimal         `yaml:"quantity" toml:"quantity"`
	Flow       model.Flow              `yaml:"flow" toml:"flow"`
	PayerKind  statements.IncomeKind   `yaml:"payer_income,omitempty" toml:"payer_income,omitempty"`
	PayeeKind  statements.IncomeKind   `yaml:"payee_income,omitempty" toml:"payee_income,omitempty"`
	CashFlow   statements.CashFlowKind `yaml:"cash_flow,omitempty" toml:"cash_flow,omitempty"`
	EveryNth   int                     `yaml:"every,omitempty" toml:"every,omitempty"`
}

// SubjectName returns Subject, falling back to Name.
func (t TransactionConfig) SubjectName() string {
	if t.Subject != "" {
		return t.Subject
	}
	return t.Name
}

// Due reports whether the transaction runs in period p (1-based).
func (t TransactionConfig) Due(p int) bool {
	if t.EveryNth <= 1 {
		return true
	}
	return p%t.EveryNth == 0
}

// DepreciationConfig writes down one item of every agent of Class each
// period.
type DepreciationConfig struct {
	Class string          `yaml:"class" toml:"class"`
	Item  string          `yaml:"item" toml:"item"`
	Rate  decimal.Decimal `yaml:"rate" toml:"rate"`
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads a scenario from disk. Files ending in .toml are decoded as
// TOML, everything else as YAML. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	cfg.Agents = nil
	cfg.Transactions = nil
	cfg.Depreciation = nil
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes a Config as YAML, or TOML when path ends in .toml.
func Save(path string, cfg *Config) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// StartDate parses Simulation.Start.
func (c *Config) StartDate() (time.Time, error) {
	return time.Parse(DateLayout, c.Simulation.Start)
}

// HasClass reports whether an agent group of class is declared.
func (c *Config) HasClass(class string) bool {
	for _, g := range c.Agents {
		if g.Class == class {
			return true
		}
	}
	return false
}

// Validate checks the scenario for values the runner cannot execute.
func (c *Config) Validate() error {
	var errs []error
	s := c.Simulation
	if s.Periods < 1 {
		errs = append(errs, fmt.Errorf("simulation.periods must be at least 1, got %d", s.Periods))
	}
	if s.StepMonths < 0 {
		errs = append(errs, fmt.Errorf("simulation.step_months must not be negative"))
	}
	if _, err := c.StartDate(); err != nil {
		errs = append(errs, fmt.Errorf("simulation.start: %w", err))
	}
	if s.Epsilon.IsNegative() {
		errs = append(errs, fmt.Errorf("simulation.epsilon must not be negative"))
	}
	switch s.Bankruptcy {
	case PolicyHalt, PolicyContinue, PolicyRestore:
	default:
		errs = append(errs, fmt.Errorf("simulation.bankruptcy: unknown policy %q", s.Bankruptcy))
	}

	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent group is required"))
	}
	seen := make(map[string]bool)
	for i, g := range c.Agents {
		switch {
		case g.Class == "":
			errs = append(errs, fmt.Errorf("agents[%d]: class is required", i))
		case seen[g.Class]:
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate class %q", i, g.Class))
		}
		seen[g.Class] = true
		if g.Count < 1 {
			errs = append(errs, fmt.Errorf("agents[%d]: count must be at least 1", i))
		}
		for item, v := range g.Endowment {
			if v.IsNegative() {
				errs = append(errs, fmt.Errorf("agents[%d]: endowment %s is negative", i, item))
			}
		}
	}

	for i, tx := range c.Transactions {
		if tx.SubjectName() == "" {
			errs = append(errs, fmt.Errorf("transactions[%d]: name or subject is required", i))
		}
		if !c.HasClass(tx.From) {
			errs = append(errs, fmt.Errorf("transactions[%d]: unknown class %q", i, tx.From))
		}
		if !c.HasClass(tx.To) {
			errs = append(errs, fmt.Errorf("transactions[%d]: unknown class %q", i, tx.To))
		}
		if !tx.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("transactions[%d]: quantity must be positive", i))
		}
	}

	one := decimal.NewFromInt(1)
	for i, d := range c.Depreciation {
		if !c.HasClass(d.Class) {
			errs = append(errs, fmt.Errorf("depreciation[%d]: unknown class %q", i, d.Class))
		}
		if d.Item == "" {
			errs = append(errs, fmt.Errorf("depreciation[%d]: item is required", i))
		}
		if d.Rate.IsNegative() || d.Rate.GreaterThan(one) {
			errs = append(errs, fmt.Errorf("depreciation[%d]: rate must be within [0, 1]", i))
		}
	}
	return errors.Join(errs...)
}

// Default returns a small two-class economy: households buy from a firm
// and the firm pays wages back.
func Default(name string) *Config {
	if name == "" {
		name = "default"
	}
	return &Config{
		Simulation: SimulationConfig{
			Name:       name,
			Periods:    12,
			Start:      "2024-01-01",
			StepMonths: 1,
			Epsilon:    decimal.New(1, -6),
			Bankruptcy: PolicyHalt,
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Output: OutputConfig{
			Dir:     "out",
			Archive: "stockflow.db",
		},
		Agents: []AgentGroup{
			{Class: "Household", Count: 2, Endowment: map[string]decimal.Decimal{
				"Cash": decimal.NewFromInt(100),
			}},
			{Class: "Firm", Count: 1, Endowment: map[string]decimal.Decimal{
				"Cash":     decimal.NewFromInt(50),
				"Machines": decimal.NewFromInt(200),
			}},
		},
		Transactions: []TransactionConfig{
			{
				Name:      "consumption",
				From:      "Household",
				To:        "Firm",
				Quantity:  decimal.NewFromInt(10),
				Flow:      model.Between(model.Capital, model.Capital),
				PayerKind: statements.Expenses,
				PayeeKind: statements.Revenues,
				CashFlow:  statements.Operating,
			},
			{
				Name:      "wages",
				From:      "Firm",
				To:        "Household",
				Quantity:  decimal.NewFromInt(8),
				Flow:      model.Between(model.Capital, model.Capital),
				PayerKind: statements.Expenses,
				PayeeKind: statements.Revenues,
				CashFlow:  statements.Operating,
			},
		},
		Depreciation: []DepreciationConfig{
			{Class: "Firm", Item: "Machines", Rate: decimal.RequireFromString("0.01")},
		},
	}
}
