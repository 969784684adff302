// Package vaultsim replays YAML scenarios against a vault engine.
package vaultsim

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

// Step actions.
const (
	ActionInitialize = "initialize"
	ActionFund       = "fund"
	ActionDeposit    = "deposit"
	ActionAdvance    = "advance"
	ActionAccrue     = "accrue"
	ActionCompound   = "compound"
	ActionAPY        = "apy"
	ActionWithdraw   = "withdraw"
	ActionExpect     = "expect"
)

// Scenario is a named sequence of steps against one ledger.
type Scenario struct {
	Name   string `yaml:"name"`
	Ledger string `yaml:"ledger"`
	// Start is the unix time of the simulated clock before the first step.
	Start int64  `yaml:"start"`
	Steps []Step `yaml:"steps"`

	digest string
}

// Step is one action. Expectation fields are optional and checked after the
// action runs.
type Step struct {
	Action      string `yaml:"action"`
	Account     string `yaml:"account,omitempty"`
	Amount      uint64 `yaml:"amount,omitempty"`
	Duration    string `yaml:"duration,omitempty"`
	ExpectError string `yaml:"expectError,omitempty"`
	// Returns checks the amount an accrue, compound, deposit (minted) or
	// withdraw (redeemed) step reports.
	Returns  *uint64         `yaml:"returns,omitempty"`
	APY      string          `yaml:"apy,omitempty"`
	Ledger   *LedgerExpect   `yaml:"ledger,omitempty"`
	Position *PositionExpect `yaml:"position,omitempty"`
	Balance  *BalanceExpect  `yaml:"balance,omitempty"`
}

type LedgerExpect struct {
	TotalStaked        *uint64 `yaml:"totalStaked,omitempty"`
	TotalYieldAccrued  *uint64 `yaml:"totalYieldAccrued,omitempty"`
	TotalReceiptSupply *uint64 `yaml:"totalReceiptSupply,omitempty"`
}

type PositionExpect struct {
	Account        string  `yaml:"account"`
	Exists         *bool   `yaml:"exists,omitempty"`
	Principal      *uint64 `yaml:"principal,omitempty"`
	ReceiptBalance *uint64 `yaml:"receiptBalance,omitempty"`
}

// BalanceExpect checks a custody balance. Asset is "base" or "receipt".
type BalanceExpect struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Amount  uint64 `yaml:"amount"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("vaultsim: decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	sum := blake3.Sum256(data)
	sc.digest = hex.EncodeToString(sum[:])
	return &sc, nil
}

// Digest identifies the scenario source bytes.
func (s *Scenario) Digest() string { return s.digest }

// Validate checks that every step carries the fields its action needs.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Ledger) == "" {
		return fmt.Errorf("vaultsim: scenario ledger name required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("vaultsim: scenario has no steps")
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("vaultsim: step %d (%s): %w", i, step.Action, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Action {
	case ActionInitialize, ActionAccrue, ActionCompound, ActionAPY, ActionExpect:
	case ActionFund, ActionDeposit, ActionWithdraw:
		if strings.TrimSpace(s.Account) == "" {
			return fmt.Errorf("account required")
		}
	case ActionAdvance:
		if _, err := s.advance(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown action")
	}
	if s.Balance != nil {
		switch s.Balance.Asset {
		case "base", "receipt":
		default:
			return fmt.Errorf("balance asset must be base or receipt")
		}
	}
	return nil
}

func (s Step) advance() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s.Duration))
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}
