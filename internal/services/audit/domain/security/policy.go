package security

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Policy holds the detection rule thresholds. Every field has a default;
// a policy file overrides only the fields it names.
type Policy struct {
	// ContractUpdateThreshold fires RuleRapidContractUpdates when a contract
	// accumulates at least this many update events inside the window.
	ContractUpdateThreshold int      `yaml:"contract_update_threshold"`
	ContractUpdateWindow    Duration `yaml:"contract_update_window"`
	ContractUpdateRisk      RiskLevel `yaml:"contract_update_risk"`

	// LargeAmountCents fires RuleLargeTransaction for transactions strictly
	// above this amount.
	LargeAmountCents int64     `yaml:"large_amount_cents"`
	LargeAmountRisk  RiskLevel `yaml:"large_amount_risk"`

	// ClientTransactionThreshold fires RuleTransactionBurst when one client
	// creates strictly more than this many transactions inside the window.
	ClientTransactionThreshold int      `yaml:"client_transaction_threshold"`
	ClientTransactionWindow    Duration `yaml:"client_transaction_window"`
	ClientTransactionRisk      RiskLevel `yaml:"client_transaction_risk"`

	RoleChangeRisk RiskLevel `yaml:"role_change_risk"`
}

// DefaultPolicy returns the built-in thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ContractUpdateThreshold:    6,
		ContractUpdateWindow:       Duration(time.Hour),
		ContractUpdateRisk:         RiskMedium,
		LargeAmountCents:           10_000 * 100,
		LargeAmountRisk:            RiskHigh,
		ClientTransactionThreshold: 10,
		ClientTransactionWindow:    Duration(24 * time.Hour),
		ClientTransactionRisk:      RiskMedium,
		RoleChangeRisk:             RiskHigh,
	}
}

// Validate rejects thresholds that would disable or invert a rule.
func (p Policy) Validate() error {
	if p.ContractUpdateThreshold <= 0 {
		return fmt.Errorf("contract_update_threshold must be positive")
	}
	if p.ContractUpdateWindow <= 0 {
		return fmt.Errorf("contract_update_window must be positive")
	}
	if p.LargeAmountCents <= 0 {
		return fmt.Errorf("large_amount_cents must be positive")
	}
	if p.ClientTransactionThreshold <= 0 {
		return fmt.Errorf("client_transaction_threshold must be positive")
	}
	if p.ClientTransactionWindow <= 0 {
		return fmt.Errorf("client_transaction_window must be positive")
	}
	for _, risk := range []RiskLevel{p.ContractUpdateRisk, p.LargeAmountRisk, p.ClientTransactionRisk, p.RoleChangeRisk} {
		if !risk.Valid() {
			return fmt.Errorf("unknown risk level %q", risk)
		}
	}
	return nil
}

// LoadPolicy reads a YAML policy file over the defaults. An empty path
// returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return policy, nil
}
