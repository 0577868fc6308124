package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LoadProfile reads a policy profile from a YAML file. Missing identity
// fields are filled in (fresh ID, current timestamp, version "1.0.0");
// content fields are validated before the policy is returned.
func LoadProfile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy profile: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy profile %s: %w", path, err)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == "" {
		p.Version = "1.0.0"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if err := validateProfile(&p); err != nil {
		return nil, fmt.Errorf("policy profile %s: %w", path, err)
	}
	return &p, nil
}

// NamedProfile resolves one of the built-in profile names.
// Returns an error for unknown names so a typo cannot silently
// fall back to the permissive default.
func NamedProfile(name string) (*Policy, error) {
	switch name {
	case "", "permissive":
		return PermissiveProfile(), nil
	case "strict":
		return StrictProfile(), nil
	case "lockdown":
		return LockdownProfile(), nil
	default:
		return nil, fmt.Errorf("unknown policy profile %q", name)
	}
}

func validateProfile(p *Policy) error {
	if !p.RiskCeiling.Valid() {
		return fmt.Errorf("invalid risk ceiling %q", p.RiskCeiling)
	}
	if p.MaxEstimatedCost < 0 {
		return fmt.Errorf("negative cost cap %f", p.MaxEstimatedCost)
	}
	if p.AllowedHours != nil {
		h := p.AllowedHours
		if h.Start < 0 || h.Start > 23 || h.End < 1 || h.End > 24 || h.Start >= h.End {
			return fmt.Errorf("invalid hour range %d-%d", h.Start, h.End)
		}
	}
	return nil
}
