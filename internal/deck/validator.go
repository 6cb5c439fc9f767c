package deck

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
)

// Rules are the deck construction limits. Zero sizes disable the size check.
type Rules struct {
	MinNameLength int
	ArmySize      int
	CivicSize     int
}

// Validator checks that a user's deck may be brought into a match.
type Validator struct {
	provider Provider
	rules    Rules
}

// NewValidator creates a validator. provider may be nil, in which case
// only the name is checked.
func NewValidator(provider Provider, rules Rules) *Validator {
	return &Validator{provider: provider, rules: rules}
}

// Validate returns the list of problems with the deck, empty when valid.
func (v *Validator) Validate(ctx context.Context, userID, name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return []string{"deck name is required"}
	}
	if len(name) < v.rules.MinNameLength {
		return []string{fmt.Sprintf("deck name must be at least %d characters", v.rules.MinNameLength)}
	}
	if v.provider == nil {
		return nil
	}

	spec, err := v.provider.Deck(ctx, userID, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return []string{fmt.Sprintf("deck %q not found", name)}
		}
		return []string{fmt.Sprintf("deck %q could not be loaded: %v", name, err)}
	}

	var problems []string
	if v.rules.ArmySize > 0 && spec.ArmyCount() != v.rules.ArmySize {
		problems = append(problems, fmt.Sprintf("army deck must have %d cards, has %d", v.rules.ArmySize, spec.ArmyCount()))
	}
	if v.rules.CivicSize > 0 && spec.CivicCount() != v.rules.CivicSize {
		problems = append(problems, fmt.Sprintf("civic deck must have %d cards, has %d", v.rules.CivicSize, spec.CivicCount()))
	}
	return problems
}
