package ledger

import (
	"fmt"

	"YPoolLedger/internal/state"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants against the live state
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// ValidateRecord verifies the audit record is well-formed
func (v *InvariantValidator) ValidateRecord(r *Record) error {
	return r.Validate()
}

// ValidateConservation verifies TotalPCV equals the sum of chain PCV
func (v *InvariantValidator) ValidateConservation(s *state.LedgerState) error {
	var sum uint256.Int
	for _, id := range s.ChainIDs() {
		if _, overflow := sum.AddOverflow(&sum, &s.Chains[id].PCV); overflow {
			return fmt.Errorf("chain pcv sum overflows at chain %d", id)
		}
	}
	if !sum.Eq(&s.Pool.TotalPCV) {
		return fmt.Errorf("total pcv %s != sum of chain pcv %s", s.Pool.TotalPCV.Dec(), sum.Dec())
	}
	return nil
}

// ValidateLocks verifies no chain has more locked than it holds
func (v *InvariantValidator) ValidateLocks(s *state.LedgerState) error {
	for _, id := range s.ChainIDs() {
		c := s.Chains[id]
		if c.Locked.Gt(&c.PCV) {
			return fmt.Errorf("chain %d locked %s exceeds pcv %s", id, c.Locked.Dec(), c.PCV.Dec())
		}
	}
	return nil
}

// ValidateEpochBudget verifies the epoch spend is within its limit
func (v *InvariantValidator) ValidateEpochBudget(s *state.LedgerState) error {
	if s.Epoch.CurrentEpochAmount.Gt(&s.Epoch.LimitPerEpoch) {
		return fmt.Errorf("epoch %d amount %s exceeds limit %s",
			s.Epoch.CurrentEpochNumber, s.Epoch.CurrentEpochAmount.Dec(), s.Epoch.LimitPerEpoch.Dec())
	}
	return nil
}

// ValidateAll runs every state invariant
func (v *InvariantValidator) ValidateAll(s *state.LedgerState) error {
	if err := v.ValidateConservation(s); err != nil {
		return err
	}
	if err := v.ValidateLocks(s); err != nil {
		return err
	}
	return v.ValidateEpochBudget(s)
}
