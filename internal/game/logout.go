package game

import "math"

// LogoutPolicy decides what part of a client-reported logout snapshot is
// persisted. abilities is nil when the player has no ability record.
type LogoutPolicy interface {
	Admit(snap LogoutSnapshot, abilities *AbilityLevels) (LogoutSnapshot, error)
}

// TrustClientPolicy persists the reported numbers unchanged.
type TrustClientPolicy struct{}

func (TrustClientPolicy) Admit(snap LogoutSnapshot, _ *AbilityLevels) (LogoutSnapshot, error) {
	return snap, nil
}

// ClampEnergyPolicy keeps the reported balance but clamps energy to the
// player's current capacity.
type ClampEnergyPolicy struct{}

func (ClampEnergyPolicy) Admit(snap LogoutSnapshot, abilities *AbilityLevels) (LogoutSnapshot, error) {
	if abilities == nil {
		return snap, nil
	}
	snap.ActiveEnergy = math.Max(0, math.Min(snap.ActiveEnergy, abilities.EnergyCapacity()))
	return snap, nil
}
