package game

import (
	"math"
	"time"
)

const (
	RegenCycleMs        = 100
	RegenPerCyclePerLvl = 0.11
)

// EnergyModel derives current energy from the last persisted snapshot.
type EnergyModel interface {
	CurrentEnergy(energy ActiveEnergy, session *LastSession, abilities *AbilityLevels, now time.Time) float64
}

type RegenModel struct{}

var DefaultEnergy EnergyModel = RegenModel{}

// CurrentEnergy returns the stored snapshot unchanged when there is no
// ability record or no login to measure from. Otherwise energy regenerates
// per 100ms cycle since the last login, capped by the energy cap level.
func (RegenModel) CurrentEnergy(energy ActiveEnergy, session *LastSession, abilities *AbilityLevels, now time.Time) float64 {
	if abilities == nil {
		return energy.StoredEnergy
	}
	if session == nil || session.LastLoginMs == nil {
		return energy.StoredEnergy
	}
	elapsed := now.UnixMilli() - *session.LastLoginMs
	if elapsed < 0 {
		elapsed = 0
	}
	cycles := math.Floor(float64(elapsed) / RegenCycleMs)
	regenerated := cycles * float64(abilities.EnergyRegenLevel) * RegenPerCyclePerLvl
	return math.Min(energy.StoredEnergy+regenerated, abilities.EnergyCapacity())
}
