package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MaxClickCostLevel   = 20
	MaxEnergyCapLevel   = 10
	MaxEnergyRegenLevel = 5

	EnergyPerCapLevel    = 1000
	ReferralReward       = int64(1000)
	CreateMaxAttempts    = 5
	DefaultBoostCooldown = 24 * time.Hour

	PlayerStatusActive = "active"
)

var (
	ErrNoRecord = errors.New("record not found")

	ErrInvalidUserID        = errors.New("user id must be positive")
	ErrPlayerNotFound       = errors.New("player not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrReferralNotFound     = errors.New("referral not found")
	ErrRewardAlreadyClaimed = errors.New("referral reward already claimed")
	ErrConcurrencyExhausted = errors.New("too many concurrent updates, retry later")
	ErrTxConflict           = errors.New("concurrent update conflict, retry the request")
	ErrInvalidTrack         = errors.New("track must be click_cost, energy_cap or energy_regen")
	ErrInvalidSnapshot      = errors.New("invalid session snapshot")
	ErrBoostCooldown        = errors.New("boost is cooling down")
)

type Track int

const (
	ClickCost Track = iota + 1
	EnergyCap
	EnergyRegen
)

func (t Track) String() string {
	switch t {
	case ClickCost:
		return "click_cost"
	case EnergyCap:
		return "energy_cap"
	case EnergyRegen:
		return "energy_regen"
	default:
		return fmt.Sprintf("track(%d)", int(t))
	}
}

// MaxLevel is the highest level reachable on the track.
func (t Track) MaxLevel() int {
	switch t {
	case ClickCost:
		return MaxClickCostLevel
	case EnergyCap:
		return MaxEnergyCapLevel
	case EnergyRegen:
		return MaxEnergyRegenLevel
	default:
		return 0
	}
}

func ParseTrack(s string) (Track, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "click_cost", "clickcost":
		return ClickCost, nil
	case "energy_cap", "energycap":
		return EnergyCap, nil
	case "energy_regen", "energyregen":
		return EnergyRegen, nil
	default:
		return 0, ErrInvalidTrack
	}
}

type Player struct {
	UserID       int64     `json:"user_id"`
	RegisteredAt time.Time `json:"registered_at"`
	ReferrerID   *int64    `json:"referrer_id,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	Status       string    `json:"status"`
	Balance      int64     `json:"balance"`
}

type Registration struct {
	DisplayName string
	FirstName   string
}

type AbilityLevels struct {
	UserID           int64 `json:"-"`
	ClickCostLevel   int   `json:"click_cost_level"`
	EnergyCapLevel   int   `json:"energy_cap_level"`
	EnergyRegenLevel int   `json:"energy_regen_level"`
}

func NewAbilityLevels(userID int64) AbilityLevels {
	return AbilityLevels{UserID: userID, ClickCostLevel: 1, EnergyCapLevel: 1, EnergyRegenLevel: 1}
}

func (a AbilityLevels) Level(t Track) int {
	switch t {
	case ClickCost:
		return a.ClickCostLevel
	case EnergyCap:
		return a.EnergyCapLevel
	case EnergyRegen:
		return a.EnergyRegenLevel
	default:
		return 0
	}
}

func (a *AbilityLevels) setLevel(t Track, level int) {
	switch t {
	case ClickCost:
		a.ClickCostLevel = level
	case EnergyCap:
		a.EnergyCapLevel = level
	case EnergyRegen:
		a.EnergyRegenLevel = level
	}
}

// EnergyCapacity is the energy ceiling granted by the energy cap level.
func (a AbilityLevels) EnergyCapacity() float64 {
	return float64(a.EnergyCapLevel * EnergyPerCapLevel)
}

type ActiveEnergy struct {
	UserID       int64   `json:"-"`
	StoredEnergy float64 `json:"stored_energy"`
}

type LastSession struct {
	UserID       int64  `json:"-"`
	LastLoginMs  *int64 `json:"last_login_ms,omitempty"`
	LastLogoutMs *int64 `json:"last_logout_ms,omitempty"`
}

type Boost struct {
	UserID         int64 `json:"-"`
	LastBoostRunMs int64 `json:"last_boost_run_ms"`
}

type Referral struct {
	ReferrerID    int64     `json:"referrer_id"`
	ReferredID    int64     `json:"referred_id"`
	RewardClaimed bool      `json:"reward_claimed"`
	CreatedAt     time.Time `json:"created_at"`
}

type UpgradeResult struct {
	Balance      int64         `json:"balance"`
	Abilities    AbilityLevels `json:"abilities"`
	ActiveEnergy *float64      `json:"active_energy,omitempty"`
	Charged      int64         `json:"charged"`
}

type ClaimResult struct {
	Balance   int64      `json:"balance"`
	Referrals []Referral `json:"referrals"`
}

type BoostResult struct {
	LastBoostRunMs int64   `json:"last_boost_run_ms"`
	ActiveEnergy   float64 `json:"active_energy"`
}

// LogoutSnapshot is the client-computed state reported when a game session ends.
type LogoutSnapshot struct {
	Balance      int64
	ActiveEnergy float64
	LoginAtMs    int64
	LogoutAtMs   int64
}

func (s LogoutSnapshot) Validate() error {
	switch {
	case s.Balance < 0:
		return fmt.Errorf("%w: balance must be >= 0", ErrInvalidSnapshot)
	case s.ActiveEnergy < 0:
		return fmt.Errorf("%w: active energy must be >= 0", ErrInvalidSnapshot)
	case s.LoginAtMs <= 0 || s.LogoutAtMs <= 0:
		return fmt.Errorf("%w: session timestamps are required", ErrInvalidSnapshot)
	case s.LogoutAtMs < s.LoginAtMs:
		return fmt.Errorf("%w: logout precedes login", ErrInvalidSnapshot)
	}
	return nil
}

type PlayerProfile struct {
	Player        Player        `json:"player"`
	Abilities     AbilityLevels `json:"abilities"`
	StoredEnergy  float64       `json:"stored_energy"`
	CurrentEnergy float64       `json:"current_energy"`
	EnergyCap     float64       `json:"energy_cap"`
	Session       LastSession   `json:"session"`
	Boost         *Boost        `json:"boost,omitempty"`
	Referrals     int           `json:"referrals"`
}
