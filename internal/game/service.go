package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Observer is notified once per completed economy operation.
type Observer interface {
	ObserveOp(op string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOp(string, error) {}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogoutPolicy(p LogoutPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.logout = p
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithBoostCooldown(d time.Duration) Option {
	return func(s *Service) {
		s.boostCooldown = d
	}
}

// WithRetryDelay sets the first backoff between player creation attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		s.retryDelay = d
	}
}

// Service is the only writer of ledger state.
type Service struct {
	ledger        Ledger
	pricing       Pricing
	energy        EnergyModel
	logout        LogoutPolicy
	observer      Observer
	log           *slog.Logger
	now           func() time.Time
	boostCooldown time.Duration
	retryDelay    time.Duration
}

func NewService(ledger Ledger, pricing Pricing, energy EnergyModel, opts ...Option) *Service {
	if pricing == nil {
		pricing = DefaultPricing
	}
	if energy == nil {
		energy = DefaultEnergy
	}
	s := &Service{
		ledger:        ledger,
		pricing:       pricing,
		energy:        energy,
		logout:        TrustClientPolicy{},
		observer:      nopObserver{},
		log:           slog.Default(),
		now:           time.Now,
		boostCooldown: DefaultBoostCooldown,
		retryDelay:    20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePlayer registers userID once. Concurrent registrations of the same
// user all observe the single winning record. An unknown or self-referencing
// referrer is dropped and the player is created without one.
func (s *Service) CreatePlayer(ctx context.Context, userID int64, reg Registration, referrerID *int64) (Player, error) {
	const op = "create_player"
	if userID <= 0 {
		return Player{}, ErrInvalidUserID
	}

	delay := s.retryDelay
	for attempt := 1; attempt <= CreateMaxAttempts; attempt++ {
		p, err := s.createPlayerTx(ctx, userID, reg, referrerID)
		switch {
		case err == nil:
			s.observer.ObserveOp(op, nil)
			return p, nil
		case s.ledger.IsDuplicate(err):
			s.log.Debug("concurrent registration won elsewhere", "user_id", userID)
			p, err = s.readPlayer(ctx, userID)
			s.observer.ObserveOp(op, err)
			if err != nil {
				return Player{}, s.fail(op, userID, err)
			}
			return p, nil
		case s.ledger.IsConflict(err):
			s.log.Debug("registration serialization conflict", "user_id", userID, "attempt", attempt)
			if attempt < CreateMaxAttempts {
				if err := sleepWithContext(ctx, delay); err != nil {
					return Player{}, err
				}
				delay *= 2
			}
		default:
			s.observer.ObserveOp(op, err)
			return Player{}, s.fail(op, userID, err)
		}
	}
	s.observer.ObserveOp(op, ErrConcurrencyExhausted)
	s.log.Warn("registration retries exhausted", "user_id", userID, "attempts", CreateMaxAttempts)
	return Player{}, ErrConcurrencyExhausted
}

func (s *Service) createPlayerTx(ctx context.Context, userID int64, reg Registration, referrerID *int64) (Player, error) {
	var out Player
	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		existing, err := tx.LockPlayer(ctx, userID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrNoRecord) {
			return err
		}

		ref, err := s.validReferrer(ctx, tx, userID, referrerID)
		if err != nil {
			return err
		}

		out = Player{
			UserID:       userID,
			RegisteredAt: s.now().UTC(),
			ReferrerID:   ref,
			DisplayName:  reg.DisplayName,
			FirstName:    reg.FirstName,
			Status:       PlayerStatusActive,
		}
		if err := tx.InsertPlayer(ctx, out); err != nil {
			return err
		}
		abilities := NewAbilityLevels(userID)
		if err := tx.InsertAbilities(ctx, abilities); err != nil {
			return err
		}
		if err := tx.InsertActiveEnergy(ctx, ActiveEnergy{UserID: userID, StoredEnergy: abilities.EnergyCapacity()}); err != nil {
			return err
		}
		if err := tx.InsertSession(ctx, LastSession{UserID: userID}); err != nil {
			return err
		}
		if ref != nil {
			return tx.InsertReferral(ctx, Referral{ReferrerID: *ref, ReferredID: userID, CreatedAt: out.RegisteredAt})
		}
		return nil
	})
	return out, err
}

func (s *Service) validReferrer(ctx context.Context, tx LedgerTx, userID int64, referrerID *int64) (*int64, error) {
	if referrerID == nil {
		return nil, nil
	}
	ref := *referrerID
	if ref == userID {
		s.log.Warn("dropping self referral", "user_id", userID)
		return nil, nil
	}
	if _, err := tx.Player(ctx, ref); err != nil {
		if errors.Is(err, ErrNoRecord) {
			s.log.Warn("dropping unknown referrer", "user_id", userID, "referrer_id", ref)
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (s *Service) readPlayer(ctx context.Context, userID int64) (Player, error) {
	var out Player
	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		p, err := tx.Player(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		out = p
		return nil
	})
	return out, err
}

// UpgradeAbility buys the next level on track. A track already at its cap
// charges nothing and keeps its level.
func (s *Service) UpgradeAbility(ctx context.Context, userID int64, track Track) (UpgradeResult, error) {
	const op = "upgrade_ability"
	var out UpgradeResult
	if track.MaxLevel() == 0 {
		return out, ErrInvalidTrack
	}

	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		p, err := tx.LockPlayer(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		abilities, err := tx.Abilities(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		energy, err := tx.ActiveEnergy(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}

		level := abilities.Level(track)
		cost := s.pricing.UpgradeCost(track, level)
		if p.Balance < cost {
			return ErrInsufficientBalance
		}

		if level < track.MaxLevel() {
			abilities.setLevel(track, level+1)
			p.Balance -= cost
			out.Charged = cost
			if err := tx.SetAbilities(ctx, abilities); err != nil {
				return err
			}
			if cost > 0 {
				if err := tx.SetBalance(ctx, userID, p.Balance); err != nil {
					return err
				}
				if err := tx.AppendBalanceEvent(ctx, userID, "upgrade:"+track.String(), -cost); err != nil {
					return err
				}
			}
		}

		if track == EnergyCap {
			energy.StoredEnergy = abilities.EnergyCapacity()
			if err := tx.SetActiveEnergy(ctx, energy); err != nil {
				return err
			}
			stored := energy.StoredEnergy
			out.ActiveEnergy = &stored
		}

		out.Balance = p.Balance
		out.Abilities = abilities
		return nil
	})
	if err != nil {
		err = s.fail(op, userID, err)
	}
	s.observer.ObserveOp(op, err)
	if err != nil {
		return UpgradeResult{}, err
	}
	return out, nil
}

// ReconcileLogout snapshots client-computed session state. What gets stored
// is decided by the configured LogoutPolicy.
func (s *Service) ReconcileLogout(ctx context.Context, userID int64, snap LogoutSnapshot) error {
	const op = "reconcile_logout"
	if err := snap.Validate(); err != nil {
		return err
	}

	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		p, err := tx.LockPlayer(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		var abilities *AbilityLevels
		if a, err := tx.Abilities(ctx, userID); err == nil {
			abilities = &a
		} else if !errors.Is(err, ErrNoRecord) {
			return err
		}

		admitted, err := s.logout.Admit(snap, abilities)
		if err != nil {
			return err
		}

		if admitted.Balance != p.Balance {
			if err := tx.SetBalance(ctx, userID, admitted.Balance); err != nil {
				return err
			}
			if err := tx.AppendBalanceEvent(ctx, userID, "logout_sync", admitted.Balance-p.Balance); err != nil {
				return err
			}
		}
		login, logout := admitted.LoginAtMs, admitted.LogoutAtMs
		if err := tx.SetSession(ctx, LastSession{UserID: userID, LastLoginMs: &login, LastLogoutMs: &logout}); err != nil {
			return err
		}
		return tx.SetActiveEnergy(ctx, ActiveEnergy{UserID: userID, StoredEnergy: admitted.ActiveEnergy})
	})
	if err != nil {
		err = s.fail(op, userID, err)
	}
	s.observer.ObserveOp(op, err)
	return err
}

// ClaimReferralReward credits the referrer once per referred player.
func (s *Service) ClaimReferralReward(ctx context.Context, referrerID, referredID int64) (ClaimResult, error) {
	const op = "claim_referral"
	var out ClaimResult

	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		ref, err := tx.LockReferral(ctx, referrerID, referredID)
		if err != nil {
			return notFound(err, ErrReferralNotFound)
		}
		if ref.RewardClaimed {
			return ErrRewardAlreadyClaimed
		}
		p, err := tx.LockPlayer(ctx, referrerID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}

		if err := tx.MarkReferralClaimed(ctx, referrerID, referredID); err != nil {
			return err
		}
		p.Balance += ReferralReward
		if err := tx.SetBalance(ctx, referrerID, p.Balance); err != nil {
			return err
		}
		if err := tx.AppendBalanceEvent(ctx, referrerID, "referral_reward", ReferralReward); err != nil {
			return err
		}

		list, err := tx.Referrals(ctx, referrerID)
		if err != nil {
			return err
		}
		out.Balance = p.Balance
		out.Referrals = list
		return nil
	})
	if err != nil {
		err = s.fail(op, referrerID, err)
	}
	s.observer.ObserveOp(op, err)
	if err != nil {
		return ClaimResult{}, err
	}
	return out, nil
}

// Referrals lists the players referred by referrerID with their claim state.
func (s *Service) Referrals(ctx context.Context, referrerID int64) ([]Referral, error) {
	var out []Referral
	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		if _, err := tx.Player(ctx, referrerID); err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		list, err := tx.Referrals(ctx, referrerID)
		if err != nil {
			return err
		}
		out = list
		return nil
	})
	if err != nil {
		return nil, s.fail("list_referrals", referrerID, err)
	}
	return out, nil
}

// Profile returns the full player state with energy derived at the current time.
func (s *Service) Profile(ctx context.Context, userID int64) (PlayerProfile, error) {
	var out PlayerProfile
	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		p, err := tx.Player(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		out.Player = p

		var abilities *AbilityLevels
		if a, err := tx.Abilities(ctx, userID); err == nil {
			abilities = &a
			out.Abilities = a
			out.EnergyCap = a.EnergyCapacity()
		} else if !errors.Is(err, ErrNoRecord) {
			return err
		}

		energy, err := tx.ActiveEnergy(ctx, userID)
		if err != nil && !errors.Is(err, ErrNoRecord) {
			return err
		}
		energy.UserID = userID
		out.StoredEnergy = energy.StoredEnergy

		var session *LastSession
		if sess, err := tx.Session(ctx, userID); err == nil {
			session = &sess
			out.Session = sess
		} else if !errors.Is(err, ErrNoRecord) {
			return err
		}

		if b, err := tx.Boost(ctx, userID); err == nil {
			out.Boost = &b
		} else if !errors.Is(err, ErrNoRecord) {
			return err
		}

		refs, err := tx.Referrals(ctx, userID)
		if err != nil {
			return err
		}
		out.Referrals = len(refs)
		out.CurrentEnergy = s.energy.CurrentEnergy(energy, session, abilities, s.now())
		return nil
	})
	if err != nil {
		return PlayerProfile{}, s.fail("profile", userID, err)
	}
	return out, nil
}

// RunBoost refills stored energy to capacity, at most once per cooldown.
func (s *Service) RunBoost(ctx context.Context, userID int64) (BoostResult, error) {
	const op = "run_boost"
	var out BoostResult
	now := s.now()

	err := s.ledger.InTx(ctx, func(tx LedgerTx) error {
		if _, err := tx.LockPlayer(ctx, userID); err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		abilities, err := tx.Abilities(ctx, userID)
		if err != nil {
			return notFound(err, ErrPlayerNotFound)
		}
		prev, err := tx.Boost(ctx, userID)
		switch {
		case err == nil:
			if now.Sub(time.UnixMilli(prev.LastBoostRunMs)) < s.boostCooldown {
				return ErrBoostCooldown
			}
		case !errors.Is(err, ErrNoRecord):
			return err
		}

		boost := Boost{UserID: userID, LastBoostRunMs: now.UnixMilli()}
		if err := tx.UpsertBoost(ctx, boost); err != nil {
			return err
		}
		energy := ActiveEnergy{UserID: userID, StoredEnergy: abilities.EnergyCapacity()}
		if err := tx.SetActiveEnergy(ctx, energy); err != nil {
			return err
		}
		out = BoostResult{LastBoostRunMs: boost.LastBoostRunMs, ActiveEnergy: energy.StoredEnergy}
		return nil
	})
	if err != nil {
		err = s.fail(op, userID, err)
	}
	s.observer.ObserveOp(op, err)
	if err != nil {
		return BoostResult{}, err
	}
	return out, nil
}

// fail classifies an operation error. Rejections pass through unchanged,
// serialization conflicts become ErrTxConflict for the caller to retry, and
// anything else is logged and wrapped with the operation name.
func (s *Service) fail(op string, userID int64, err error) error {
	if IsDomainError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	if s.ledger.IsConflict(err) {
		s.log.Warn("economy operation conflicted", "op", op, "user_id", userID)
		return fmt.Errorf("%s: %w", op, ErrTxConflict)
	}
	s.log.Error("economy operation failed", "op", op, "user_id", userID, "err", err)
	return fmt.Errorf("%s: %w", op, err)
}

// IsDomainError reports whether err is one of the economy's rejection
// sentinels rather than a storage failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrPlayerNotFound,
		ErrInsufficientBalance,
		ErrReferralNotFound,
		ErrRewardAlreadyClaimed,
		ErrConcurrencyExhausted,
		ErrTxConflict,
		ErrInvalidTrack,
		ErrInvalidSnapshot,
		ErrInvalidUserID,
		ErrBoostCooldown,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func notFound(err, sentinel error) error {
	if errors.Is(err, ErrNoRecord) {
		return sentinel
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
