package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu  sync.Mutex
	ops map[string]int
}

func (o *recordingObserver) ObserveOp(op string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string]int{}
	}
	o.ops[op]++
}

func newTestService(l *memLedger, opts ...Option) *Service {
	base := []Option{WithClock(func() time.Time { return fixedNow }), WithRetryDelay(0)}
	return NewService(l, nil, nil, append(base, opts...)...)
}

func int64Ptr(v int64) *int64 { return &v }

func TestCreatePlayerInitialState(t *testing.T) {
	l := newMemLedger()
	svc := newTestService(l)

	p, err := svc.CreatePlayer(context.Background(), 42, Registration{DisplayName: "neo", FirstName: "Thomas"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, PlayerStatusActive, p.Status)
	assert.Equal(t, fixedNow, p.RegisteredAt)
	assert.Zero(t, p.Balance)
	assert.Nil(t, p.ReferrerID)

	st := l.snapshot()
	assert.Equal(t, NewAbilityLevels(42), st.abilities[42])
	assert.Equal(t, float64(EnergyPerCapLevel), st.energy[42].StoredEnergy)
	assert.Contains(t, st.sessions, int64(42))
}

func TestCreatePlayerRejectsNonPositiveID(t *testing.T) {
	svc := newTestService(newMemLedger())
	_, err := svc.CreatePlayer(context.Background(), 0, Registration{}, nil)
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestCreatePlayerIsIdempotent(t *testing.T) {
	l := newMemLedger()
	svc := newTestService(l)
	ctx := context.Background()

	first, err := svc.CreatePlayer(ctx, 7, Registration{DisplayName: "a"}, nil)
	require.NoError(t, err)
	second, err := svc.CreatePlayer(ctx, 7, Registration{DisplayName: "b"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, l.snapshot().players, 1)
}

func TestCreatePlayerConcurrentCallsYieldOneRecord(t *testing.T) {
	l := newMemLedger()
	svc := newTestService(l)

	const callers = 8
	results := make([]Player, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.CreatePlayer(context.Background(), 99, Registration{DisplayName: "racer"}, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, l.snapshot().players, 1)
}

func TestCreatePlayerDuplicateReturnsWinner(t *testing.T) {
	l := newMemLedger()
	winner := Player{UserID: 5, DisplayName: "winner", Status: PlayerStatusActive, Balance: 0, RegisteredAt: fixedNow.Add(-time.Second)}
	l.onInsertPlayer = func(committed *memState, p Player) error {
		committed.players[p.UserID] = winner
		return errFakeDuplicate
	}
	svc := newTestService(l)

	p, err := svc.CreatePlayer(context.Background(), 5, Registration{DisplayName: "loser"}, nil)
	require.NoError(t, err)
	assert.Equal(t, winner, p)
}

func TestCreatePlayerRetriesSerializationConflicts(t *testing.T) {
	l := newMemLedger()
	l.conflicts = CreateMaxAttempts - 1
	svc := newTestService(l)

	p, err := svc.CreatePlayer(context.Background(), 11, Registration{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), p.UserID)
	assert.Equal(t, CreateMaxAttempts, l.txCount)
}

func TestCreatePlayerConcurrencyExhausted(t *testing.T) {
	l := newMemLedger()
	l.conflicts = CreateMaxAttempts
	obs := &recordingObserver{}
	svc := newTestService(l, WithObserver(obs))

	_, err := svc.CreatePlayer(context.Background(), 11, Registration{}, nil)
	assert.ErrorIs(t, err, ErrConcurrencyExhausted)
	assert.Equal(t, CreateMaxAttempts, l.txCount)
	assert.Empty(t, l.snapshot().players)
	assert.Equal(t, 1, obs.ops["create_player"])
}

func TestCreatePlayerWithReferrer(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 2000})
	svc := newTestService(l)

	p, err := svc.CreatePlayer(context.Background(), 2, Registration{}, int64Ptr(1))
	require.NoError(t, err)
	require.NotNil(t, p.ReferrerID)
	assert.Equal(t, int64(1), *p.ReferrerID)

	ref, ok := l.snapshot().referrals[[2]int64{1, 2}]
	require.True(t, ok)
	assert.False(t, ref.RewardClaimed)
}

func TestCreatePlayerDropsInvalidReferrer(t *testing.T) {
	tests := []struct {
		name     string
		userID   int64
		referrer int64
	}{
		{name: "self referral", userID: 3, referrer: 3},
		{name: "unknown referrer", userID: 4, referrer: 404},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newMemLedger()
			svc := newTestService(l)

			p, err := svc.CreatePlayer(context.Background(), tc.userID, Registration{}, int64Ptr(tc.referrer))
			require.NoError(t, err)
			assert.Nil(t, p.ReferrerID)
			assert.Empty(t, l.snapshot().referrals)
		})
	}
}

func TestUpgradeAbilityInsufficientBalance(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 500})
	svc := newTestService(l)

	_, err := svc.UpgradeAbility(context.Background(), 1, ClickCost)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	st := l.snapshot()
	assert.Equal(t, int64(500), st.players[1].Balance)
	assert.Equal(t, 1, st.abilities[1].ClickCostLevel)
	assert.Empty(t, st.events)
}

func TestUpgradeAbilityChargesAndLevels(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 1500})
	svc := newTestService(l)

	out, err := svc.UpgradeAbility(context.Background(), 1, ClickCost)
	require.NoError(t, err)
	assert.Equal(t, int64(500), out.Balance)
	assert.Equal(t, int64(1000), out.Charged)
	assert.Equal(t, 2, out.Abilities.ClickCostLevel)
	assert.Nil(t, out.ActiveEnergy)

	st := l.snapshot()
	assert.Equal(t, int64(500), st.players[1].Balance)
	assert.Equal(t, []balanceEvent{{UserID: 1, Kind: "upgrade:click_cost", Delta: -1000}}, st.events)
}

func TestUpgradeAbilityUnknownPlayer(t *testing.T) {
	svc := newTestService(newMemLedger())
	_, err := svc.UpgradeAbility(context.Background(), 1, EnergyRegen)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestUpgradeAbilityInvalidTrack(t *testing.T) {
	l := newMemLedger()
	svc := newTestService(l)
	_, err := svc.UpgradeAbility(context.Background(), 1, Track(9))
	assert.ErrorIs(t, err, ErrInvalidTrack)
	assert.Zero(t, l.txCount)
}

func TestUpgradeAbilityStopsAtCap(t *testing.T) {
	for _, track := range []Track{ClickCost, EnergyCap, EnergyRegen} {
		t.Run(track.String(), func(t *testing.T) {
			l := newMemLedger()
			l.seed(Player{UserID: 1, Balance: 100_000_000})
			svc := newTestService(l)

			prevLevel := 1
			for i := 0; i < track.MaxLevel()+5; i++ {
				out, err := svc.UpgradeAbility(context.Background(), 1, track)
				require.NoError(t, err)
				level := out.Abilities.Level(track)
				assert.GreaterOrEqual(t, level, prevLevel)
				assert.LessOrEqual(t, level, track.MaxLevel())
				assert.GreaterOrEqual(t, out.Balance, int64(0))
				if prevLevel == track.MaxLevel() {
					assert.Zero(t, out.Charged)
				}
				prevLevel = level
			}
			assert.Equal(t, track.MaxLevel(), prevLevel)
		})
	}
}

func TestUpgradeAbilityNeverOverdraws(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 20_000})
	svc := newTestService(l)

	for i := 0; i < 30; i++ {
		track := []Track{ClickCost, EnergyCap, EnergyRegen}[i%3]
		before := l.snapshot()
		_, err := svc.UpgradeAbility(context.Background(), 1, track)
		after := l.snapshot()
		assert.GreaterOrEqual(t, after.players[1].Balance, int64(0))
		if errors.Is(err, ErrInsufficientBalance) {
			assert.Equal(t, before.players[1], after.players[1])
			assert.Equal(t, before.abilities[1], after.abilities[1])
			assert.Equal(t, before.energy[1], after.energy[1])
			continue
		}
		require.NoError(t, err)
	}
}

func TestUpgradeEnergyCapRefillsToNewCapacity(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 10_000})
	l.update(func(s *memState) {
		s.energy[1] = ActiveEnergy{UserID: 1, StoredEnergy: 12.5}
	})
	svc := newTestService(l)

	out, err := svc.UpgradeAbility(context.Background(), 1, EnergyCap)
	require.NoError(t, err)
	require.NotNil(t, out.ActiveEnergy)
	assert.Equal(t, 2, out.Abilities.EnergyCapLevel)
	assert.Equal(t, float64(2000), *out.ActiveEnergy)
	assert.Equal(t, float64(2000), l.snapshot().energy[1].StoredEnergy)
}

func TestReconcileLogoutTrustsClient(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 10})
	svc := newTestService(l)

	snap := LogoutSnapshot{Balance: 777, ActiveEnergy: 5000, LoginAtMs: 1_000, LogoutAtMs: 9_000}
	require.NoError(t, svc.ReconcileLogout(context.Background(), 1, snap))

	st := l.snapshot()
	assert.Equal(t, int64(777), st.players[1].Balance)
	assert.Equal(t, float64(5000), st.energy[1].StoredEnergy)
	require.NotNil(t, st.sessions[1].LastLoginMs)
	assert.Equal(t, int64(1_000), *st.sessions[1].LastLoginMs)
	assert.Equal(t, int64(9_000), *st.sessions[1].LastLogoutMs)
	assert.Equal(t, []balanceEvent{{UserID: 1, Kind: "logout_sync", Delta: 767}}, st.events)
}

func TestReconcileLogoutClampPolicy(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1})
	svc := newTestService(l, WithLogoutPolicy(ClampEnergyPolicy{}))

	snap := LogoutSnapshot{Balance: 0, ActiveEnergy: 5000, LoginAtMs: 1, LogoutAtMs: 2}
	require.NoError(t, svc.ReconcileLogout(context.Background(), 1, snap))
	assert.Equal(t, float64(1000), l.snapshot().energy[1].StoredEnergy)
}

func TestReconcileLogoutValidatesBeforeTx(t *testing.T) {
	l := newMemLedger()
	svc := newTestService(l)

	bad := []LogoutSnapshot{
		{Balance: -1, LoginAtMs: 1, LogoutAtMs: 2},
		{ActiveEnergy: -0.5, LoginAtMs: 1, LogoutAtMs: 2},
		{LoginAtMs: 5, LogoutAtMs: 2},
		{},
	}
	for _, snap := range bad {
		err := svc.ReconcileLogout(context.Background(), 1, snap)
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	}
	assert.Zero(t, l.txCount)
}

func TestReconcileLogoutUnknownPlayer(t *testing.T) {
	svc := newTestService(newMemLedger())
	err := svc.ReconcileLogout(context.Background(), 1, LogoutSnapshot{LoginAtMs: 1, LogoutAtMs: 2})
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestReferralClaimFlow(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 100, Balance: 2000})
	svc := newTestService(l)
	ctx := context.Background()

	_, err := svc.CreatePlayer(ctx, 200, Registration{}, int64Ptr(100))
	require.NoError(t, err)

	out, err := svc.ClaimReferralReward(ctx, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), out.Balance)
	require.Len(t, out.Referrals, 1)
	assert.True(t, out.Referrals[0].RewardClaimed)
	assert.True(t, l.snapshot().referrals[[2]int64{100, 200}].RewardClaimed)

	for i := 0; i < 3; i++ {
		_, err = svc.ClaimReferralReward(ctx, 100, 200)
		assert.ErrorIs(t, err, ErrRewardAlreadyClaimed)
	}
	assert.Equal(t, int64(3000), l.snapshot().players[100].Balance)
}

func TestClaimReferralRewardNotFound(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 100})
	svc := newTestService(l)

	_, err := svc.ClaimReferralReward(context.Background(), 100, 201)
	assert.ErrorIs(t, err, ErrReferralNotFound)
}

func TestConcurrentClaimsCreditOnce(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 100})
	l.seed(Player{UserID: 200})
	l.update(func(s *memState) {
		s.referrals[[2]int64{100, 200}] = Referral{ReferrerID: 100, ReferredID: 200}
	})
	svc := newTestService(l)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ClaimReferralReward(context.Background(), 100, 200); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, ReferralReward, l.snapshot().players[100].Balance)
}

func TestProfileDerivesCurrentEnergy(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 5})
	login := fixedNow.Add(-10 * time.Second).UnixMilli()
	l.update(func(s *memState) {
		s.energy[1] = ActiveEnergy{UserID: 1, StoredEnergy: 500}
		s.sessions[1] = LastSession{UserID: 1, LastLoginMs: &login}
		a := s.abilities[1]
		a.EnergyRegenLevel = 2
		s.abilities[1] = a
	})
	svc := newTestService(l)

	prof, err := svc.Profile(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 522, prof.CurrentEnergy, 1e-9)
	assert.Equal(t, float64(500), prof.StoredEnergy)
	assert.Equal(t, float64(1000), prof.EnergyCap)
	assert.Nil(t, prof.Boost)
}

func TestProfileUnknownPlayer(t *testing.T) {
	svc := newTestService(newMemLedger())
	_, err := svc.Profile(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestRunBoostCooldown(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1})
	l.update(func(s *memState) {
		s.energy[1] = ActiveEnergy{UserID: 1, StoredEnergy: 3}
	})
	now := fixedNow
	svc := NewService(l, nil, nil, WithClock(func() time.Time { return now }), WithBoostCooldown(time.Hour))
	ctx := context.Background()

	out, err := svc.RunBoost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.UnixMilli(), out.LastBoostRunMs)
	assert.Equal(t, float64(1000), out.ActiveEnergy)

	now = fixedNow.Add(30 * time.Minute)
	_, err = svc.RunBoost(ctx, 1)
	assert.ErrorIs(t, err, ErrBoostCooldown)

	now = fixedNow.Add(time.Hour)
	_, err = svc.RunBoost(ctx, 1)
	assert.NoError(t, err)
}

func TestReferralsListsClaimState(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1})
	l.update(func(s *memState) {
		s.referrals[[2]int64{1, 3}] = Referral{ReferrerID: 1, ReferredID: 3, RewardClaimed: true}
		s.referrals[[2]int64{1, 2}] = Referral{ReferrerID: 1, ReferredID: 2}
	})
	svc := newTestService(l)

	list, err := svc.Referrals(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].ReferredID)
	assert.False(t, list[0].RewardClaimed)
	assert.True(t, list[1].RewardClaimed)
}

func TestUnexpectedErrorsAreWrapped(t *testing.T) {
	l := newMemLedger()
	boom := errors.New("disk on fire")
	l.onInsertPlayer = func(*memState, Player) error { return boom }
	svc := newTestService(l)

	_, err := svc.CreatePlayer(context.Background(), 1, Registration{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "create_player")
	assert.Empty(t, l.snapshot().players)
}

func TestSerializationConflictIsRetryableRejection(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 5000})
	obs := &outcomeObserver{}
	svc := newTestService(l, WithObserver(obs))
	ctx := context.Background()

	l.conflicts = 1
	_, err := svc.UpgradeAbility(ctx, 1, ClickCost)
	require.ErrorIs(t, err, ErrTxConflict)
	assert.True(t, IsDomainError(err))
	assert.ErrorIs(t, obs.last, ErrTxConflict)
	assert.Equal(t, int64(5000), l.snapshot().players[1].Balance)

	l.conflicts = 1
	_, err = svc.RunBoost(ctx, 1)
	assert.ErrorIs(t, err, ErrTxConflict)

	l.conflicts = 1
	_, err = svc.ClaimReferralReward(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrTxConflict)

	l.conflicts = 1
	err = svc.ReconcileLogout(ctx, 1, LogoutSnapshot{Balance: 1, LoginAtMs: 1, LogoutAtMs: 2})
	assert.ErrorIs(t, err, ErrTxConflict)

	res, err := svc.UpgradeAbility(ctx, 1, ClickCost)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), res.Balance)
}

type outcomeObserver struct {
	last error
}

func (o *outcomeObserver) ObserveOp(_ string, err error) { o.last = err }

func TestClaimRollsBackWhenCreditFails(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 100, Balance: 2000})
	l.seed(Player{UserID: 200})
	l.update(func(s *memState) {
		s.referrals[[2]int64{100, 200}] = Referral{ReferrerID: 100, ReferredID: 200}
	})
	boom := errors.New("write failed")
	l.failOn = map[string]error{"SetBalance": boom}
	svc := newTestService(l)

	_, err := svc.ClaimReferralReward(context.Background(), 100, 200)
	require.ErrorIs(t, err, boom)

	st := l.snapshot()
	assert.False(t, st.referrals[[2]int64{100, 200}].RewardClaimed)
	assert.Equal(t, int64(2000), st.players[100].Balance)
	assert.Empty(t, st.events)

	l.failOn = nil
	out, err := svc.ClaimReferralReward(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), out.Balance)
}

func TestReconcileLogoutRollsBackWhenEnergyWriteFails(t *testing.T) {
	l := newMemLedger()
	l.seed(Player{UserID: 1, Balance: 10})
	boom := errors.New("write failed")
	l.failOn = map[string]error{"SetActiveEnergy": boom}
	svc := newTestService(l)

	snap := LogoutSnapshot{Balance: 777, ActiveEnergy: 300, LoginAtMs: 1_000, LogoutAtMs: 9_000}
	err := svc.ReconcileLogout(context.Background(), 1, snap)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "reconcile_logout")

	st := l.snapshot()
	assert.Equal(t, int64(10), st.players[1].Balance)
	assert.Nil(t, st.sessions[1].LastLoginMs)
	assert.Nil(t, st.sessions[1].LastLogoutMs)
	assert.Equal(t, float64(EnergyPerCapLevel), st.energy[1].StoredEnergy)
	assert.Empty(t, st.events)
}
