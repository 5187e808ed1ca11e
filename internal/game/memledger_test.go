package game

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	errFakeConflict  = errors.New("fake serialization failure")
	errFakeDuplicate = errors.New("fake unique violation")
)

type balanceEvent struct {
	UserID int64
	Kind   string
	Delta  int64
}

type memState struct {
	players   map[int64]Player
	abilities map[int64]AbilityLevels
	energy    map[int64]ActiveEnergy
	sessions  map[int64]LastSession
	boosts    map[int64]Boost
	referrals map[[2]int64]Referral
	events    []balanceEvent
}

func newMemState() *memState {
	return &memState{
		players:   map[int64]Player{},
		abilities: map[int64]AbilityLevels{},
		energy:    map[int64]ActiveEnergy{},
		sessions:  map[int64]LastSession{},
		boosts:    map[int64]Boost{},
		referrals: map[[2]int64]Referral{},
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.players {
		out.players[k] = v
	}
	for k, v := range s.abilities {
		out.abilities[k] = v
	}
	for k, v := range s.energy {
		out.energy[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.boosts {
		out.boosts[k] = v
	}
	for k, v := range s.referrals {
		out.referrals[k] = v
	}
	out.events = append([]balanceEvent(nil), s.events...)
	return out
}

// memLedger runs transactions one at a time against a copy of the state and
// swaps the copy in on success.
type memLedger struct {
	mu        sync.Mutex
	state     *memState
	txCount   int
	conflicts int
	// onInsertPlayer runs inside InsertPlayer with the committed state
	// available, so tests can simulate a concurrent winner.
	onInsertPlayer func(committed *memState, p Player) error
	// failOn makes the named LedgerTx write method return the given error.
	failOn map[string]error
}

func newMemLedger() *memLedger {
	return &memLedger{state: newMemState()}
}

func (l *memLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	l.txCount++
	if l.conflicts > 0 {
		l.conflicts--
		return errFakeConflict
	}
	work := l.state.clone()
	if err := fn(&memTx{l: l, s: work}); err != nil {
		return err
	}
	l.state = work
	return nil
}

func (l *memLedger) IsConflict(err error) bool  { return errors.Is(err, errFakeConflict) }
func (l *memLedger) IsDuplicate(err error) bool { return errors.Is(err, errFakeDuplicate) }

func (l *memLedger) snapshot() *memState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

func (l *memLedger) seed(p Player) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Status == "" {
		p.Status = PlayerStatusActive
	}
	l.state.players[p.UserID] = p
	l.state.abilities[p.UserID] = NewAbilityLevels(p.UserID)
	l.state.energy[p.UserID] = ActiveEnergy{UserID: p.UserID, StoredEnergy: EnergyPerCapLevel}
	l.state.sessions[p.UserID] = LastSession{UserID: p.UserID}
}

func (l *memLedger) update(fn func(s *memState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.state)
}

type memTx struct {
	l *memLedger
	s *memState
}

func (t *memTx) injected(method string) error {
	return t.l.failOn[method]
}

func (t *memTx) Player(_ context.Context, userID int64) (Player, error) {
	p, ok := t.s.players[userID]
	if !ok {
		return Player{}, ErrNoRecord
	}
	return p, nil
}

func (t *memTx) LockPlayer(ctx context.Context, userID int64) (Player, error) {
	return t.Player(ctx, userID)
}

func (t *memTx) InsertPlayer(_ context.Context, p Player) error {
	if t.l.onInsertPlayer != nil {
		if err := t.l.onInsertPlayer(t.l.state, p); err != nil {
			return err
		}
	}
	if _, ok := t.s.players[p.UserID]; ok {
		return errFakeDuplicate
	}
	t.s.players[p.UserID] = p
	return nil
}

func (t *memTx) SetBalance(_ context.Context, userID, balance int64) error {
	if err := t.injected("SetBalance"); err != nil {
		return err
	}
	p, ok := t.s.players[userID]
	if !ok {
		return ErrNoRecord
	}
	p.Balance = balance
	t.s.players[userID] = p
	return nil
}

func (t *memTx) Abilities(_ context.Context, userID int64) (AbilityLevels, error) {
	a, ok := t.s.abilities[userID]
	if !ok {
		return AbilityLevels{}, ErrNoRecord
	}
	return a, nil
}

func (t *memTx) InsertAbilities(_ context.Context, a AbilityLevels) error {
	if _, ok := t.s.abilities[a.UserID]; ok {
		return errFakeDuplicate
	}
	t.s.abilities[a.UserID] = a
	return nil
}

func (t *memTx) SetAbilities(_ context.Context, a AbilityLevels) error {
	if err := t.injected("SetAbilities"); err != nil {
		return err
	}
	t.s.abilities[a.UserID] = a
	return nil
}

func (t *memTx) ActiveEnergy(_ context.Context, userID int64) (ActiveEnergy, error) {
	e, ok := t.s.energy[userID]
	if !ok {
		return ActiveEnergy{}, ErrNoRecord
	}
	return e, nil
}

func (t *memTx) InsertActiveEnergy(_ context.Context, e ActiveEnergy) error {
	if _, ok := t.s.energy[e.UserID]; ok {
		return errFakeDuplicate
	}
	t.s.energy[e.UserID] = e
	return nil
}

func (t *memTx) SetActiveEnergy(_ context.Context, e ActiveEnergy) error {
	if err := t.injected("SetActiveEnergy"); err != nil {
		return err
	}
	t.s.energy[e.UserID] = e
	return nil
}

func (t *memTx) Session(_ context.Context, userID int64) (LastSession, error) {
	s, ok := t.s.sessions[userID]
	if !ok {
		return LastSession{}, ErrNoRecord
	}
	return s, nil
}

func (t *memTx) InsertSession(_ context.Context, s LastSession) error {
	if _, ok := t.s.sessions[s.UserID]; ok {
		return errFakeDuplicate
	}
	t.s.sessions[s.UserID] = s
	return nil
}

func (t *memTx) SetSession(_ context.Context, s LastSession) error {
	if err := t.injected("SetSession"); err != nil {
		return err
	}
	t.s.sessions[s.UserID] = s
	return nil
}

func (t *memTx) Boost(_ context.Context, userID int64) (Boost, error) {
	b, ok := t.s.boosts[userID]
	if !ok {
		return Boost{}, ErrNoRecord
	}
	return b, nil
}

func (t *memTx) UpsertBoost(_ context.Context, b Boost) error {
	t.s.boosts[b.UserID] = b
	return nil
}

func (t *memTx) LockReferral(_ context.Context, referrerID, referredID int64) (Referral, error) {
	r, ok := t.s.referrals[[2]int64{referrerID, referredID}]
	if !ok {
		return Referral{}, ErrNoRecord
	}
	return r, nil
}

func (t *memTx) InsertReferral(_ context.Context, r Referral) error {
	key := [2]int64{r.ReferrerID, r.ReferredID}
	if _, ok := t.s.referrals[key]; ok {
		return errFakeDuplicate
	}
	t.s.referrals[key] = r
	return nil
}

func (t *memTx) MarkReferralClaimed(_ context.Context, referrerID, referredID int64) error {
	if err := t.injected("MarkReferralClaimed"); err != nil {
		return err
	}
	key := [2]int64{referrerID, referredID}
	r, ok := t.s.referrals[key]
	if !ok {
		return ErrNoRecord
	}
	r.RewardClaimed = true
	t.s.referrals[key] = r
	return nil
}

func (t *memTx) Referrals(_ context.Context, referrerID int64) ([]Referral, error) {
	var out []Referral
	for _, r := range t.s.referrals {
		if r.ReferrerID == referrerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferredID < out[j].ReferredID })
	return out, nil
}

func (t *memTx) AppendBalanceEvent(_ context.Context, userID int64, kind string, delta int64) error {
	if err := t.injected("AppendBalanceEvent"); err != nil {
		return err
	}
	t.s.events = append(t.s.events, balanceEvent{UserID: userID, Kind: kind, Delta: delta})
	return nil
}
