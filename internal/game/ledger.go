package game

import "context"

// Ledger is the transactional store behind the economy. Every call to InTx
// runs fn inside one serializable transaction that is committed when fn
// returns nil and rolled back otherwise.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// IsConflict reports whether err is a serialization failure worth retrying.
	IsConflict(err error) bool
	// IsDuplicate reports whether err is a unique constraint violation.
	IsDuplicate(err error) bool
}

// LedgerTx is the set of reads and writes available inside a transaction.
// Lookups of missing rows return ErrNoRecord.
type LedgerTx interface {
	Player(ctx context.Context, userID int64) (Player, error)
	LockPlayer(ctx context.Context, userID int64) (Player, error)
	InsertPlayer(ctx context.Context, p Player) error
	SetBalance(ctx context.Context, userID, balance int64) error

	Abilities(ctx context.Context, userID int64) (AbilityLevels, error)
	InsertAbilities(ctx context.Context, a AbilityLevels) error
	SetAbilities(ctx context.Context, a AbilityLevels) error

	ActiveEnergy(ctx context.Context, userID int64) (ActiveEnergy, error)
	InsertActiveEnergy(ctx context.Context, e ActiveEnergy) error
	SetActiveEnergy(ctx context.Context, e ActiveEnergy) error

	Session(ctx context.Context, userID int64) (LastSession, error)
	InsertSession(ctx context.Context, s LastSession) error
	SetSession(ctx context.Context, s LastSession) error

	Boost(ctx context.Context, userID int64) (Boost, error)
	UpsertBoost(ctx context.Context, b Boost) error

	LockReferral(ctx context.Context, referrerID, referredID int64) (Referral, error)
	InsertReferral(ctx context.Context, r Referral) error
	MarkReferralClaimed(ctx context.Context, referrerID, referredID int64) error
	Referrals(ctx context.Context, referrerID int64) ([]Referral, error)

	AppendBalanceEvent(ctx context.Context, userID int64, kind string, delta int64) error
}
