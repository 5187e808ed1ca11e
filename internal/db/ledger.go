package db

import (
	"context"
	"errors"
	"time"

	"tgclicker/internal/game"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const playerColumns = `user_id, registered_at, referrer_id, display_name, first_name, status, balance`

var _ game.Ledger = (*Ledger)(nil)

// Ledger is the Postgres implementation of game.Ledger.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) InTx(ctx context.Context, fn func(tx game.LedgerTx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *Ledger) IsConflict(err error) bool {
	return isSerializationError(err)
}

func (l *Ledger) IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

type ledgerTx struct {
	tx    pgx.Tx
	group uuid.UUID
}

func noRecord(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return game.ErrNoRecord
	}
	return err
}

func expectRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return game.ErrNoRecord
	}
	return nil
}

func (t *ledgerTx) scanPlayer(row pgx.Row) (game.Player, error) {
	var p game.Player
	err := row.Scan(&p.UserID, &p.RegisteredAt, &p.ReferrerID, &p.DisplayName, &p.FirstName, &p.Status, &p.Balance)
	return p, noRecord(err)
}

func (t *ledgerTx) Player(ctx context.Context, userID int64) (game.Player, error) {
	return t.scanPlayer(t.tx.QueryRow(ctx, `
		SELECT `+playerColumns+`
		FROM game.players
		WHERE user_id = $1
	`, userID))
}

func (t *ledgerTx) LockPlayer(ctx context.Context, userID int64) (game.Player, error) {
	return t.scanPlayer(t.tx.QueryRow(ctx, `
		SELECT `+playerColumns+`
		FROM game.players
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
}

func (t *ledgerTx) InsertPlayer(ctx context.Context, p game.Player) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.players (user_id, registered_at, referrer_id, display_name, first_name, status, balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.UserID, p.RegisteredAt, p.ReferrerID, p.DisplayName, p.FirstName, p.Status, p.Balance)
	return err
}

func (t *ledgerTx) SetBalance(ctx context.Context, userID, balance int64) error {
	return expectRow(t.tx.Exec(ctx, `
		UPDATE game.players
		SET balance = $1, updated_at = now()
		WHERE user_id = $2
	`, balance, userID))
}

func (t *ledgerTx) Abilities(ctx context.Context, userID int64) (game.AbilityLevels, error) {
	a := game.AbilityLevels{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		SELECT click_cost_level, energy_cap_level, energy_regen_level
		FROM game.abilities
		WHERE user_id = $1
	`, userID).Scan(&a.ClickCostLevel, &a.EnergyCapLevel, &a.EnergyRegenLevel)
	return a, noRecord(err)
}

func (t *ledgerTx) InsertAbilities(ctx context.Context, a game.AbilityLevels) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.abilities (user_id, click_cost_level, energy_cap_level, energy_regen_level)
		VALUES ($1, $2, $3, $4)
	`, a.UserID, a.ClickCostLevel, a.EnergyCapLevel, a.EnergyRegenLevel)
	return err
}

func (t *ledgerTx) SetAbilities(ctx context.Context, a game.AbilityLevels) error {
	return expectRow(t.tx.Exec(ctx, `
		UPDATE game.abilities
		SET click_cost_level = $1, energy_cap_level = $2, energy_regen_level = $3, updated_at = now()
		WHERE user_id = $4
	`, a.ClickCostLevel, a.EnergyCapLevel, a.EnergyRegenLevel, a.UserID))
}

func (t *ledgerTx) ActiveEnergy(ctx context.Context, userID int64) (game.ActiveEnergy, error) {
	e := game.ActiveEnergy{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		SELECT stored_energy
		FROM game.active_energy
		WHERE user_id = $1
	`, userID).Scan(&e.StoredEnergy)
	return e, noRecord(err)
}

func (t *ledgerTx) InsertActiveEnergy(ctx context.Context, e game.ActiveEnergy) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.active_energy (user_id, stored_energy)
		VALUES ($1, $2)
	`, e.UserID, e.StoredEnergy)
	return err
}

func (t *ledgerTx) SetActiveEnergy(ctx context.Context, e game.ActiveEnergy) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.active_energy (user_id, stored_energy)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET stored_energy = EXCLUDED.stored_energy, updated_at = now()
	`, e.UserID, e.StoredEnergy)
	return err
}

func (t *ledgerTx) Session(ctx context.Context, userID int64) (game.LastSession, error) {
	s := game.LastSession{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		SELECT last_login_ms, last_logout_ms
		FROM game.last_sessions
		WHERE user_id = $1
	`, userID).Scan(&s.LastLoginMs, &s.LastLogoutMs)
	return s, noRecord(err)
}

func (t *ledgerTx) InsertSession(ctx context.Context, s game.LastSession) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.last_sessions (user_id, last_login_ms, last_logout_ms)
		VALUES ($1, $2, $3)
	`, s.UserID, s.LastLoginMs, s.LastLogoutMs)
	return err
}

func (t *ledgerTx) SetSession(ctx context.Context, s game.LastSession) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.last_sessions (user_id, last_login_ms, last_logout_ms)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET last_login_ms = EXCLUDED.last_login_ms, last_logout_ms = EXCLUDED.last_logout_ms
	`, s.UserID, s.LastLoginMs, s.LastLogoutMs)
	return err
}

func (t *ledgerTx) Boost(ctx context.Context, userID int64) (game.Boost, error) {
	b := game.Boost{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		SELECT last_boost_run_ms
		FROM game.boosts
		WHERE user_id = $1
	`, userID).Scan(&b.LastBoostRunMs)
	return b, noRecord(err)
}

func (t *ledgerTx) UpsertBoost(ctx context.Context, b game.Boost) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.boosts (user_id, last_boost_run_ms)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET last_boost_run_ms = EXCLUDED.last_boost_run_ms
	`, b.UserID, b.LastBoostRunMs)
	return err
}

type referralRow struct {
	ReferrerID    int64     `db:"referrer_id"`
	ReferredID    int64     `db:"referred_id"`
	RewardClaimed bool      `db:"reward_claimed"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r referralRow) referral() game.Referral {
	return game.Referral{
		ReferrerID:    r.ReferrerID,
		ReferredID:    r.ReferredID,
		RewardClaimed: r.RewardClaimed,
		CreatedAt:     r.CreatedAt,
	}
}

func (t *ledgerTx) LockReferral(ctx context.Context, referrerID, referredID int64) (game.Referral, error) {
	var row referralRow
	err := pgxscan.Get(ctx, t.tx, &row, `
		SELECT referrer_id, referred_id, reward_claimed, created_at
		FROM game.referrals
		WHERE referrer_id = $1 AND referred_id = $2
		FOR UPDATE
	`, referrerID, referredID)
	if pgxscan.NotFound(err) {
		return game.Referral{}, game.ErrNoRecord
	}
	if err != nil {
		return game.Referral{}, err
	}
	return row.referral(), nil
}

func (t *ledgerTx) InsertReferral(ctx context.Context, r game.Referral) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.referrals (referrer_id, referred_id, reward_claimed, created_at)
		VALUES ($1, $2, $3, $4)
	`, r.ReferrerID, r.ReferredID, r.RewardClaimed, r.CreatedAt)
	return err
}

func (t *ledgerTx) MarkReferralClaimed(ctx context.Context, referrerID, referredID int64) error {
	return expectRow(t.tx.Exec(ctx, `
		UPDATE game.referrals
		SET reward_claimed = true, claimed_at = now()
		WHERE referrer_id = $1 AND referred_id = $2 AND reward_claimed = false
	`, referrerID, referredID))
}

func (t *ledgerTx) Referrals(ctx context.Context, referrerID int64) ([]game.Referral, error) {
	var rows []referralRow
	if err := pgxscan.Select(ctx, t.tx, &rows, `
		SELECT referrer_id, referred_id, reward_claimed, created_at
		FROM game.referrals
		WHERE referrer_id = $1
		ORDER BY created_at, referred_id
	`, referrerID); err != nil {
		return nil, err
	}
	out := make([]game.Referral, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.referral())
	}
	return out, nil
}

// AppendBalanceEvent records a balance delta. Events written in the same
// transaction share one group id.
func (t *ledgerTx) AppendBalanceEvent(ctx context.Context, userID int64, kind string, delta int64) error {
	if t.group == uuid.Nil {
		t.group = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.balance_events (group_id, user_id, kind, delta)
		VALUES ($1, $2, $3, $4)
	`, t.group, userID, kind, delta)
	return err
}
