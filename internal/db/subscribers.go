package db

import (
	"context"
	"time"

	"tgclicker/internal/rates"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ rates.SubscriberStore = (*Subscribers)(nil)

// Subscribers stores rate-notification subscriptions in notifier.subscribers.
type Subscribers struct {
	pool *pgxpool.Pool
}

func NewSubscribers(pool *pgxpool.Pool) *Subscribers {
	return &Subscribers{pool: pool}
}

type subscriberRow struct {
	ChatID    int64     `db:"chat_id"`
	Base      string    `db:"base"`
	Quote     string    `db:"quote"`
	CreatedAt time.Time `db:"created_at"`
}

func (r subscriberRow) subscriber() rates.Subscriber {
	return rates.Subscriber{ChatID: r.ChatID, Base: r.Base, Quote: r.Quote, CreatedAt: r.CreatedAt}
}

func (s *Subscribers) Subscribe(ctx context.Context, sub rates.Subscriber) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifier.subscribers (chat_id, base, quote)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE
		SET base = EXCLUDED.base, quote = EXCLUDED.quote
	`, sub.ChatID, sub.Base, sub.Quote)
	return err
}

func (s *Subscribers) Unsubscribe(ctx context.Context, chatID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifier.subscribers WHERE chat_id = $1`, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return rates.ErrNotSubscribed
	}
	return nil
}

func (s *Subscribers) Subscriber(ctx context.Context, chatID int64) (rates.Subscriber, error) {
	var row subscriberRow
	err := pgxscan.Get(ctx, s.pool, &row, `
		SELECT chat_id, base, quote, created_at
		FROM notifier.subscribers
		WHERE chat_id = $1
	`, chatID)
	if pgxscan.NotFound(err) {
		return rates.Subscriber{}, rates.ErrNotSubscribed
	}
	if err != nil {
		return rates.Subscriber{}, err
	}
	return row.subscriber(), nil
}

func (s *Subscribers) Subscribers(ctx context.Context) ([]rates.Subscriber, error) {
	var rows []subscriberRow
	if err := pgxscan.Select(ctx, s.pool, &rows, `
		SELECT chat_id, base, quote, created_at
		FROM notifier.subscribers
		ORDER BY chat_id
	`); err != nil {
		return nil, err
	}
	out := make([]rates.Subscriber, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.subscriber())
	}
	return out, nil
}
