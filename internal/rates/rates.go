package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrNotSubscribed   = errors.New("chat is not subscribed")
)

// Table is one snapshot of exchange rates quoted against Base.
type Table struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

func (t Table) Rate(quote string) (decimal.Decimal, error) {
	quote = NormalizeCurrency(quote)
	if quote == t.Base {
		return decimal.NewFromInt(1), nil
	}
	r, ok := t.Rates[quote]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, quote)
	}
	return r, nil
}

// Source returns the latest table for a base currency.
type Source interface {
	Latest(ctx context.Context, base string) (Table, error)
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency accepts three-letter ISO style codes.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Provider fetches rates over HTTP from {baseURL}/{BASE}.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewProvider(baseURL string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

type providerResponse struct {
	Base     string                     `json:"base"`
	BaseCode string                     `json:"base_code"`
	Rates    map[string]decimal.Decimal `json:"rates"`
}

func (p *Provider) Latest(ctx context.Context, base string) (Table, error) {
	base = NormalizeCurrency(base)
	if !ValidCurrency(base) {
		return Table{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, base)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+base, nil)
	if err != nil {
		return Table{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Table{}, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Table{}, fmt.Errorf("read rates: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Table{}, fmt.Errorf("rates provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out providerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Table{}, fmt.Errorf("decode rates: %w", err)
	}
	got := NormalizeCurrency(out.Base)
	if got == "" {
		got = NormalizeCurrency(out.BaseCode)
	}
	if got != base {
		return Table{}, fmt.Errorf("rates provider answered for %q, asked %q", got, base)
	}
	table := Table{Base: base, Rates: make(map[string]decimal.Decimal, len(out.Rates)), FetchedAt: p.now().UTC()}
	for code, v := range out.Rates {
		table.Rates[NormalizeCurrency(code)] = v
	}
	return table, nil
}

// Subscriber is a chat that receives periodic rate notifications.
type Subscriber struct {
	ChatID    int64     `json:"chat_id"`
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	CreatedAt time.Time `json:"created_at"`
}

type SubscriberStore interface {
	Subscribe(ctx context.Context, sub Subscriber) error
	// Unsubscribe returns ErrNotSubscribed when the chat had no subscription.
	Unsubscribe(ctx context.Context, chatID int64) error
	Subscriber(ctx context.Context, chatID int64) (Subscriber, error)
	Subscribers(ctx context.Context) ([]Subscriber, error)
}

// Format renders a rate line for chat messages.
func Format(base, quote string, rate decimal.Decimal, at time.Time) string {
	return fmt.Sprintf("1 %s = %s %s (as of %s)", base, rate.Round(4).String(), quote, at.UTC().Format("2006-01-02 15:04 MST"))
}
