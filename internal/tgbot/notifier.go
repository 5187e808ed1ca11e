package tgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tgclicker/internal/rates"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const pairUsage = "Use two three-letter codes, for example: /subscribe USD EUR"

var errBadPair = errors.New("bad currency pair")

type NotifierOptions struct {
	DefaultBase  string
	DefaultQuote string
	Logger       *slog.Logger
	Observer     Observer
}

// Notifier manages rate subscriptions over chat commands and pushes the
// subscribed rate to every chat on Broadcast.
type Notifier struct {
	sender       Sender
	store        rates.SubscriberStore
	source       rates.Source
	defaultBase  string
	defaultQuote string
	log          *slog.Logger
	observer     Observer
}

type BroadcastResult struct {
	Sent   int
	Failed int
}

func NewNotifier(sender Sender, store rates.SubscriberStore, source rates.Source, opts NotifierOptions) *Notifier {
	n := &Notifier{
		sender:       sender,
		store:        store,
		source:       source,
		defaultBase:  rates.NormalizeCurrency(opts.DefaultBase),
		defaultQuote: rates.NormalizeCurrency(opts.DefaultQuote),
		log:          opts.Logger,
		observer:     opts.Observer,
	}
	if n.defaultBase == "" {
		n.defaultBase = "USD"
	}
	if n.defaultQuote == "" {
		n.defaultQuote = "EUR"
	}
	if n.log == nil {
		n.log = slog.Default()
	}
	if n.observer == nil {
		n.observer = nopObserver{}
	}
	return n
}

func (n *Notifier) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return nil
	}
	cmd := msg.Command()
	n.observer.ObserveCommand("notifier", cmd)
	chatID := msg.Chat.ID

	switch cmd {
	case "start", "help":
		return reply(n.sender, chatID, "Commands:\n/subscribe [BASE QUOTE]\n/unsubscribe\n/rate [BASE QUOTE]")
	case "subscribe":
		base, quote, err := n.pair(msg.CommandArguments())
		if err != nil {
			return reply(n.sender, chatID, pairUsage)
		}
		if err := n.store.Subscribe(ctx, rates.Subscriber{ChatID: chatID, Base: base, Quote: quote}); err != nil {
			n.log.Error("subscribe failed", "chat_id", chatID, "err", err)
			return reply(n.sender, chatID, "Could not save the subscription, please try again.")
		}
		return reply(n.sender, chatID, fmt.Sprintf("Subscribed to %s/%s updates.", base, quote))
	case "unsubscribe":
		err := n.store.Unsubscribe(ctx, chatID)
		if errors.Is(err, rates.ErrNotSubscribed) {
			return reply(n.sender, chatID, "You are not subscribed.")
		}
		if err != nil {
			n.log.Error("unsubscribe failed", "chat_id", chatID, "err", err)
			return reply(n.sender, chatID, "Could not remove the subscription, please try again.")
		}
		return reply(n.sender, chatID, "Unsubscribed.")
	case "rate":
		return n.handleRate(ctx, chatID, msg.CommandArguments())
	default:
		return reply(n.sender, chatID, "Unknown command. Try /help.")
	}
}

func (n *Notifier) handleRate(ctx context.Context, chatID int64, args string) error {
	var base, quote string
	if strings.TrimSpace(args) != "" {
		var err error
		if base, quote, err = n.pair(args); err != nil {
			return reply(n.sender, chatID, pairUsage)
		}
	} else if sub, err := n.store.Subscriber(ctx, chatID); err == nil {
		base, quote = sub.Base, sub.Quote
	} else {
		base, quote = n.defaultBase, n.defaultQuote
	}

	line, err := n.rateLine(ctx, base, quote)
	if err != nil {
		n.log.Warn("rate lookup failed", "base", base, "quote", quote, "err", err)
		return reply(n.sender, chatID, "Rate is unavailable right now.")
	}
	return reply(n.sender, chatID, line)
}

func (n *Notifier) rateLine(ctx context.Context, base, quote string) (string, error) {
	table, err := n.source.Latest(ctx, base)
	if err != nil {
		return "", err
	}
	rate, err := table.Rate(quote)
	if err != nil {
		return "", err
	}
	return rates.Format(base, quote, rate, table.FetchedAt), nil
}

// pair parses "BASE QUOTE", falling back to the defaults when args is empty.
func (n *Notifier) pair(args string) (string, string, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		return n.defaultBase, n.defaultQuote, nil
	case 2:
		base, quote := rates.NormalizeCurrency(fields[0]), rates.NormalizeCurrency(fields[1])
		if !rates.ValidCurrency(base) || !rates.ValidCurrency(quote) || base == quote {
			return "", "", errBadPair
		}
		return base, quote, nil
	default:
		return "", "", errBadPair
	}
}

// Broadcast sends the current rate to every subscriber. Tables are fetched
// once per base currency, and a base whose fetch failed is not retried within
// the same run. Per-chat failures are counted, not returned.
func (n *Notifier) Broadcast(ctx context.Context) (BroadcastResult, error) {
	var res BroadcastResult
	subs, err := n.store.Subscribers(ctx)
	if err != nil {
		return res, fmt.Errorf("list subscribers: %w", err)
	}

	tables := map[string]rates.Table{}
	failed := map[string]bool{}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if failed[sub.Base] {
			res.Failed++
			continue
		}
		table, ok := tables[sub.Base]
		if !ok {
			table, err = n.source.Latest(ctx, sub.Base)
			if err != nil {
				n.log.Warn("broadcast rate fetch failed", "base", sub.Base, "err", err)
				failed[sub.Base] = true
				res.Failed++
				continue
			}
			tables[sub.Base] = table
		}
		rate, err := table.Rate(sub.Quote)
		if err != nil {
			n.log.Warn("broadcast quote missing", "chat_id", sub.ChatID, "quote", sub.Quote)
			res.Failed++
			continue
		}
		if err := reply(n.sender, sub.ChatID, rates.Format(sub.Base, sub.Quote, rate, table.FetchedAt)); err != nil {
			n.log.Warn("broadcast send failed", "chat_id", sub.ChatID, "err", err)
			res.Failed++
			continue
		}
		res.Sent++
	}
	n.observer.ObserveBroadcast(res.Sent, res.Failed)
	return res, nil
}
