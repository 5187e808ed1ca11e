package tgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"tgclicker/internal/auth"
	"tgclicker/internal/game"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Economy interface {
	CreatePlayer(ctx context.Context, userID int64, reg game.Registration, referrerID *int64) (game.Player, error)
	Profile(ctx context.Context, userID int64) (game.PlayerProfile, error)
}

// Clicker is the game's chat front end: it registers players and links them
// to the WebApp.
type Clicker struct {
	sender    Sender
	economy   Economy
	webAppURL string
	log       *slog.Logger
	observer  Observer
}

func NewClicker(sender Sender, economy Economy, webAppURL string, logger *slog.Logger, observer Observer) *Clicker {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Clicker{
		sender:    sender,
		economy:   economy,
		webAppURL: webAppURL,
		log:       logger,
		observer:  observer,
	}
}

func (c *Clicker) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return nil
	}
	cmd := msg.Command()
	c.observer.ObserveCommand("clicker", cmd)

	switch cmd {
	case "start":
		return c.handleStart(ctx, msg)
	case "balance":
		return c.handleBalance(ctx, msg)
	default:
		return reply(c.sender, msg.Chat.ID, "Unknown command. Try /start or /balance.")
	}
}

func (c *Clicker) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	from := msg.From
	reg := game.Registration{DisplayName: from.UserName, FirstName: from.FirstName}
	if reg.DisplayName == "" {
		reg.DisplayName = strings.TrimSpace(from.FirstName + " " + from.LastName)
	}
	referrer := auth.ReferrerFromStartParam(msg.CommandArguments())

	p, err := c.economy.CreatePlayer(ctx, from.ID, reg, referrer)
	if err != nil {
		c.log.Error("start registration failed", "user_id", from.ID, "err", err)
		return reply(c.sender, msg.Chat.ID, "Registration is temporarily unavailable, please try again.")
	}

	name := p.FirstName
	if name == "" {
		name = p.DisplayName
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Welcome, %s! Tap to start clicking.", name))
	if c.webAppURL != "" {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Play", c.webAppURL),
			),
		)
	}
	_, err = c.sender.Send(out)
	return err
}

func (c *Clicker) handleBalance(ctx context.Context, msg *tgbotapi.Message) error {
	prof, err := c.economy.Profile(ctx, msg.From.ID)
	if errors.Is(err, game.ErrPlayerNotFound) {
		return reply(c.sender, msg.Chat.ID, "You are not registered yet. Send /start first.")
	}
	if err != nil {
		c.log.Error("balance lookup failed", "user_id", msg.From.ID, "err", err)
		return reply(c.sender, msg.Chat.ID, "Balance is temporarily unavailable.")
	}
	return reply(c.sender, msg.Chat.ID, formatProfile(prof))
}

func formatProfile(p game.PlayerProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Balance: %d\n", p.Player.Balance)
	fmt.Fprintf(&b, "Energy: %d/%d\n", int64(math.Floor(p.CurrentEnergy)), int64(p.EnergyCap))
	fmt.Fprintf(&b, "Click level: %d\n", p.Abilities.ClickCostLevel)
	fmt.Fprintf(&b, "Energy cap level: %d\n", p.Abilities.EnergyCapLevel)
	fmt.Fprintf(&b, "Regen level: %d\n", p.Abilities.EnergyRegenLevel)
	fmt.Fprintf(&b, "Referrals: %d", p.Referrals)
	return b.String()
}
