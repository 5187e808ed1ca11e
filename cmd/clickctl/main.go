package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"tgclicker/internal/config"
	"tgclicker/internal/db"
	"tgclicker/internal/game"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type env struct {
	databaseURL string
	botUsername string
	maxConns    int32
}

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	e := &env{databaseURL: cfg.DatabaseURL, botUsername: cfg.BotUsername, maxConns: cfg.DBMaxConns}

	root := &cobra.Command{
		Use:          "clickctl",
		Short:        "Operator tool for the clicker economy",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&e.databaseURL, "database-url", e.databaseURL, "Postgres connection string (DATABASE_URL)")

	root.AddCommand(
		newMigrateCmd(e),
		newPlayerCmd(e),
		newReferralCmd(e),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (e *env) requireDB() error {
	if strings.TrimSpace(e.databaseURL) == "" {
		return errors.New("DATABASE_URL or --database-url is required")
	}
	return nil
}

// open connects to the database and builds the economy service on top of it.
func (e *env) open(ctx context.Context) (*game.Service, *pgxpool.Pool, error) {
	if err := e.requireDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.Connect(ctx, e.databaseURL, e.maxConns)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := game.NewService(db.NewLedger(pool), game.DefaultPricing, game.DefaultEnergy, game.WithLogger(logger))
	return svc, pool, nil
}

func withService(cmd *cobra.Command, e *env, fn func(ctx context.Context, svc *game.Service) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	svc, pool, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, svc)
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireDB(); err != nil {
				return err
			}
			version, err := db.Migrate(e.databaseURL)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Schema at version %d.", version))
			return nil
		},
	}
}

func newPlayerCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Inspect and manage players",
	}
	cmd.AddCommand(
		newPlayerShowCmd(e),
		newPlayerCreateCmd(e),
		newPlayerUpgradeCmd(e),
		newPlayerInviteCmd(e),
		newPlayerWatchCmd(e),
	)
	return cmd
}

func newPlayerShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show [user-id]",
		Short: "Show balance, abilities and energy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := int64FromArgOrPrompt(args, 0, "User ID")
			if err != nil {
				return err
			}
			return withService(cmd, e, func(ctx context.Context, svc *game.Service) error {
				prof, err := svc.Profile(ctx, userID)
				if err != nil {
					return err
				}
				renderProfile(prof)
				return nil
			})
		},
	}
}

func newPlayerCreateCmd(e *env) *cobra.Command {
	var referrer int64
	var name string
	cmd := &cobra.Command{
		Use:   "create [user-id]",
		Short: "Register a player",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := int64FromArgOrPrompt(args, 0, "User ID")
			if err != nil {
				return err
			}
			var ref *int64
			if referrer > 0 {
				ref = &referrer
			}
			return withService(cmd, e, func(ctx context.Context, svc *game.Service) error {
				p, err := svc.CreatePlayer(ctx, userID, game.Registration{DisplayName: name}, ref)
				if err != nil {
					return err
				}
				msg := fmt.Sprintf("Player %d registered.", p.UserID)
				if p.ReferrerID != nil {
					msg += fmt.Sprintf(" Referred by %d.", *p.ReferrerID)
				} else if ref != nil {
					printWarn(fmt.Sprintf("Referrer %d was not accepted.", *ref))
				}
				printSuccess(msg)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&referrer, "referrer", 0, "Referring player id")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	return cmd
}

func newPlayerUpgradeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [user-id] [track]",
		Short: "Buy the next level of click_cost, energy_cap or energy_regen",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := int64FromArgOrPrompt(args, 0, "User ID")
			if err != nil {
				return err
			}
			var raw string
			if len(args) > 1 {
				raw = args[1]
			} else if raw, err = promptChoice("Track", []string{"click_cost", "energy_cap", "energy_regen"}, "click_cost"); err != nil {
				return err
			}
			track, err := game.ParseTrack(raw)
			if err != nil {
				return err
			}
			return withService(cmd, e, func(ctx context.Context, svc *game.Service) error {
				res, err := svc.UpgradeAbility(ctx, userID, track)
				if err != nil {
					return err
				}
				renderUpgrade(track, res)
				return nil
			})
		},
	}
}

func newPlayerInviteCmd(e *env) *cobra.Command {
	var bot string
	cmd := &cobra.Command{
		Use:   "invite [user-id]",
		Short: "Print the player's referral deep link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := int64FromArgOrPrompt(args, 0, "User ID")
			if err != nil {
				return err
			}
			if bot == "" {
				bot = e.botUsername
			}
			bot = strings.TrimPrefix(strings.TrimSpace(bot), "@")
			if bot == "" {
				return errors.New("bot username is required (TELEGRAM_BOT_USERNAME or --bot)")
			}
			link := inviteLink(bot, userID)
			accent.Println(link)
			if term.IsTerminal(int(os.Stdout.Fd())) {
				qrterminal.GenerateWithConfig(link, qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bot, "bot", "", "Bot username")
	return cmd
}

func inviteLink(bot string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%d", bot, userID)
}

func newPlayerWatchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [user-id]",
		Short: "Live view of a player's energy regeneration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := int64FromArgOrPrompt(args, 0, "User ID")
			if err != nil {
				return err
			}
			svc, pool, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			return runWatch(cmd.Context(), svc, userID)
		},
	}
}

func newReferralCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referral",
		Short: "Referral rewards",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "claim [referrer-id] [referred-id]",
			Short: "Credit the referral reward to the referrer",
			Args:  cobra.MaximumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				referrerID, err := int64FromArgOrPrompt(args, 0, "Referrer ID")
				if err != nil {
					return err
				}
				referredID, err := int64FromArgOrPrompt(args, 1, "Referred ID")
				if err != nil {
					return err
				}
				return withService(cmd, e, func(ctx context.Context, svc *game.Service) error {
					res, err := svc.ClaimReferralReward(ctx, referrerID, referredID)
					if err != nil {
						return err
					}
					printSuccess(fmt.Sprintf("Reward credited. Balance: %s", comma(res.Balance)))
					renderReferrals(res.Referrals)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list [referrer-id]",
			Short: "List a player's referrals",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				referrerID, err := int64FromArgOrPrompt(args, 0, "Referrer ID")
				if err != nil {
					return err
				}
				return withService(cmd, e, func(ctx context.Context, svc *game.Service) error {
					list, err := svc.Referrals(ctx, referrerID)
					if err != nil {
						return err
					}
					renderReferrals(list)
					return nil
				})
			},
		},
	)
	return cmd
}
