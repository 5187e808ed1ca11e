package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"tgclicker/internal/game"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func profileLines(p game.PlayerProfile) []string {
	lines := []string{
		row("Balance", comma(p.Player.Balance)),
		row("Energy", fmt.Sprintf("%s / %s", comma(int64(math.Floor(p.CurrentEnergy))), comma(int64(p.EnergyCap)))),
		row("Click cost", levelLine(game.ClickCost, p.Abilities)),
		row("Energy cap", levelLine(game.EnergyCap, p.Abilities)),
		row("Energy regen", levelLine(game.EnergyRegen, p.Abilities)),
		row("Referrals", strconv.Itoa(p.Referrals)),
	}
	if p.Player.ReferrerID != nil {
		lines = append(lines, row("Referred by", strconv.FormatInt(*p.Player.ReferrerID, 10)))
	}
	if p.Session.LastLoginMs != nil {
		lines = append(lines, row("Last login", formatMs(*p.Session.LastLoginMs)))
	}
	if p.Session.LastLogoutMs != nil {
		lines = append(lines, row("Last logout", formatMs(*p.Session.LastLogoutMs)))
	}
	if p.Boost != nil {
		lines = append(lines, row("Last boost", formatMs(p.Boost.LastBoostRunMs)))
	}
	return lines
}

func renderProfile(p game.PlayerProfile) {
	title := titleStyle.Render(fmt.Sprintf("Player %d", p.Player.UserID))
	if p.Player.DisplayName != "" {
		title += " " + neutral.Sprint(truncate(p.Player.DisplayName, 24))
	}
	fmt.Println(boxStyle.Render(title + "\n" + strings.Join(profileLines(p), "\n")))
}

func levelLine(t game.Track, a game.AbilityLevels) string {
	level := a.Level(t)
	if level >= t.MaxLevel() {
		return fmt.Sprintf("%d/%d (max)", level, t.MaxLevel())
	}
	return fmt.Sprintf("%d/%d, next %s", level, t.MaxLevel(), comma(game.DefaultPricing.UpgradeCost(t, level)))
}

func renderUpgrade(t game.Track, res game.UpgradeResult) {
	if res.Charged == 0 {
		printWarn(fmt.Sprintf("%s is already at max level.", t))
	} else {
		printSuccess(fmt.Sprintf("%s upgraded to level %d for %s.", t, res.Abilities.Level(t), comma(res.Charged)))
	}
	printInfo("Balance: " + comma(res.Balance))
	if res.ActiveEnergy != nil {
		printInfo("Energy refilled to " + comma(int64(*res.ActiveEnergy)))
	}
}

func renderReferrals(list []game.Referral) {
	if len(list) == 0 {
		printInfo("No referrals yet.")
		return
	}
	accent.Printf("%-14s %-9s %s\n", "REFERRED", "CLAIMED", "SINCE")
	for _, r := range list {
		claimed := "no"
		if r.RewardClaimed {
			claimed = "yes"
		}
		fmt.Printf("%-14d %-9s %s\n", r.ReferredID, claimed, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
