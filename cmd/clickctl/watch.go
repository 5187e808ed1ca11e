package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"tgclicker/internal/game"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	watchFrame   = game.RegenCycleMs * time.Millisecond
	watchRefresh = 5 * time.Second
)

type frameMsg time.Time

type profileMsg struct {
	profile game.PlayerProfile
	err     error
}

// watchModel redraws derived energy every regen cycle and reloads the
// stored profile periodically.
type watchModel struct {
	ctx     context.Context
	svc     *game.Service
	userID  int64
	profile game.PlayerProfile
	energy  float64
	loaded  bool
	err     error
	bar     progress.Model
	now     func() time.Time
}

func newWatchModel(ctx context.Context, svc *game.Service, userID int64) watchModel {
	return watchModel{
		ctx:    ctx,
		svc:    svc,
		userID: userID,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		now:    time.Now,
	}
}

func runWatch(ctx context.Context, svc *game.Service, userID int64) error {
	m, err := tea.NewProgram(newWatchModel(ctx, svc, userID), tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	if wm, ok := m.(watchModel); ok && wm.err != nil {
		return wm.err
	}
	return nil
}

func (m watchModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		p, err := m.svc.Profile(ctx, m.userID)
		return profileMsg{profile: p, err: err}
	}
}

func frame() tea.Cmd {
	return tea.Tick(watchFrame, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.load(), frame())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}
	case profileMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		first := !m.loaded
		m.profile, m.loaded = msg.profile, true
		m.energy = m.currentEnergy()
		if first {
			return m, tea.Tick(watchRefresh, func(time.Time) tea.Msg { return reloadMsg{} })
		}
	case reloadMsg:
		return m, tea.Batch(m.load(), tea.Tick(watchRefresh, func(time.Time) tea.Msg { return reloadMsg{} }))
	case frameMsg:
		if m.loaded {
			m.energy = m.currentEnergy()
		}
		return m, frame()
	}
	return m, nil
}

type reloadMsg struct{}

func (m watchModel) currentEnergy() float64 {
	p := m.profile
	return game.DefaultEnergy.CurrentEnergy(
		game.ActiveEnergy{UserID: p.Player.UserID, StoredEnergy: p.StoredEnergy},
		&p.Session,
		&p.Abilities,
		m.now(),
	)
}

func (m watchModel) View() string {
	if !m.loaded {
		return "Loading player...\n"
	}
	p := m.profile
	p.CurrentEnergy = m.energy
	pct := 0.0
	if p.EnergyCap > 0 {
		pct = math.Min(1, m.energy/p.EnergyCap)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Player %d", p.Player.UserID)))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(pct))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(profileLines(p), "\n"))
	b.WriteString("\n\nr reload, q quit\n")
	return boxStyle.Render(b.String()) + "\n"
}
