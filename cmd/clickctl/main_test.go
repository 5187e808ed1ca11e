package main

import (
	"testing"
	"time"

	"tgclicker/internal/game"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComma(t *testing.T) {
	cases := map[int64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		123456:     "123,456",
		1234567:    "1,234,567",
		-2_000_000: "-2,000,000",
	}
	for in, want := range cases {
		assert.Equal(t, want, comma(in), "comma(%d)", in)
	}
}

func TestInviteLink(t *testing.T) {
	assert.Equal(t, "https://t.me/clickerbot?start=ref_42", inviteLink("clickerbot", 42))
}

func TestInt64FromArg(t *testing.T) {
	v, err := int64FromArgOrPrompt([]string{" 77 "}, 0, "User ID")
	require.NoError(t, err)
	assert.Equal(t, int64(77), v)

	_, err = int64FromArgOrPrompt([]string{"-1"}, 0, "User ID")
	assert.EqualError(t, err, "invalid user id")

	_, err = int64FromArgOrPrompt([]string{"x"}, 0, "Referrer ID")
	assert.EqualError(t, err, "invalid referrer id")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestWatchModelRegeneratesBetweenReloads(t *testing.T) {
	login := int64(1_000_000)
	start := time.UnixMilli(login)
	m := newWatchModel(t.Context(), nil, 5)
	m.now = func() time.Time { return start.Add(time.Second) }

	next, _ := m.Update(profileMsg{profile: game.PlayerProfile{
		Player:       game.Player{UserID: 5},
		Abilities:    game.NewAbilityLevels(5),
		StoredEnergy: 100,
		EnergyCap:    1000,
		Session:      game.LastSession{UserID: 5, LastLoginMs: &login},
	}})
	wm := next.(watchModel)
	require.True(t, wm.loaded)
	want := game.DefaultEnergy.CurrentEnergy(
		game.ActiveEnergy{UserID: 5, StoredEnergy: 100},
		&wm.profile.Session, &wm.profile.Abilities, start.Add(time.Second))
	assert.Equal(t, want, wm.energy)
	assert.Greater(t, wm.energy, 100.0)
	assert.Contains(t, wm.View(), "Player 5")
}
