package xelenchu

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestGetDiscordUser(t *testing.T) {
	t.Parallel()
	u := &discordgo.User{ID: "user-1"}

	direct := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{User: u},
	}
	assert.Equal(t, u, getDiscordUser(direct))

	viaMember := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: u},
		},
	}
	assert.Equal(t, u, getDiscordUser(viaMember))

	neither := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{},
	}
	assert.Nil(t, getDiscordUser(neither))
}

func TestMemberHasRole(t *testing.T) {
	t.Parallel()
	m := &discordgo.Member{Roles: []string{"role-a", "role-b"}}

	assert.True(t, memberHasRole(m, "role-a"))
	assert.True(t, memberHasRole(m, "role-b"))
	assert.False(t, memberHasRole(m, "role-c"))
	assert.False(t, memberHasRole(nil, "role-a"))
	assert.False(t, memberHasRole(&discordgo.Member{}, "role-a"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hello", truncate("hello", 5))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "", truncate("", 5))

	// rune-safe: counts characters, not bytes
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestSanitizeChannelName(t *testing.T) {
	t.Parallel()
	for input, want := range map[string]string{
		"TestUser":     "testuser",
		"Some  User":   "some-user",
		"  padded  ":   "padded",
		"UPPER lower":  "upper-lower",
		"日本語 ユーザー":     "日本語-ユーザー",
		"tabs\t\there": "tabs-here",
	} {
		assert.Equal(t, want, sanitizeChannelName(input), "input: %q", input)
	}
}
