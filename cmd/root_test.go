package cmd

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/rassi0429/xelenchu-discord-bot/xelenchu"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	for _, level := range []slog.Level{
		slog.LevelDebug,
		slog.LevelInfo,
		slog.LevelWarn,
		slog.LevelError,
	} {
		parsed, err := getLogLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}

	_, err := getLogLevel("LOUD")
	require.Error(t, err)
}

func TestLevelStringToLevelVar(t *testing.T) {
	lvl, err := levelStringToLevelVar("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl.Level())

	_, err = levelStringToLevelVar("nonsense")
	require.Error(t, err)
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	decoded, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"DEBUG",
	)
	require.NoError(t, err)
	lvlVar, ok := decoded.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvlVar.Level())

	// non-level targets pass through untouched
	passthrough, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(""),
		"DEBUG",
	)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", passthrough)

	_, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"LOUD",
	)
	require.Error(t, err)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("XEL_DISCORD_TOKEN", "env-token")
	t.Setenv("XEL_DISCORD_GUILD_ID", "env-guild")
	t.Setenv("XEL_PROVISION_CHANNEL_PREFIX", "ticket-")
	t.Setenv("XEL_PROVISION_TRACKING_ROLE_ENABLED", "false")
	t.Setenv("XEL_DISCORD_LOG_LEVEL", "ERROR")
	t.Cleanup(viper.Reset)

	initConfig()

	c := xelenchu.DefaultConfig()
	require.NoError(
		t,
		viper.Unmarshal(
			c,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		),
	)

	assert.Equal(t, "env-token", c.Discord.Token)
	assert.Equal(t, "env-guild", c.Discord.GuildID)
	assert.Equal(t, "ticket-", c.Provision.ChannelPrefix)
	assert.False(t, c.Provision.TrackingRole.Enabled)
	assert.Equal(t, slog.LevelError, c.Discord.LogLevel.Level())

	// unset keys keep their defaults
	assert.Equal(t, xelenchu.DefaultPromptMessage, c.Provision.PromptMessage)
	assert.Equal(t, xelenchu.DefaultReporterTimeout, c.Reporter.Timeout)
}
