package xelenchu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	require.NotNil(t, cfg.LogLevel)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, DefaultDiscordGatewayIntent, cfg.Discord.GatewayIntents)
	assert.Equal(t, DefaultDiscordCustomStatus, cfg.Discord.CustomStatus)
	assert.Equal(t, DefaultDiscordStartupMessage, cfg.Discord.StartupMessage)
	assert.Equal(
		t,
		DefaultDiscordgoLogLevel,
		cfg.Discord.DiscordGoLogLevel.Level(),
	)
	assert.False(t, cfg.Discord.WebhookServer.Enabled)
	assert.Equal(t, DefaultWebhookServerListen, cfg.Discord.WebhookServer.Listen)

	require.NotNil(t, cfg.Provision)
	assert.Equal(t, DefaultChannelPrefix, cfg.Provision.ChannelPrefix)
	assert.Equal(t, DefaultPromptMessage, cfg.Provision.PromptMessage)
	assert.Equal(t, DefaultButtonLabel, cfg.Provision.ButtonLabel)
	assert.Equal(t, DefaultWelcomeMessage, cfg.Provision.WelcomeMessage)
	assert.Equal(t, DefaultErrorMessage, cfg.Provision.ErrorMessage)
	assert.Empty(t, cfg.Provision.RequiredRoleID, "setup gate disabled by default")

	assert.True(t, cfg.Provision.TrackingRole.Enabled)
	assert.Empty(t, cfg.Provision.TrackingRole.ID)
	assert.Equal(t, DefaultTrackingRoleName, cfg.Provision.TrackingRole.Name)
	assert.Equal(t, DefaultTrackingRoleColor, cfg.Provision.TrackingRole.Color)

	require.NotNil(t, cfg.Reporter)
	assert.Empty(t, cfg.Reporter.URL, "reporting disabled by default")
	assert.Equal(t, DefaultReporterTimeout, cfg.Reporter.Timeout)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "defaults are missing required fields")

	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "app-1"
	cfg.Discord.GuildID = testGuildID
	cfg.Provision.CategoryID = testCategoryID
	cfg.Provision.SupportRoleID = testSupportRoleID
	require.NoError(t, cfg.Validate())

	cfg.Reporter.URL = "not a url"
	require.Error(t, cfg.Validate())

	cfg.Reporter.URL = "https://discord.com/api/webhooks/123/token"
	require.NoError(t, cfg.Validate())
}

func TestNewRequiresSubConfigs(t *testing.T) {
	t.Parallel()
	_, err := New(&Config{})
	require.Error(t, err)
}
