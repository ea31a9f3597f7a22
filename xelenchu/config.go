//nolint:lll // struct tags can't be split
package xelenchu

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "XELENCHU_ENV_PREFIX"
	DefaultEnvPrefix   = "XEL"

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DiscordSlashCommandSetup is the name of the slash command that posts
	// the provisioning prompt.
	DiscordSlashCommandSetup = "setup"

	// createChannelButtonID is the custom ID of the single button on the
	// provisioning prompt. Clicking it triggers channel creation.
	createChannelButtonID = "create_channel"

	DefaultSetupCommandDescription = "Post the support channel creation prompt"
	DefaultPromptMessage           = "Press the button below to get your own private support channel!"
	DefaultButtonLabel             = "Create my channel"
	DefaultButtonEmoji             = "\U0001F64B" // 🙋
	DefaultWelcomeMessage          = "Welcome to your private support channel!\nOnly you and the support staff can see this channel - feel free to ask anything here."
	DefaultErrorMessage            = "An error occurred while processing your request."
	DefaultChannelPrefix           = "support-"

	DefaultTrackingRoleName   = "Support Channel Created"
	DefaultTrackingRoleColor  = 0x00AE86
	DefaultTrackingRoleReason = "Tracks members who already have a support channel"

	DefaultDiscordCustomStatus   = "/setup to get started!"
	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordGatewayIntent  = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMembers

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultReporterLogLevel  = slog.LevelInfo

	DefaultReporterTimeout = 10 * time.Second

	// reporterURLPlaceholder is the sentinel left by the example env file.
	// A reporter configured with this value behaves as if no URL was set.
	reporterURLPlaceholder = "YOUR_DISCORD_WEBHOOK_URL_HERE"

	DefaultWebhookServerListen        = "127.0.0.1:5001"
	DefaultWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultWebhookServerLogLevel      = slog.LevelInfo
	DefaultReadTimeout                = 5 * time.Second
	DefaultReadHeaderTimeout          = 5 * time.Second
	DefaultWriteTimeout               = 10 * time.Second
	DefaultIdleTimeout                = 30 * time.Second
	defaultListenNetwork              = "tcp"
)

// Config is the root configuration for the bot. It's loaded once at
// startup and treated as immutable afterward, with one documented
// exception: TrackingRoleConfig.ID is re-pointed in memory when the
// tracking role is lazily created (never written back to disk).
type Config struct {
	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect to discord. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the discord connection itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Provision configures the channel-provisioning workflow
	Provision *ProvisionConfig `yaml:"provision" mapstructure:"provision" json:"provision"`

	// Reporter configures the error-reporting webhook
	Reporter *ReporterConfig `yaml:"reporter" mapstructure:"reporter" json:"reporter"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the config's `binding` tags
func (c Config) Validate() error {
	validate := validator.New()
	validate.SetTagName("binding")
	return validate.Struct(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID is the server the bot operates in, and the guild used when
	// registering the slash command
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// CustomStatus is set as the bot user's status once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// If NotificationChannelID is set, StartupMessage is sent to that
	// channel whenever the bot connects to the gateway
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// Required when receiving interactions via webhook rather than the gateway
	WebhookServer WebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	httpClient *http.Client
}

// ProvisionConfig configures the channel-provisioning workflow: the
// category to create channels under, who may run /setup, the role
// support staff see new channels through, and the user-facing strings.
//
//nolint:lll // can't break tags
type ProvisionConfig struct {
	// CategoryID is the category channel new support channels are created under
	CategoryID string `yaml:"category_id" mapstructure:"category_id" json:"category_id" binding:"required"`

	// SupportRoleID is granted view/send/history access on every created channel
	SupportRoleID string `yaml:"support_role_id" mapstructure:"support_role_id" json:"support_role_id" binding:"required"`

	// RequiredRoleID gates the /setup command. Empty disables the gate -
	// anyone in the guild can post the prompt.
	RequiredRoleID string `yaml:"required_role_id" mapstructure:"required_role_id" json:"required_role_id"`

	// TrackingRole configures the one-channel-per-member marker role
	TrackingRole TrackingRoleConfig `yaml:"tracking_role" mapstructure:"tracking_role" json:"tracking_role"`

	// ChannelPrefix is prepended to the invoking user's handle to derive
	// the channel name
	ChannelPrefix string `yaml:"channel_prefix" mapstructure:"channel_prefix" json:"channel_prefix"`

	// PromptMessage is the public message posted by /setup, above the button
	PromptMessage string `yaml:"prompt_message" mapstructure:"prompt_message" json:"prompt_message"`

	ButtonLabel string `yaml:"button_label" mapstructure:"button_label" json:"button_label"`
	ButtonEmoji string `yaml:"button_emoji" mapstructure:"button_emoji" json:"button_emoji"`

	// WelcomeMessage is posted into each newly created channel, after a
	// mention of the invoking user
	WelcomeMessage string `yaml:"welcome_message" mapstructure:"welcome_message" json:"welcome_message"`

	// ErrorMessage is the generic reply used when the workflow fails
	// unexpectedly
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`
}

// TrackingRoleConfig configures the role granted to a member after their
// channel is created, which is also the duplicate-prevention marker.
// When Enabled is false the workflow never touches roles and members can
// create any number of channels.
//
//nolint:lll // can't break tags
type TrackingRoleConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// ID of the tracking role. May be empty - the role is created on first
	// use and the new ID kept in memory for the rest of the process lifetime.
	ID string `yaml:"id" mapstructure:"id" json:"id"`

	// Name and Color used when the role has to be created
	Name  string `yaml:"name" mapstructure:"name" json:"name"`
	Color int    `yaml:"color" mapstructure:"color" json:"color"`

	// Reason is attached to the role-create call as the audit log reason
	Reason string `yaml:"reason" mapstructure:"reason" json:"reason"`
}

// ReporterConfig configures the monitoring webhook unexpected errors are
// reported to.
//
//nolint:lll // can't break tags
type ReporterConfig struct {
	// URL of the webhook. Empty (or the example placeholder) disables
	// delivery - reports are only logged locally.
	URL string `yaml:"url" mapstructure:"url" json:"url" binding:"omitempty,url"`

	// Timeout for a single delivery attempt
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// WebhookServerConfig represents the configuration for the interaction
// webhook server, used when receiving interactions over HTTP POST instead
// of (or in addition to) the gateway.
//
//nolint:lll // can't break tags
type WebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"required_if=Enabled true,min=1s"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// DiscordInteractionReceiveMethod identifies how an interaction arrived
type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	reporterLogLevel := &slog.LevelVar{}
	webhookLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	reporterLogLevel.Set(DefaultReporterLogLevel)
	webhookLogLevel.Set(DefaultWebhookServerLogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
			StartupMessage:    DefaultDiscordStartupMessage,
			WebhookServer: WebhookServerConfig{
				Enabled:       false,
				Listen:        DefaultWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultWebhookServerTLSminVersion,
				},
				LogLevel:          webhookLogLevel,
				ReadTimeout:       DefaultReadTimeout,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
		},
		Provision: &ProvisionConfig{
			TrackingRole: TrackingRoleConfig{
				Enabled: true,
				Name:    DefaultTrackingRoleName,
				Color:   DefaultTrackingRoleColor,
				Reason:  DefaultTrackingRoleReason,
			},
			ChannelPrefix:  DefaultChannelPrefix,
			PromptMessage:  DefaultPromptMessage,
			ButtonLabel:    DefaultButtonLabel,
			ButtonEmoji:    DefaultButtonEmoji,
			WelcomeMessage: DefaultWelcomeMessage,
			ErrorMessage:   DefaultErrorMessage,
		},
		Reporter: &ReporterConfig{
			Timeout:  DefaultReporterTimeout,
			LogLevel: reporterLogLevel,
		},
	}
}
