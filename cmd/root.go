package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/rassi0429/xelenchu-discord-bot/xelenchu"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = xelenchu.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "xelenchu [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log-level strings into *slog.LevelVar
// config fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("log_level", xelenchu.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", xelenchu.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", xelenchu.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.gateway_intents",
		xelenchu.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.log_level",
		xelenchu.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		xelenchu.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.custom_status", xelenchu.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.startup_message", xelenchu.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.notification_channel_id", "")

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		xelenchu.DefaultWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault(
		"discord.webhook_server.read_timeout",
		xelenchu.DefaultReadTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		xelenchu.DefaultReadHeaderTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.write_timeout",
		xelenchu.DefaultWriteTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.idle_timeout",
		xelenchu.DefaultIdleTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		xelenchu.DefaultWebhookServerLogLevel.String(),
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.tls_min_version"))

	// Provisioning config
	viper.SetDefault("provision.category_id", "")
	viper.SetDefault("provision.support_role_id", "")
	viper.SetDefault("provision.required_role_id", "")
	viper.SetDefault("provision.tracking_role.enabled", true)
	viper.SetDefault("provision.tracking_role.id", "")
	viper.SetDefault("provision.tracking_role.name", xelenchu.DefaultTrackingRoleName)
	viper.SetDefault("provision.tracking_role.color", xelenchu.DefaultTrackingRoleColor)
	viper.SetDefault("provision.tracking_role.reason", xelenchu.DefaultTrackingRoleReason)
	viper.SetDefault("provision.channel_prefix", xelenchu.DefaultChannelPrefix)
	viper.SetDefault("provision.prompt_message", xelenchu.DefaultPromptMessage)
	viper.SetDefault("provision.button_label", xelenchu.DefaultButtonLabel)
	viper.SetDefault("provision.button_emoji", xelenchu.DefaultButtonEmoji)
	viper.SetDefault("provision.welcome_message", xelenchu.DefaultWelcomeMessage)
	viper.SetDefault("provision.error_message", xelenchu.DefaultErrorMessage)

	// Reporter config
	viper.SetDefault("reporter.url", "")
	viper.SetDefault("reporter.timeout", xelenchu.DefaultReporterTimeout)
	viper.SetDefault(
		"reporter.log_level",
		xelenchu.DefaultReporterLogLevel.String(),
	)

	envPrefix := os.Getenv(xelenchu.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = xelenchu.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"discord.webhook_server.log_level",
		"reporter.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to use",
	)
}
