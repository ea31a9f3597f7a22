package xelenchu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/rassi0429/xelenchu-discord-bot/xelenchu.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// Xelenchu is the main application struct: it wires the Discord
// connection, the provisioning workflow, the error reporter, and the
// optional webhook interaction server, and dispatches every inbound
// interaction to the correct handler.
type Xelenchu struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	discord     *Discord
	provisioner *Provisioner
	reporter    *WebhookReporter

	webhookServer             *WebhookServer
	webhookInteractionHandler func(c *gin.Context)

	// getInteractionHandlerFunc should be a callable that returns the
	// handler for an incoming interaction. Overridable for testing.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	// prevents concurrent Run calls
	runMu sync.Mutex
}

// New creates and wires a new Xelenchu instance from the given config.
func New(config *Config) (*Xelenchu, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Discord == nil || config.Provision == nil {
		return nil, errors.New("missing discord or provision config")
	}
	if config.Reporter == nil {
		config.Reporter = DefaultConfig().Reporter
	}

	logHandler := newLogHandler(defaultLogWriter, config.LogLevel)
	logger := slog.New(logHandler).With(loggerNameKey, "xelenchu")

	x := &Xelenchu{
		config:     config,
		logger:     logger,
		logHandler: logHandler,
	}

	if config.HTTPClient != nil {
		config.Discord.httpClient = config.HTTPClient
	}

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = slog.New(
		newLogHandler(defaultLogWriter, config.Discord.LogLevel),
	).With(loggerNameKey, "discord")
	discord.bot = x
	x.discord = discord

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(
			defaultLogWriter,
			config.Discord.DiscordGoLogLevel,
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	x.reporter = newWebhookReporter(
		*config.Reporter,
		config.HTTPClient,
		newLogHandler(defaultLogWriter, config.Reporter.LogLevel),
	)

	if config.Discord.WebhookServer.Enabled {
		ws, wsErr := newWebhookServer(x, config.Discord.WebhookServer)
		if wsErr != nil {
			return nil, wsErr
		}
		x.webhookServer = ws
	}

	return x, nil
}

// Run starts the bot and blocks until the given context is canceled.
// The gateway connection and (when enabled) the webhook interaction
// server run concurrently; a failure to connect to discord is reported
// to the monitoring webhook before returning.
func (x *Xelenchu) Run(ctx context.Context) error {
	x.runMu.Lock()
	defer x.runMu.Unlock()

	logger := x.logger
	ctx = WithLogger(ctx, logger)

	if err := x.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", x.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// tracks in-flight interaction handlers so shutdown can wait on them
	runtimeWG := &sync.WaitGroup{}

	if err := x.initDiscordSession(ctx, runtimeWG); err != nil {
		return err
	}

	x.webhookInteractionHandler = webhookReceiveHandler(ctx, x)
	x.provisioner = newProvisioner(
		x.config.Provision,
		x.discord.session,
		x.logHandler,
	)

	g, runCtx := errgroup.WithContext(ctx)

	if x.webhookServer != nil {
		g.Go(
			func() error {
				httpErr := x.webhookServer.Serve(runCtx)
				if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
					logger.ErrorContext(runCtx, "error serving webhook HTTP", tint.Err(httpErr))
					return httpErr
				}
				return nil
			},
		)
	}

	logger.InfoContext(ctx, "connecting to discord")

	startCtx, startCancel := context.WithTimeout(ctx, x.config.StartupTimeout)
	defer startCancel()

	openErr := make(chan error, 1)
	go func() {
		openErr <- x.discord.session.Open()
	}()

	select {
	case <-startCtx.Done():
		cancel()
		_ = g.Wait()
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-openErr:
		if err != nil {
			logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
			x.reporter.Report(ctx, err, "Bot Login Failed")
			cancel()
			_ = g.Wait()
			return fmt.Errorf("error connecting to discord: %w", err)
		}
	}

	if x.config.Discord.CustomStatus != "" {
		go func() {
			if statusErr := x.discord.updateCustomStatus(
				x.config.Discord.CustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}

	<-runCtx.Done()

	return x.shutdown(runtimeWG, g)
}

// initDiscordSession creates the discordgo session (unless one was
// injected for testing) and registers the gateway event handlers. Each
// inbound interaction is dispatched on its own goroutine.
func (x *Xelenchu) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	if x.discord.session == nil {
		session, err := x.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		x.discord.session = session
	}

	ctx = WithLogger(ctx, x.discord.logger)

	for _, remove := range x.discord.discordgoRemoveHandlerFuncs {
		remove()
	}

	x.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: x.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: x.config.Discord.CustomStatus,
			},
		},
	)

	x.discord.discordgoRemoveHandlerFuncs = []func(){
		x.discord.session.AddHandler(x.discord.handlerConnect()),
		x.discord.session.AddHandler(x.discord.handlerDisconnect()),
		x.discord.session.AddHandler(x.discord.handlerReady()),
		x.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := x.getInteractionHandler(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					x.handleInteraction(ctx, handler)
				}()
			},
		),
	}

	return nil
}

func (x *Xelenchu) getInteractionHandler(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) InteractionHandler {
	if x.getInteractionHandlerFunc != nil {
		return x.getInteractionHandlerFunc(ctx, i)
	}
	return GatewayHandler{
		session:     x.discord.session,
		interaction: i,
		reply:       &replyTracker{},
		logger: x.logger.With(
			slog.Group("interaction", interactionLogAttrs(*i)...),
		),
	}
}

// handleInteraction routes one inbound interaction to the matching
// handler and guarantees it receives exactly one terminal response,
// even when the handler fails or panics.
func (x *Xelenchu) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rec := recover(); rec != nil {
			x.finalizeInteractionError(
				ctx,
				handler,
				fmt.Errorf("panic handling interaction: %v", rec),
				fmt.Sprintf("Interaction Panic: %s", i.ID),
			)
		}
	}()

	// webhook verification pings carry no user, so this has to come
	// before the user checks
	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
		return
	}

	user := getDiscordUser(i)
	if user == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if user.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user_id", user.ID)
		return
	}

	logger.InfoContext(
		ctx,
		"received new interaction",
		slog.Group("user", "id", user.ID, "username", user.Username),
	)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name
		if commandName != DiscordSlashCommandSetup {
			logger.WarnContext(ctx, "unknown command, ignoring", "command", commandName)
			return
		}
		if err := x.provisioner.handleSetupCommand(ctx, handler); err != nil {
			x.finalizeInteractionError(
				ctx,
				handler,
				err,
				fmt.Sprintf("Command Interaction: %s", commandName),
			)
		}
	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		if customID != createChannelButtonID {
			logger.WarnContext(ctx, "unknown component, ignoring", "custom_id", customID)
			return
		}
		if err := x.provisioner.handleCreateChannelButton(ctx, handler); err != nil {
			x.finalizeInteractionError(
				ctx,
				handler,
				err,
				fmt.Sprintf("Button Interaction: %s", customID),
			)
		}
	default:
		logger.DebugContext(ctx, "ignoring interaction type", "type", i.Type.String())
	}
}

// finalizeInteractionError reports an unexpected handler fault to the
// monitoring webhook and makes a best-effort attempt at a terminal
// reply - but only when none was sent yet; a fault after the terminal
// reply is reported without touching the interaction again. The
// fallback's own failure is only logged.
func (x *Xelenchu) finalizeInteractionError(
	ctx context.Context,
	handler InteractionHandler,
	handlerErr error,
	contextLabel string,
) {
	logger := handler.Logger()
	logger.ErrorContext(ctx, "interaction handler failed", tint.Err(handlerErr))

	x.reporter.Report(ctx, handlerErr, contextLabel)

	errorMessage := x.config.Provision.ErrorMessage

	switch {
	case handler.Reply().terminal():
		// already replied - nothing more we can safely send
	case handler.Reply().deferred():
		if err := editReplyContent(ctx, handler, errorMessage); err != nil {
			logger.ErrorContext(ctx, "error sending fallback edit", tint.Err(err))
		}
	default:
		if err := handler.Respond(
			ctx,
			ephemeralResponse(errorMessage),
		); err != nil {
			logger.ErrorContext(ctx, "error sending fallback reply", tint.Err(err))
		}
	}
}

// RegisterCommands registers the bot's slash commands with discord via
// the bulk overwrite endpoint. Used by the `register` subcommand.
func (x *Xelenchu) RegisterCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	if x.discord.session == nil {
		session, err := x.discord.newSession()
		if err != nil {
			return nil, err
		}
		x.discord.session = session
	}
	return x.discord.registerCommands(options...)
}

func (x *Xelenchu) shutdown(
	runtimeWG *sync.WaitGroup,
	g *errgroup.Group,
) error {
	logger := x.logger
	logger.Info("shutting down", "timeout", x.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(x.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.Info("all handlers finished")
	case <-timer.C:
		logger.Warn("shutdown timeout elapsed, forcing close")
	}

	if err := x.discord.session.Close(); err != nil {
		logger.Error("error closing discord session", tint.Err(err))
		return err
	}
	logger.Info("discord session closed")
	return nil
}
