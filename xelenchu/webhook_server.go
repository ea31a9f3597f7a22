package xelenchu

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const apiDiscordInteractions = "/discord/interactions"

type httpError struct {
	Error string `json:"error"`
}

// WebhookServer receives Discord interactions over HTTP POST, as an
// alternative to the websocket gateway. Requests are verified against
// the application's ed25519 public key before dispatch.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint
type WebhookServer struct {
	config     WebhookServerConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
}

// newWebhookServer creates and returns a new [WebhookServer], and/or
// any errors that occurred during creation.
func newWebhookServer(
	x *Xelenchu,
	config WebhookServerConfig,
) (*WebhookServer, error) {
	logger := slog.New(
		newLogHandler(defaultLogWriter, config.LogLevel),
	).With(loggerNameKey, "discord_webhook")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	ws := &WebhookServer{config: config, engine: r, logger: logger}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, e := tlsConfig(config.SSL)
		if e != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", e)
		}
		httpServer.TLSConfig = tlsCfg
	}
	ws.httpServer = httpServer

	r.Use(
		gin.Recovery(),
		ginLoggingMiddleware(logger),
		discordRequestAuthenticationMiddleware(x.discord.publicKey, logger),
	)

	r.POST(
		apiDiscordInteractions,
		func(c *gin.Context) {
			x.webhookInteractionHandler(c)
		},
	)
	return ws, nil
}

// Serve runs the webhook server until the given context is canceled.
func (w *WebhookServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		if err := w.httpServer.Shutdown(shutdownCtx); err != nil {
			w.logger.Error("error shutting down webhook server", tint.Err(err))
		}
	}()

	if w.httpServer.TLSConfig == nil {
		w.logger.Warn("starting webhook server without TLS")
		return w.httpServer.ListenAndServe()
	}
	return w.httpServer.ListenAndServeTLS("", "")
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote_ip", c.RemoteIP(),
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
	}
}

// WebhookHandler implements [InteractionHandler] for interactions
// received via webhook: the initial response is written as the HTTP
// response body, while edits go through the REST API.
type WebhookHandler struct {
	ginContext  *gin.Context
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	reply       *replyTracker
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

func (w WebhookHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w WebhookHandler) Logger() *slog.Logger {
	return w.logger
}

func (w WebhookHandler) Reply() *replyTracker {
	return w.reply
}

func (w WebhookHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	if w.reply.acknowledged() {
		return ErrAlreadyAcknowledged
	}
	w.ginContext.JSON(http.StatusOK, response)
	if response.Type == discordgo.InteractionResponseDeferredChannelMessageWithSource {
		w.reply.markDeferred()
	} else {
		w.reply.markReplied()
	}
	return nil
}

func (w WebhookHandler) Edit(
	ctx context.Context,
	edit *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if w.reply.terminal() {
		return nil, ErrAlreadyReplied
	}
	if !w.reply.deferred() {
		return nil, ErrNotDeferred
	}
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		edit,
		options...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
		return msg, err
	}
	w.reply.markReplied()
	return msg, nil
}

// webhookReceiveHandler returns a [gin.HandlerFunc] for handling Discord
// webhook interactions
func webhookReceiveHandler(ctx context.Context, x *Xelenchu) func(c *gin.Context) {
	return func(c *gin.Context) {
		logger := x.logger.With(
			slog.Group(
				"webhook_request",
				"remote_addr", c.Request.RemoteAddr,
				"remote_ip", c.RemoteIP(),
			),
		)

		runCtx := WithLogger(ctx, logger)

		defer func() {
			_ = c.Request.Body.Close()
		}()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(runCtx, "error getting raw data", tint.Err(err))
			c.JSON(http.StatusInternalServerError, httpError{Error: "error getting raw data"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(runCtx, "error unmarshalling body", tint.Err(e))
			c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}
		i := &interaction
		handler := WebhookHandler{
			ginContext:  c,
			session:     x.discord.session,
			interaction: i,
			reply:       &replyTracker{},
			logger: logger.With(
				slog.Group("interaction", interactionLogAttrs(*i)...),
			),
		}
		x.handleInteraction(runCtx, handler)
	}
}

// discordRequestAuthenticationMiddleware is a middleware for verifying
// Discord webhook requests.
func discordRequestAuthenticationMiddleware(
	publicKey ed25519.PublicKey,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !verifyRequest(c.Request, publicKey) {
			logger.WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "invalid signature"},
			)
			return
		}
		c.Next()
	}
}

// verifyRequest verifies the authenticity of a Discord webhook request.
//
// This function checks the request's signature and timestamp headers to
// validate the request. It reads the request body and verifies the
// signature using the provided public key.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	var msg bytes.Buffer

	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	msg.WriteString(timestamp)

	defer func() {
		_ = r.Body.Close()
	}()
	var body bytes.Buffer

	defer func() {
		r.Body = io.NopCloser(&body)
	}()

	_, err = io.Copy(&msg, io.TeeReader(r.Body, &body))
	if err != nil {
		return false
	}

	return ed25519.Verify(key, msg.Bytes(), sig)
}
