package xelenchu

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateDiscordKey creates an ed25519 key pair for signing webhook
// requests the way discord does.
func generateDiscordKey(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pubkey, privkey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pubkey, privkey
}

// signedInteractionRequest builds a POST request with valid
// X-Signature-Ed25519 and X-Signature-Timestamp headers for the body.
func signedInteractionRequest(
	t testing.TB,
	privkey ed25519.PrivateKey,
	body string,
) *http.Request {
	t.Helper()
	timestamp := "1700000000"
	sig := ed25519.Sign(privkey, []byte(timestamp+body))

	req := httptest.NewRequest(
		http.MethodPost,
		apiDiscordInteractions,
		strings.NewReader(body),
	)
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestVerifyRequest(t *testing.T) {
	t.Parallel()
	pubkey, privkey := generateDiscordKey(t)
	body := `{"type":1,"id":"i_verify"}`

	req := signedInteractionRequest(t, privkey, body)
	assert.True(t, verifyRequest(req, pubkey))

	// the body must be readable again after verification
	restored, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(restored))
}

func TestVerifyRequestRejects(t *testing.T) {
	t.Parallel()
	pubkey, privkey := generateDiscordKey(t)
	body := `{"type":1}`

	t.Run(
		"missing signature", func(t *testing.T) {
			t.Parallel()
			req := signedInteractionRequest(t, privkey, body)
			req.Header.Del("X-Signature-Ed25519")
			assert.False(t, verifyRequest(req, pubkey))
		},
	)

	t.Run(
		"missing timestamp", func(t *testing.T) {
			t.Parallel()
			req := signedInteractionRequest(t, privkey, body)
			req.Header.Del("X-Signature-Timestamp")
			assert.False(t, verifyRequest(req, pubkey))
		},
	)

	t.Run(
		"signature not hex", func(t *testing.T) {
			t.Parallel()
			req := signedInteractionRequest(t, privkey, body)
			req.Header.Set("X-Signature-Ed25519", "not-hex!")
			assert.False(t, verifyRequest(req, pubkey))
		},
	)

	t.Run(
		"signature wrong size", func(t *testing.T) {
			t.Parallel()
			req := signedInteractionRequest(t, privkey, body)
			req.Header.Set("X-Signature-Ed25519", hex.EncodeToString([]byte("short")))
			assert.False(t, verifyRequest(req, pubkey))
		},
	)

	t.Run(
		"tampered body", func(t *testing.T) {
			t.Parallel()
			req := signedInteractionRequest(t, privkey, body)
			req.Body = io.NopCloser(strings.NewReader(`{"type":2}`))
			assert.False(t, verifyRequest(req, pubkey))
		},
	)

	t.Run(
		"wrong key", func(t *testing.T) {
			t.Parallel()
			otherKey, _ := generateDiscordKey(t)
			req := signedInteractionRequest(t, privkey, body)
			assert.False(t, verifyRequest(req, otherKey))
		},
	)
}

func TestDiscordRequestAuthenticationMiddleware(t *testing.T) {
	t.Parallel()
	pubkey, privkey := generateDiscordKey(t)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		discordRequestAuthenticationMiddleware(
			pubkey,
			slog.New(testLogHandler(t)),
		),
	)
	engine.POST(
		apiDiscordInteractions, func(c *gin.Context) {
			c.Status(http.StatusOK)
		},
	)

	w := httptest.NewRecorder()
	engine.ServeHTTP(
		w,
		signedInteractionRequest(t, privkey, `{"type":1}`),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	unsigned := httptest.NewRequest(
		http.MethodPost,
		apiDiscordInteractions,
		strings.NewReader(`{"type":1}`),
	)
	engine.ServeHTTP(w, unsigned)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid signature")
}

func TestWebhookHandlerRespond(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handler := WebhookHandler{
		ginContext:  c,
		session:     session,
		interaction: newButtonInteraction(t, newGuildMember(t)),
		reply:       &replyTracker{},
		logger:      slog.New(testLogHandler(t)),
	}

	ctx := context.Background()
	require.NoError(t, handler.Respond(ctx, ephemeralResponse("howdy")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "howdy")
	assert.True(t, handler.Reply().terminal())

	err := handler.Respond(ctx, ephemeralResponse("again"))
	require.ErrorIs(t, err, ErrAlreadyAcknowledged)
}

func TestWebhookHandlerDeferThenEdit(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handler := WebhookHandler{
		ginContext:  c,
		session:     session,
		interaction: newButtonInteraction(t, newGuildMember(t)),
		reply:       &replyTracker{},
		logger:      slog.New(testLogHandler(t)),
	}

	ctx := context.Background()
	require.NoError(t, handler.Respond(ctx, ephemeralDeferredResponse()))
	assert.True(t, handler.Reply().deferred())

	require.NoError(t, editReplyContent(ctx, handler, "all wrapped up"))
	assert.True(t, handler.Reply().terminal())
	require.Len(t, session.edits, 1)

	err := editReplyContent(ctx, handler, "again")
	require.ErrorIs(t, err, ErrAlreadyReplied)
}

// A discord endpoint verification ping, end to end through the webhook
// server's engine: authenticated, parsed, dispatched, ponged.
func TestWebhookServerPing(t *testing.T) {
	t.Parallel()
	pubkey, privkey := generateDiscordKey(t)
	session := newMockDiscordSession(t)

	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "app-1"
	cfg.Discord.GuildID = testGuildID
	cfg.Discord.WebhookServer.Enabled = true
	cfg.Discord.WebhookServer.PublicKey = hex.EncodeToString(pubkey)
	cfg.Provision.CategoryID = testCategoryID
	cfg.Provision.SupportRoleID = testSupportRoleID

	bot, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, bot.webhookServer)

	bot.discord.session = session
	bot.provisioner = newProvisioner(cfg.Provision, session, testLogHandler(t))
	bot.webhookInteractionHandler = webhookReceiveHandler(context.Background(), bot)

	w := httptest.NewRecorder()
	bot.webhookServer.engine.ServeHTTP(
		w,
		signedInteractionRequest(t, privkey, `{"type":1,"id":"i_ping"}`),
	)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp discordgo.InteractionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, discordgo.InteractionResponsePong, resp.Type)
}
