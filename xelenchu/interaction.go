package xelenchu

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// ErrAlreadyAcknowledged is returned when a handler attempts a second
	// initial response for the same interaction.
	ErrAlreadyAcknowledged = errors.New("interaction already acknowledged")

	// ErrAlreadyReplied is returned when a handler attempts a second
	// terminal reply for the same interaction.
	ErrAlreadyReplied = errors.New("interaction already has a terminal reply")

	// ErrNotDeferred is returned when a handler attempts to edit a reply
	// that was never deferred or sent.
	ErrNotDeferred = errors.New("interaction has no response to edit")
)

// replyState tracks where an interaction is in its reply lifecycle.
// Every interaction must receive exactly one terminal reply: either a
// direct response, or a deferred response followed by one edit.
type replyState int32

const (
	replyStateNone replyState = iota
	replyStateDeferred
	replyStateReplied
)

// replyTracker guards the single-terminal-reply invariant for one
// interaction. Transitions only move forward: none -> deferred -> replied,
// or none -> replied.
type replyTracker struct {
	state atomic.Int32
}

func (r *replyTracker) markDeferred() bool {
	return r.state.CompareAndSwap(
		int32(replyStateNone),
		int32(replyStateDeferred),
	)
}

func (r *replyTracker) markReplied() bool {
	if r.state.CompareAndSwap(int32(replyStateNone), int32(replyStateReplied)) {
		return true
	}
	return r.state.CompareAndSwap(
		int32(replyStateDeferred),
		int32(replyStateReplied),
	)
}

// deferred reports whether the interaction is acknowledged but still
// awaiting its terminal edit.
func (r *replyTracker) deferred() bool {
	return replyState(r.state.Load()) == replyStateDeferred
}

// terminal reports whether the interaction already received its one
// terminal reply.
func (r *replyTracker) terminal() bool {
	return replyState(r.state.Load()) == replyStateReplied
}

func (r *replyTracker) acknowledged() bool {
	return replyState(r.state.Load()) != replyStateNone
}

// InteractionHandler abstracts responding to a single Discord interaction,
// independent of how it was received. One handler is created per
// interaction; implementations enforce the single-terminal-reply
// invariant via a replyTracker.
type InteractionHandler interface {
	// Respond sends the initial response to the interaction: either a
	// message (terminal) or a deferral (to be completed by Edit).
	Respond(
		ctx context.Context,
		response *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// Edit replaces the content of a previously deferred response. This is
	// the terminal reply for the defer-then-edit path.
	Edit(
		ctx context.Context,
		edit *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// InteractionReceiveMethod returns the method used to receive the
	// interaction (webhook or gateway).
	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger

	// Reply returns the handler's reply-state tracker.
	Reply() *replyTracker
}

// GatewayHandler implements [InteractionHandler] when receiving
// interactions via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	reply       *replyTracker
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

func (w GatewayHandler) Reply() *replyTracker {
	return w.reply
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	if w.reply.acknowledged() {
		return ErrAlreadyAcknowledged
	}
	err := w.session.InteractionRespond(w.interaction.Interaction, response, options...)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
		return err
	}
	if response.Type == discordgo.InteractionResponseDeferredChannelMessageWithSource {
		w.reply.markDeferred()
	} else {
		w.reply.markReplied()
	}
	w.logger.InfoContext(ctx, "responded to interaction")
	return nil
}

func (w GatewayHandler) Edit(
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
	w.logger.InfoContext(ctx, "edited interaction")
	return msg, nil
}

// editReplyContent is a convenience for the common "replace the deferred
// reply with this text" path.
func editReplyContent(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) error {
	_, err := handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
	return err
}
