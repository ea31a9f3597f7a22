package xelenchu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// User-facing replies for the workflow's guard conditions. These are
// expected outcomes, not faults: they terminate the workflow branch with
// a specific ephemeral message and are not reported to the monitoring
// webhook.
const (
	replyServerOnly       = "This command can only be used inside a server."
	replyNoPermission     = "You don't have permission to run this command."
	replySetupAck         = "OK"
	replyGuildNotFound    = "Guild not found."
	replyMemberNotFound   = "Could not resolve your member information."
	replyRoleCreateFailed = "Something went wrong while creating the tracking role."
	replyAlreadyCreated   = "You already have a support channel. Only one per person."
	replyCategoryNotFound = "The configured category could not be found."

	replyChannelCreatedFmt = "Your support channel %s has been created!"
)

// Provisioner drives the channel-provisioning workflow: /setup posts a
// prompt with one button, and the button click creates a private channel
// under the configured category with computed permission overwrites,
// optionally granting a tracking role for duplicate prevention.
type Provisioner struct {
	config  *ProvisionConfig
	session DiscordSessionHandler
	logger  *slog.Logger

	// mu serializes the button-phase sequence. The tracking-role
	// existence check, the duplicate-membership check and the later role
	// grant are all read-then-write spans against remote state: without
	// this lock, two concurrent first-time clicks can both create the
	// role, or both pass the membership check before either grant lands.
	// The bot targets a single guild, so one process-wide mutex is
	// equivalent to a per-guild lock.
	mu sync.Mutex
}

func newProvisioner(
	config *ProvisionConfig,
	session DiscordSessionHandler,
	handler slog.Handler,
) *Provisioner {
	return &Provisioner{
		config:  config,
		session: session,
		logger:  slog.New(handler).With(loggerNameKey, "provisioner"),
	}
}

// buildOverwrites computes the permission overwrites for a new support
// channel: the guild's @everyone role is denied view access, while the
// invoking member and the support role are allowed to view, send, and
// read history. Pure and deterministic; always exactly 3 entries, in
// this order.
func buildOverwrites(
	everyoneID string,
	userID string,
	supportRoleID string,
) []*discordgo.PermissionOverwrite {
	allow := int64(
		discordgo.PermissionViewChannel |
			discordgo.PermissionSendMessages |
			discordgo.PermissionReadMessageHistory,
	)
	return []*discordgo.PermissionOverwrite{
		{
			ID:   everyoneID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: int64(discordgo.PermissionViewChannel),
		},
		{
			ID:    userID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: allow,
		},
		{
			ID:    supportRoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: allow,
		},
	}
}

// channelName derives the support channel's name from the invoking
// user's handle. Fixed policy: configured prefix + sanitized username.
func (p *Provisioner) channelName(username string) string {
	return p.config.ChannelPrefix + sanitizeChannelName(username)
}

// promptMessage builds the public provisioning prompt: the configured
// content plus a single primary button.
func (p *Provisioner) promptMessage() *discordgo.MessageSend {
	button := discordgo.Button{
		Label:    p.config.ButtonLabel,
		Style:    discordgo.PrimaryButton,
		CustomID: createChannelButtonID,
	}
	if p.config.ButtonEmoji != "" {
		button.Emoji = &discordgo.ComponentEmoji{Name: p.config.ButtonEmoji}
	}
	return &discordgo.MessageSend{
		Content: p.config.PromptMessage,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{button},
			},
		},
	}
}

// handleSetupCommand is the command phase of the workflow. Guards are
// checked in order, short-circuiting on the first failure: the command
// must come from inside a guild, and - when a required role is
// configured - the invoking member must hold it. On success it posts the
// public prompt to the invoking channel, then acknowledges the command
// itself with a separate ephemeral reply.
//
// A returned error means a remote operation failed unexpectedly; the
// dispatcher reports it and sends the fallback reply.
func (p *Provisioner) handleSetupCommand(
	ctx context.Context,
	handler InteractionHandler,
) error {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if i.GuildID == "" || i.Member == nil {
		logger.InfoContext(ctx, "setup invoked outside a guild")
		return handler.Respond(ctx, ephemeralResponse(replyServerOnly))
	}

	if p.config.RequiredRoleID != "" &&
		!memberHasRole(i.Member, p.config.RequiredRoleID) {
		logger.InfoContext(
			ctx,
			"setup invoked without required role",
			"required_role_id", p.config.RequiredRoleID,
		)
		return handler.Respond(ctx, ephemeralResponse(replyNoPermission))
	}

	if _, err := p.session.ChannelMessageSendComplex(
		i.ChannelID,
		p.promptMessage(),
	); err != nil {
		return fmt.Errorf("error posting provisioning prompt: %w", err)
	}
	logger.InfoContext(ctx, "posted provisioning prompt", "channel_id", i.ChannelID)

	return handler.Respond(ctx, ephemeralResponse(replySetupAck))
}

// handleCreateChannelButton is the button phase of the workflow. The
// interaction is deferred immediately (channel creation can exceed
// Discord's initial-response deadline), then each step either completes
// or short-circuits to an edited ephemeral failure message.
//
// A returned error means a remote operation failed after the defer; the
// dispatcher reports it and edits the reply to the generic error message.
func (p *Provisioner) handleCreateChannelButton(
	ctx context.Context,
	handler InteractionHandler,
) error {
	if err := handler.Respond(ctx, ephemeralDeferredResponse()); err != nil {
		return fmt.Errorf("error deferring button interaction: %w", err)
	}
	return p.provision(ctx, handler)
}

func (p *Provisioner) provision(
	ctx context.Context,
	handler InteractionHandler,
) error {
	i := handler.GetInteraction()
	logger := handler.Logger()

	p.mu.Lock()
	defer p.mu.Unlock()

	if i.GuildID == "" {
		return editReplyContent(ctx, handler, replyGuildNotFound)
	}
	guild, err := p.session.Guild(i.GuildID)
	if err != nil {
		logger.WarnContext(ctx, "could not resolve guild", tint.Err(err))
		return editReplyContent(ctx, handler, replyGuildNotFound)
	}

	member := i.Member
	if member == nil || member.User == nil {
		return editReplyContent(ctx, handler, replyMemberNotFound)
	}
	user := member.User

	var trackingRole *discordgo.Role
	if p.config.TrackingRole.Enabled {
		trackingRole, err = p.ensureTrackingRole(ctx, guild)
		if err != nil {
			logger.ErrorContext(ctx, "error ensuring tracking role", tint.Err(err))
			return editReplyContent(ctx, handler, replyRoleCreateFailed)
		}

		if memberHasRole(member, trackingRole.ID) {
			logger.InfoContext(
				ctx,
				"member already has a support channel",
				"user_id", user.ID,
			)
			return editReplyContent(ctx, handler, replyAlreadyCreated)
		}
	}

	category, err := p.session.Channel(p.config.CategoryID)
	if err != nil || category.Type != discordgo.ChannelTypeGuildCategory {
		logger.WarnContext(
			ctx,
			"configured category missing or not a category",
			"category_id", p.config.CategoryID,
			tint.Err(err),
		)
		return editReplyContent(ctx, handler, replyCategoryNotFound)
	}

	channel, err := p.session.GuildChannelCreateComplex(
		guild.ID,
		discordgo.GuildChannelCreateData{
			Name:                 p.channelName(user.Username),
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             category.ID,
			PermissionOverwrites: buildOverwrites(guild.ID, user.ID, p.config.SupportRoleID),
		},
	)
	if err != nil {
		return fmt.Errorf("error creating support channel: %w", err)
	}
	logger.InfoContext(
		ctx,
		"created support channel",
		"channel_id", channel.ID,
		"channel_name", channel.Name,
		"user_id", user.ID,
	)

	if trackingRole != nil {
		if err = p.session.GuildMemberRoleAdd(
			guild.ID,
			user.ID,
			trackingRole.ID,
		); err != nil {
			return fmt.Errorf("error granting tracking role: %w", err)
		}
	}

	if err = editReplyContent(
		ctx,
		handler,
		fmt.Sprintf(replyChannelCreatedFmt, channel.Mention()),
	); err != nil {
		return err
	}

	if _, err = p.session.ChannelMessageSend(
		channel.ID,
		fmt.Sprintf("%s %s", user.Mention(), p.config.WelcomeMessage),
	); err != nil {
		return fmt.Errorf("error sending welcome message: %w", err)
	}

	return nil
}

// ensureTrackingRole resolves the tracking role from the guild's live
// role set, creating it when absent. On creation, the in-memory config
// reference is re-pointed at the new ID for the rest of the process
// lifetime; it is not written back to durable config, so the operator is
// told to persist it themselves. Caller must hold p.mu.
func (p *Provisioner) ensureTrackingRole(
	ctx context.Context,
	guild *discordgo.Guild,
) (*discordgo.Role, error) {
	if p.config.TrackingRole.ID != "" {
		for _, role := range guild.Roles {
			if role.ID == p.config.TrackingRole.ID {
				return role, nil
			}
		}
	}

	color := p.config.TrackingRole.Color
	role, err := p.session.GuildRoleCreate(
		guild.ID,
		&discordgo.RoleParams{
			Name:  p.config.TrackingRole.Name,
			Color: &color,
		},
		discordgo.WithAuditLogReason(p.config.TrackingRole.Reason),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating tracking role: %w", err)
	}

	p.config.TrackingRole.ID = role.ID
	p.logger.WarnContext(
		ctx,
		"created tracking role - set provision.tracking_role.id in your env to persist it",
		"role_id", role.ID,
		"role_name", role.Name,
	)
	return role, nil
}
