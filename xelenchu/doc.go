// Package xelenchu implements a Discord bot that provisions per-user
// private support channels in a community server on demand.
//
// The /setup slash command posts a public prompt containing a single
// button; clicking the button creates a private text channel under a
// configured category, visible only to the invoking member and a
// configured support role. An optional tracking role marks members who
// already have a channel, limiting creation to one per person.
//
// Key components of the package include:
//
//   - Xelenchu: The main struct that wires the bot together and
//     dispatches inbound interactions.
//   - Discord: Handles the discord session, gateway lifecycle and slash
//     command registration.
//   - Provisioner: Drives the channel-provisioning workflow, including
//     permission overwrite computation and tracking-role management.
//   - WebhookReporter: Delivers best-effort error reports to an external
//     monitoring webhook.
//   - WebhookServer: Optionally receives interactions over HTTP POST
//     with ed25519 request verification, instead of the gateway.
//
// The bot keeps no local state: channels, roles and role membership all
// live on Discord, and everything is re-derived from the platform's
// live state on each interaction.
package xelenchu
