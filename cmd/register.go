package cmd

import (
	"fmt"
	"log"

	"github.com/rassi0429/xelenchu-discord-bot/xelenchu"
	"github.com/spf13/cobra"
)

// registerCmd overwrites the bot's slash commands for the configured
// guild. Run once after deploying, or whenever the command surface
// changes.
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the bot's slash commands with discord",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		bot, err := xelenchu.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		created, err := bot.RegisterCommands()
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}
		for _, c := range created {
			fmt.Printf("registered command: /%s (%s)\n", c.Name, c.ID)
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCmd)
}
