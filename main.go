package main

import "github.com/rassi0429/xelenchu-discord-bot/cmd"

func main() {
	cmd.Execute()
}
