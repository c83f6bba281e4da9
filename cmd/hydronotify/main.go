package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

// Globals are shared by every subcommand.
type Globals struct {
	Config string `help:"Config file (YAML or JSON)." short:"c" type:"path" default:"./config.yaml" env:"HYDRONOTIFY_CONFIG"`
	Env    string `help:"Dotenv file loaded before the config; missing is fine." type:"path" default:".env"`
}

var CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve       ServeCmd       `cmd:"" help:"Run the notification pipeline." default:"1"`
	Send        SendCmd        `cmd:"" help:"Compose and send one notification to a stored user."`
	Prefs       PrefsCmd       `cmd:"" help:"Show or change a user's notification preferences."`
	History     HistoryCmd     `cmd:"" help:"Show or clear a user's message history."`
	CheckConfig CheckConfigCmd `cmd:"" name:"check-config" help:"Validate the config and report enabled channels."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("hydronotify"),
		kong.Description("Hydration milestone notifications over SMS, WhatsApp and email"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&CLI.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
