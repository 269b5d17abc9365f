package main

import (
	"os"

	"github.com/ensclub/ens-verify/config"
	log "github.com/inconshreveable/log15"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	app := cli.NewApp()
	app.Name = "github.com/ensclub/ens-verify"
	app.Usage = "grant a Discord role to holders of ENS subdomains"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "Config file",
			Value: "config.json",
		},
	}
	app.Action = func(context *cli.Context) error {
		appConfig := config.LoadConfig(context.String("config"))
		startServer(appConfig)
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "register-commands",
			Usage: "Register the /verify slash command in the configured guild",
			Action: func(context *cli.Context) error {
				appConfig := config.LoadConfig(context.GlobalString("config"))
				return registerCommands(appConfig)
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("Exited with error", "err", err)
		os.Exit(1)
	}
}
