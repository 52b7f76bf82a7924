package main

import (
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/urfave/cli"
)

const (
	confFlagName  = "conf"
	levelFlagName = "level"
)

func main() {
	grip.EmergencyFatal(buildApp().Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "perf-collector"
	app.Usage = "collect, batch and relay performance timing entries"

	app.Commands = []cli.Command{
		Serve(),
		Replay(),
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  levelFlagName,
			Value: "info",
			Usage: "lowest visible log level: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
		cli.StringFlag{
			Name:  "conf, config, c",
			Usage: "path to the YAML configuration file",
		},
	}

	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String(levelFlagName))
	}

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}
