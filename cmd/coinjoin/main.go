package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	URL_ENVVAR = "COINJOIN_URL"
	defaultURL = "http://localhost:7171"
)

var version = "alpha"

var urlFlag = cli.StringFlag{
	Name:    "url",
	Usage:   "base url of the coinjoind control API",
	Value:   defaultURL,
	EnvVars: []string{URL_ENVVAR},
}

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = "coinjoin CLI"
	app.Usage = "Command line interface for the coinjoin participation daemon"
	app.Flags = []cli.Flag{&urlFlag}
	app.Commands = append(
		app.Commands,
		&roundsCommand,
		&alicesCommand,
		&addressesCommand,
		&registerCommand,
		&disableCommand,
		&enableCommand,
	)

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}
