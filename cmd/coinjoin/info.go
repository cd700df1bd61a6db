package main

import (
	"github.com/urfave/cli/v2"
)

var roundsCommand = cli.Command{
	Name:   "rounds",
	Usage:  "List the rounds published by the coordinator",
	Action: roundsAction,
}

var alicesCommand = cli.Command{
	Name:   "alices",
	Usage:  "List the inputs currently participating in rounds",
	Action: alicesAction,
}

var addressesCommand = cli.Command{
	Name:   "addresses",
	Usage:  "List the change addresses reserved for coinjoin outputs",
	Action: addressesAction,
}

func roundsAction(ctx *cli.Context) error {
	resp, err := newClient(ctx).get(ctx.Context, "/v1/rounds")
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func alicesAction(ctx *cli.Context) error {
	resp, err := newClient(ctx).get(ctx.Context, "/v1/alices")
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func addressesAction(ctx *cli.Context) error {
	resp, err := newClient(ctx).get(ctx.Context, "/v1/addresses")
	if err != nil {
		return err
	}
	return printJSON(resp)
}
