package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var (
	outpointFlag = cli.StringFlag{
		Name:     "outpoint",
		Usage:    "utxo to register, in the form txid:vout",
		Required: true,
	}
	amountFlag = cli.Uint64Flag{
		Name:     "amount",
		Usage:    "amount of the utxo in satoshis",
		Required: true,
	}
	scriptFlag = cli.StringFlag{
		Name:     "script",
		Usage:    "hex encoded output script of the utxo",
		Required: true,
	}
	scriptTypeFlag = cli.StringFlag{
		Name:  "type",
		Usage: "script type of the utxo, p2wpkh or taproot",
		Value: "taproot",
	}
	pathFlag = cli.StringFlag{
		Name:     "path",
		Usage:    "derivation path of the key owning the utxo",
		Required: true,
	}
)

var registerCommand = cli.Command{
	Name:   "register",
	Usage:  "Register a utxo in the best round accepting inputs",
	Action: registerAction,
	Flags: []cli.Flag{
		&outpointFlag, &amountFlag, &scriptFlag, &scriptTypeFlag, &pathFlag,
	},
}

var disableCommand = cli.Command{
	Name:   "disable",
	Usage:  "Stop participating and unregister every pending input",
	Action: disableAction,
}

var enableCommand = cli.Command{
	Name:   "enable",
	Usage:  "Resume participating in rounds",
	Action: enableAction,
}

func registerAction(ctx *cli.Context) error {
	txid, vout, err := parseOutpoint(ctx.String("outpoint"))
	if err != nil {
		return err
	}
	if ctx.Uint64("amount") <= 0 {
		return fmt.Errorf("missing amount flag (--amount)")
	}

	body := map[string]interface{}{
		"txid":       txid,
		"vout":       vout,
		"amount":     ctx.Uint64("amount"),
		"script":     ctx.String("script"),
		"scriptType": ctx.String("type"),
		"path":       ctx.String("path"),
	}
	resp, err := newClient(ctx).post(ctx.Context, "/v1/inputs", body)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func disableAction(ctx *cli.Context) error {
	resp, err := newClient(ctx).post(ctx.Context, "/v1/participation/disable", nil)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func enableAction(ctx *cli.Context) error {
	resp, err := newClient(ctx).post(ctx.Context, "/v1/participation/enable", nil)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
