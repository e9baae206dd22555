package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/creditmesh/meshnode/meshrpc"
	"github.com/creditmesh/meshnode/meshtypes"
)

func parsePubkey(hexStr string) (meshtypes.PublicKey, error) {
	var pk meshtypes.PublicKey
	if err := pk.UnmarshalText([]byte(hexStr)); err != nil {
		return pk, err
	}
	return pk, nil
}

func parseAmount(s string) (meshtypes.Uint128, error) {
	var u meshtypes.Uint128
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return u, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return u, nil
}

var AddFriendCommand = cli.Command{
	Name:      "addfriend",
	Usage:     "open a token channel with a new friend",
	ArgsUsage: "pubkey",
	Action:    addFriendCommand,
}

func addFriendCommand(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowCommandHelp(ctx, "addfriend")
		return nil
	}
	pk, err := parsePubkey(ctx.Args().First())
	if err != nil {
		return err
	}
	resp, err := rpcCall(ctx, meshrpc.AppRequest{ID: 1, Kind: meshrpc.ReqAddFriend, Friend: pk})
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

var RemoveFriendCommand = cli.Command{
	Name:      "removefriend",
	Usage:     "close the token channel with a friend",
	ArgsUsage: "pubkey",
	Action:    removeFriendCommand,
}

func removeFriendCommand(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowCommandHelp(ctx, "removefriend")
		return nil
	}
	pk, err := parsePubkey(ctx.Args().First())
	if err != nil {
		return err
	}
	resp, err := rpcCall(ctx, meshrpc.AppRequest{ID: 1, Kind: meshrpc.ReqRemoveFriend, Friend: pk})
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

var OpenCurrencyCommand = cli.Command{
	Name:      "opencurrency",
	Usage:     "open a currency on an existing friend's channel",
	ArgsUsage: "pubkey currency",
	Action:    openCurrencyCommand,
}

func openCurrencyCommand(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		cli.ShowCommandHelp(ctx, "opencurrency")
		return nil
	}
	pk, err := parsePubkey(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	resp, err := rpcCall(ctx, meshrpc.AppRequest{
		ID:       1,
		Kind:     meshrpc.ReqOpenCurrency,
		Friend:   pk,
		Currency: meshtypes.Currency(ctx.Args().Get(1)),
	})
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

var SendPaymentCommand = cli.Command{
	Name:      "sendpayment",
	Usage:     "pay another node over the credit network",
	ArgsUsage: "dest currency amount",
	Action:    sendPaymentCommand,
}

func sendPaymentCommand(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		cli.ShowCommandHelp(ctx, "sendpayment")
		return nil
	}
	dest, err := parsePubkey(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	amount, err := parseAmount(ctx.Args().Get(2))
	if err != nil {
		return err
	}
	resp, err := rpcCall(ctx, meshrpc.AppRequest{
		ID:       1,
		Kind:     meshrpc.ReqSendPayment,
		Dest:     dest,
		Currency: meshtypes.Currency(ctx.Args().Get(1)),
		Amount:   amount,
	})
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

var CreateInvoiceCommand = cli.Command{
	Name:      "createinvoice",
	Usage:     "open an invoice to receive credits",
	ArgsUsage: "currency amount",
	Action:    createInvoiceCommand,
}

func createInvoiceCommand(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		cli.ShowCommandHelp(ctx, "createinvoice")
		return nil
	}
	amount, err := parseAmount(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	resp, err := rpcCall(ctx, meshrpc.AppRequest{
		ID:       1,
		Kind:     meshrpc.ReqCreateInvoice,
		Currency: meshtypes.Currency(ctx.Args().Get(0)),
		Amount:   amount,
	})
	if err != nil {
		return err
	}
	fmt.Println(resp.InvoiceID.String())
	return nil
}

var ReportCommand = cli.Command{
	Name:   "report",
	Usage:  "print the current friends and balances snapshot",
	Action: reportCommand,
}

func reportCommand(ctx *cli.Context) error {
	resp, err := rpcCall(ctx, meshrpc.AppRequest{ID: 1, Kind: meshrpc.ReqGetReport})
	if err != nil {
		return err
	}
	printJSON(resp.Report)
	return nil
}
