package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[meshctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "meshctl"
	app.Usage = "control a running meshd node"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:10258",
			Usage: "host:port of the meshd rpc server",
		},
	}
	app.Commands = []cli.Command{
		AddFriendCommand,
		RemoveFriendCommand,
		OpenCurrencyCommand,
		SendPaymentCommand,
		CreateInvoiceCommand,
		ReportCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
