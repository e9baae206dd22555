package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli"

	"github.com/creditmesh/meshnode/meshrpc"
)

// rpcCall opens a short-lived websocket connection to meshd's rpcserver,
// sends a single request, and waits for the response carrying the same
// ID, skipping over any push-only mutation frames (meshd streams those
// continuously once connected). Mirrors getClientConn's "one connection
// per invocation" CLI shape, swapped from grpc.Dial to a websocket dial.
func rpcCall(ctx *cli.Context, req meshrpc.AppRequest) (*meshrpc.AppResponse, error) {
	u := url.URL{Scheme: "ws", Host: ctx.GlobalString("rpcserver"), Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("meshctl: dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("meshctl: send request: %w", err)
	}

	for {
		var resp meshrpc.AppResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("meshctl: read response: %w", err)
		}
		if resp.PushOnly {
			continue
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != "" {
			return &resp, fmt.Errorf("meshd: %s", resp.Error)
		}
		return &resp, nil
	}
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(b))
}
