// ladder-client taps a running ladderd's WebSocket market-data stream and
// prints events to stdout. Mostly a smoke-test tool.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type subscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://localhost:8081/ws", "ladderd WebSocket URL")
		channels = flag.String("channels", "trades,best_prices,depth", "comma-separated channels")
		timeout  = flag.Duration("timeout", 10*time.Second, "dial timeout")
	)
	flag.Parse()

	dialer := websocket.Dialer{HandshakeTimeout: *timeout}
	conn, _, err := dialer.Dial(*wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *wsURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	req := subscribeRequest{Type: "subscribe", Channels: strings.Split(*channels, ",")}
	if err := conn.WriteJSON(req); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
				return
			}
			fmt.Printf("[%s] %s %s\n", time.Unix(0, msg.Timestamp).Format(time.StampMicro),
				msg.Channel, string(msg.Data))
		}
	}()

	select {
	case <-interrupt:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}
