package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-camwatch/internal/httpc"
)

// runStatus prints the daemon's status document
func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "camwatch API address")
	fs.Parse(args)

	var status map[string]any
	if err := httpc.GetJSON(ctx, strings.TrimRight(*addr, "/")+"/api/status", &status); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// runTail prints change and stall events as they arrive
func runTail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	addr := fs.String("addr", "ws://localhost:8080", "camwatch websocket address")
	fs.Parse(args)

	u, err := eventsURL(*addr)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()
	fmt.Fprintf(os.Stderr, "📡 Connected to %s\n", u)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Println(string(msg))
	}
}

// eventsURL accepts host:port, http(s):// or ws(s):// and returns the
// /ws/events URL.
func eventsURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/events"
	return u.String(), nil
}
