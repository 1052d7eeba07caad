// hubtest connects to a running dashhub, subscribes to channels and prints
// every frame it receives.
// Usage: go run ./cmd/hubtest --url ws://localhost:8000/ws --sub ticker:binance:BTC/USDT,kline:binance:ETH/USDT:1m
//
// Channel specs:
//
//	ticker:<exchange>:<symbol>
//	orderbook:<exchange>:<symbol>
//	kline:<exchange>:<symbol>:<timeframe>
//	signal:<strategy>[:<symbol>]
//	order_status:<user>[:<exchange>]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/cryptodash/internal/connection"
	"github.com/rickgao/cryptodash/internal/model"
	"github.com/rickgao/cryptodash/internal/session"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "hub websocket URL")
	subs := flag.String("sub", "ticker:binance:BTC/USDT", "comma-separated channels")
	duration := flag.Duration("duration", 0, "stop after this long (0 = until Ctrl+C)")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	var requests []session.Request
	for _, ch := range strings.Split(*subs, ",") {
		req, err := parseChannel(strings.TrimSpace(ch))
		if err != nil {
			logger.Error("bad channel", "channel", ch, "error", err)
			os.Exit(1)
		}
		requests = append(requests, req)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	cfg := connection.DefaultClientConfig()
	cfg.URL = *url
	client := connection.NewClient(cfg, logger)

	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	for i, req := range requests {
		req.ID = fmt.Sprintf("sub-%d", i+1)
		data, _ := json.Marshal(req)
		if err := client.Send(data); err != nil {
			logger.Error("failed to subscribe", "error", err)
			os.Exit(1)
		}
	}

	counts := make(map[string]int)
	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	logger.Info("streaming started - press Ctrl+C to stop", "channels", len(requests))

	for {
		select {
		case <-ctx.Done():
			logout, _ := json.Marshal(session.Request{Action: session.ActionLogout})
			client.Send(logout)
			logger.Info("shutdown complete", "frames", counts)
			return

		case err := <-client.Errors():
			logger.Error("connection error", "error", err)
			return

		case <-statsTicker.C:
			logger.Info("stats", "frames", counts)

		case msg := <-client.Frames():
			printFrame(msg, *verbose, counts)
		}
	}
}

// frame is the union of acks and event envelopes.
type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	ID      string          `json:"id"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
	Ts      int64           `json:"ts"`
}

func printFrame(msg connection.Frame, verbose bool, counts map[string]int) {
	var f frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		fmt.Printf("[INVALID] %s\n", msg.Data)
		return
	}
	counts[f.Type]++

	if verbose {
		fmt.Printf("[%s] %s\n", strings.ToUpper(f.Type), msg.Data)
		return
	}

	switch f.Type {
	case model.EnvelopeEvent, model.EnvelopeStale:
		lag := msg.ReceivedAt.Sub(time.UnixMilli(f.Ts)).Round(time.Millisecond)
		fmt.Printf("[%s] %s lag=%s %s\n", strings.ToUpper(f.Type), f.Channel, lag, f.Payload)
	case session.AckError:
		fmt.Printf("[ERROR] %s %s: %s\n", f.ID, f.Channel, f.Error)
	default:
		fmt.Printf("[%s] %s %s\n", strings.ToUpper(f.Type), f.ID, f.Channel)
	}
}

// parseChannel converts a channel into a subscribe request.
func parseChannel(ch string) (session.Request, error) {
	parts := strings.Split(ch, ":")
	req := session.Request{Action: session.ActionSubscribe, ChannelType: model.ChannelType(parts[0])}

	arg := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	switch req.ChannelType {
	case model.ChannelTicker, model.ChannelOrderBook:
		req.Exchange, req.Symbol = arg(1), arg(2)
	case model.ChannelKline:
		req.Exchange, req.Symbol, req.Timeframe = arg(1), arg(2), arg(3)
	case model.ChannelSignal:
		req.StrategyID, req.Symbol = arg(1), arg(2)
	case model.ChannelOrderStatus:
		req.UserID, req.Exchange = arg(1), arg(2)
	default:
		return req, fmt.Errorf("%w: unknown channel type %q", model.ErrInvalidChannel, parts[0])
	}

	if err := req.Key().Normalize().Validate(); err != nil {
		return req, err
	}
	return req, nil
}
