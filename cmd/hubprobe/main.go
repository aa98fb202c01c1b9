// hubprobe connects to a session hub room and streams collaboration events
// to the console. Usage:
//
//	go run ./cmd/hubprobe --url ws://localhost:8080/ws/session --room demo --user alice
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablekit/schemahub/internal/collab"
	"github.com/tablekit/schemahub/internal/connection"
	"github.com/tablekit/schemahub/internal/protocol"
)

func main() {
	baseURL := flag.String("url", "ws://localhost:8080/ws/session", "session endpoint base URL")
	roomID := flag.String("room", "probe", "room to join")
	userID := flag.String("user", "probe-user", "user id")
	username := flag.String("name", "", "display name (defaults to user id)")
	cursor := flag.Bool("cursor", false, "send a synthetic cursor wiggle every second")
	verbose := flag.Bool("verbose", false, "print raw event payloads")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *username == "" {
		*username = *userID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := collab.NewClient(collab.DefaultConfig(*baseURL), nil, logger)
	defer client.Close()

	if err := client.Initialize(protocol.UserInfo{
		UserID:   *userID,
		Username: *username,
	}, *roomID); err != nil {
		logger.Error("initialize failed", "error", err)
		os.Exit(1)
	}

	subs := []*collab.Subscription{
		client.On(collab.EventConnected, func(ev collab.Event) {
			fmt.Printf("[CONNECTED] user=%s\n", ev.User.UserID)
		}),
		client.On(collab.EventDisconnected, func(ev collab.Event) {
			fmt.Printf("[DISCONNECTED] err=%v\n", ev.Err)
		}),
		client.On(collab.EventCurrentUsers, func(ev collab.Event) {
			fmt.Printf("[CURRENT USERS] count=%d\n", len(ev.Users))
			for _, u := range ev.Users {
				fmt.Printf("  - %s (%s)\n", u.UserID, u.Username)
			}
		}),
		client.On(collab.EventUserJoined, func(ev collab.Event) {
			fmt.Printf("[JOINED] user=%s name=%s\n", ev.User.UserID, ev.User.Username)
		}),
		client.On(collab.EventUserLeft, func(ev collab.Event) {
			fmt.Printf("[LEFT] user=%s\n", ev.UserID)
		}),
		client.On(collab.EventCursorUpdate, func(ev collab.Event) {
			if *verbose {
				fmt.Printf("[CURSOR] user=%s pos=%s\n", ev.UserID, ev.Data)
			}
		}),
		client.On(collab.EventSchemaChange, func(ev collab.Event) {
			fmt.Printf("[SCHEMA CHANGE] user=%s type=%s\n", ev.UserID, ev.ChangeType)
			if *verbose {
				fmt.Printf("  data=%s\n", ev.Data)
			}
		}),
		client.On(collab.EventSchemaOperation, func(ev collab.Event) {
			fmt.Printf("[SCHEMA OP] user=%s op=%s\n", ev.UserID, ev.Operation)
		}),
		client.On(collab.EventSchemaData, func(ev collab.Event) {
			fmt.Printf("[SCHEMA DATA] changes=%d last_by=%s\n", len(ev.Changes), ev.LastUpdatedBy)
		}),
		client.On(collab.EventError, func(ev collab.Event) {
			fmt.Printf("[ERROR] %v\n", ev.Err)
		}),
	}
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
	}()

	if err := connectWithRetry(ctx, client, logger); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	// Ask for the room's current state once the join settles.
	time.AfterFunc(time.Second, func() {
		if err := client.RequestSchemaData(); err != nil {
			logger.Warn("schema data request failed", "error", err)
		}
	})

	if *cursor {
		go wiggle(ctx, client, logger)
	}

	logger.Info("probe running - press Ctrl+C to stop")
	<-ctx.Done()

	client.Disconnect()
	logger.Info("probe stopped")
}

// connectWithRetry honors the client's connect throttle by waiting out a
// ThrottledError instead of failing.
func connectWithRetry(ctx context.Context, client *collab.Client, logger *slog.Logger) error {
	for {
		err := client.Connect(ctx)
		var throttled *connection.ThrottledError
		if errors.As(err, &throttled) {
			logger.Info("connect throttled", "wait", throttled.Wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(throttled.Wait):
				continue
			}
		}
		return err
	}
}

// wiggle sends a synthetic moving cursor, exercising the client-side
// throttle.
func wiggle(ctx context.Context, client *collab.Client, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	x := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x = (x + 10) % 800
			pos, _ := json.Marshal(map[string]int{"x": x, "y": 120})
			if err := client.SendCursorUpdate(pos); err != nil {
				logger.Warn("cursor send failed", "error", err)
			}
		}
	}
}
