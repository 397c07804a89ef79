// Package main provides a session administration CLI against the shared
// session store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/tunejam/tunejam/internal/infra/config"
	"github.com/tunejam/tunejam/internal/infra/logger"
	"github.com/tunejam/tunejam/internal/store"
	redisstore "github.com/tunejam/tunejam/internal/store/redis"
)

var (
	app        = kingpin.New("sessionctl", "tunejam session administration tool")
	configPath = app.Flag("config", "Path to config file").Default("config/client.yaml").String()

	// get command
	getCmd       = app.Command("get", "Print a session record as JSON")
	getSessionID = getCmd.Arg("session-id", "Session identifier").Required().String()

	// end command
	endCmd       = app.Command("end", "End a session (deletes the record)")
	endSessionID = endCmd.Arg("session-id", "Session identifier").Required().String()

	// kick command
	kickCmd       = app.Command("kick", "Remove a listener from a session")
	kickSessionID = kickCmd.Arg("session-id", "Session identifier").Required().String()
	kickClientID  = kickCmd.Arg("client-id", "Client identifier to remove").Required().String()

	// requests command
	requestsCmd       = app.Command("requests", "List pending join requests")
	requestsSessionID = requestsCmd.Arg("session-id", "Session identifier").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Output: "stderr", Level: "warn"}); err != nil {
		fmt.Printf("Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// An in-memory store is process-local, so there is nothing to
	// administer from a separate binary.
	if cfg.Store.Backend != "redis" {
		fmt.Println("Error: sessionctl requires the redis store backend")
		os.Exit(1)
	}
	st, err := redisstore.NewFromSettings(ctx, cfg.Store.Settings)
	if err != nil {
		fmt.Printf("Error: failed to connect to store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch command {
	case getCmd.FullCommand():
		getSession(ctx, st, *getSessionID)
	case endCmd.FullCommand():
		endSession(ctx, st, *endSessionID)
	case kickCmd.FullCommand():
		kickUser(ctx, st, *kickSessionID, *kickClientID)
	case requestsCmd.FullCommand():
		listRequests(ctx, st, *requestsSessionID)
	}
}

func getSession(ctx context.Context, st store.Store, sessionID string) {
	snap, err := st.Get(ctx, sessionID)
	if err != nil {
		fmt.Printf("Error: failed to get session: %v\n", err)
		os.Exit(1)
	}
	if !snap.Exists {
		fmt.Printf("Session not found: %s\n", sessionID)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(snap.Record, "", "  ")
	if err != nil {
		fmt.Printf("Error: failed to encode session: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func endSession(ctx context.Context, st store.Store, sessionID string) {
	if err := st.Delete(ctx, sessionID); err != nil {
		fmt.Printf("Error: failed to end session: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Session ended: %s\n", sessionID)
}

func kickUser(ctx context.Context, st store.Store, sessionID, clientID string) {
	if err := st.RemoveUser(ctx, sessionID, clientID); err != nil {
		fmt.Printf("Error: failed to remove user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %s from session %s\n", clientID, sessionID)
}

func listRequests(ctx context.Context, st store.Store, sessionID string) {
	snap, err := st.Get(ctx, sessionID)
	if err != nil {
		fmt.Printf("Error: failed to get session: %v\n", err)
		os.Exit(1)
	}
	if !snap.Exists {
		fmt.Printf("Session not found: %s\n", sessionID)
		os.Exit(1)
	}

	if len(snap.Record.JoinRequests) == 0 {
		fmt.Println("No pending join requests.")
		return
	}
	for _, id := range snap.Record.JoinRequests {
		fmt.Println(id)
	}
}
