// Package main provides the tunejam client entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/tunejam/tunejam/internal/app/lifecycle"
	"github.com/tunejam/tunejam/internal/app/syncengine"
	"github.com/tunejam/tunejam/internal/catalog"
	"github.com/tunejam/tunejam/internal/domain/track"
	"github.com/tunejam/tunejam/internal/infra/config"
	"github.com/tunejam/tunejam/internal/infra/logger"
	"github.com/tunejam/tunejam/internal/store"
	memstore "github.com/tunejam/tunejam/internal/store/memory"
	redisstore "github.com/tunejam/tunejam/internal/store/redis"
	"github.com/tunejam/tunejam/internal/transport/sim"
)

var (
	app        = kingpin.New("tunejam", "tunejam shared listening client")
	configPath = app.Flag("config", "Path to config file").Default("config/client.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	name       = app.Flag("name", "Display name (overrides config)").String()

	// create command
	createCmd      = app.Command("create", "Create a session and host it")
	createPrivate  = createCmd.Flag("private", "Require a password to join").Bool()
	createPassword = createCmd.Flag("password", "Password for a private session").String()

	// join command
	joinCmd       = app.Command("join", "Join an existing session")
	joinSessionID = joinCmd.Arg("session-id", "Session identifier").Required().String()
	joinPassword  = joinCmd.Flag("password", "Password for a private session").String()
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

	loggerConfig := logger.Config{Output: cfg.Log.Output, Level: cfg.Log.Level}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Printf("Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, command); err != nil {
		zlog.Error().Msgf("client error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, command string) error {
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		// Degraded but informative: the user sees why nothing syncs.
		return errors.Wrap(err, "session store unavailable")
	}

	displayName := cfg.Client.DisplayName
	if *name != "" {
		displayName = *name
	}
	if displayName == "" {
		displayName = promptName()
	}

	clientID := deviceID()
	lc := lifecycle.New(st, clientID, displayName)

	var sessionID string
	switch command {
	case createCmd.FullCommand():
		sessionID, err = lc.CreateSession(ctx, lifecycle.CreateOptions{
			Private:  *createPrivate,
			Password: *createPassword,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Session created: %s\n", sessionID)

	case joinCmd.FullCommand():
		sessionID = *joinSessionID
		err = lc.Join(ctx, sessionID, *joinPassword)
		switch {
		case errors.Is(err, lifecycle.ErrJoinPending):
			fmt.Println("Join request sent. Waiting for the host to approve...")
		case errors.Is(err, store.ErrNotFound):
			return errors.Newf("session %s does not exist", sessionID)
		case err != nil:
			return err
		}
	}

	var cat *catalog.Catalog
	if cfg.Catalog.Path != "" {
		cat, err = catalog.Load(cfg.Catalog.Path)
		if err != nil {
			zlog.Warn().Msgf("catalog unavailable: %v", err)
		}
	}

	player := sim.New()
	defer player.Close()

	engine := syncengine.New(syncengine.Config{
		ClientID:       clientID,
		DriftThreshold: cfg.DriftThreshold(),
		EndedGrace:     cfg.EndedGrace(),
	}, st, player)

	if err := engine.Start(ctx, sessionID); err != nil {
		return err
	}

	// Best-effort leave on termination; delivery is not guaranteed.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lc.LeaveBestEffort(sessionID)
		engine.Stop()
		os.Exit(0)
	}()

	go printNotices(engine)

	repl(ctx, engine, lc, cat, sessionID)

	lc.LeaveBestEffort(sessionID)
	engine.Stop()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return redisstore.NewFromSettings(ctx, cfg.Store.Settings)
	default:
		return memstore.New(), nil
	}
}

// deviceID returns the stable per-device client identifier, creating it on
// first run. Identity issuance itself is out of scope; this stands in for
// whatever hands the engine a stable id.
func deviceID() string {
	path := os.ExpandEnv("$HOME/.tunejam-device-id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		zlog.Warn().Msgf("could not persist device id: %v", err)
	}
	return id
}

func promptName() string {
	fmt.Print("Display name: ")
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		if n := strings.TrimSpace(scanner.Text()); n != "" {
			return n
		}
	}
	return "Guest"
}

func printNotices(engine *syncengine.Engine) {
	for n := range engine.Notices() {
		switch n.Type {
		case syncengine.NoticeReturnHome:
			fmt.Println("Returning to the lobby.")
			os.Exit(0)
		default:
			fmt.Println(n.Message)
		}
	}
}

func repl(ctx context.Context, engine *syncengine.Engine, lc *lifecycle.Manager, cat *catalog.Catalog, sessionID string) {
	fmt.Println("Commands: status, list, add <query>, play <track-id>, toggle, seek <seconds>, remove <track-id>, open-perms, close-perms, approve <client-id>, deny <client-id>, rename <name>, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "quit", "exit", "leave":
			return
		case "status":
			printStatus(engine)
		case "list":
			printPlaylist(engine)
		case "add":
			err = addTrack(ctx, engine, cat, strings.Join(fields[1:], " "))
		case "play":
			err = withArg(fields, func(arg string) error { return engine.ChangeTrack(ctx, arg) })
		case "toggle":
			err = engine.TogglePlayback(ctx)
		case "seek":
			err = withArg(fields, func(arg string) error {
				pos, perr := strconv.ParseFloat(arg, 64)
				if perr != nil {
					return errors.Wrap(perr, "seek position")
				}
				return engine.Seek(ctx, pos)
			})
		case "remove":
			err = withArg(fields, func(arg string) error { return engine.RemoveTrack(ctx, arg) })
		case "open-perms":
			err = engine.SetAllPermissions(ctx, true)
		case "close-perms":
			err = engine.SetAllPermissions(ctx, false)
		case "approve":
			err = withArg(fields, func(arg string) error { return lc.ApproveJoin(ctx, sessionID, arg) })
		case "deny":
			err = withArg(fields, func(arg string) error { return lc.DenyJoin(ctx, sessionID, arg) })
		case "rename":
			err = withArg(fields, func(arg string) error { return lc.Rename(ctx, sessionID, arg) })
		default:
			fmt.Printf("Unknown command: %s\n", fields[0])
		}
		if err != nil {
			fmt.Printf("Rejected: %v\n", err)
		}
	}
}

func withArg(fields []string, fn func(string) error) error {
	if len(fields) < 2 {
		return errors.New("missing argument")
	}
	return fn(fields[1])
}

func addTrack(ctx context.Context, engine *syncengine.Engine, cat *catalog.Catalog, query string) error {
	var t track.Track
	if cat != nil {
		matches := cat.Search(query)
		if len(matches) == 0 {
			return errors.Newf("no catalog match for %q", query)
		}
		t = matches[0]
		t.ID = "" // playlist entries get fresh ids, catalog ids are reusable
	} else {
		t = track.Track{Title: query, URL: query}
	}

	added, err := engine.AppendTrack(ctx, t)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s (%s)\n", added.Title, added.ID)
	return nil
}

func printStatus(engine *syncengine.Engine) {
	rec := engine.Record()
	if rec == nil {
		fmt.Println("No snapshot yet.")
		return
	}
	fmt.Printf("State: %s\n", engine.State())
	if rec.CurrentSong != nil {
		verb := "paused"
		if rec.IsPlaying {
			verb = "playing"
		}
		fmt.Printf("Now %s: %s at %.1fs\n", verb, rec.CurrentSong.Title, rec.CurrentTime)
	} else {
		fmt.Println("Nothing playing.")
	}
	fmt.Printf("Listeners: %d, open permissions: %t\n", len(rec.Users), rec.AllPermissions)
	for _, id := range rec.JoinRequests {
		fmt.Printf("Pending join request: %s\n", id)
	}
}

func printPlaylist(engine *syncengine.Engine) {
	rec := engine.Record()
	if rec == nil {
		fmt.Println("No snapshot yet.")
		return
	}
	if len(rec.Playlist) == 0 {
		fmt.Println("Playlist is empty.")
		return
	}
	for i, t := range rec.Playlist {
		marker := " "
		if rec.CurrentSong != nil && rec.CurrentSong.ID == t.ID {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s - %s (%s)\n", marker, i+1, t.Title, t.Artist, t.ID)
	}
}
