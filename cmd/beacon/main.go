package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/credential"
	"github.com/beaconhq/beacon/internal/engine"
	"github.com/beaconhq/beacon/internal/logging"
	"github.com/beaconhq/beacon/internal/notification"
	"github.com/beaconhq/beacon/internal/realtime"
	"github.com/beaconhq/beacon/internal/storage"
)

const version = "beacon v1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	cleanup, err := logging.Init(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer cleanup()
	log := logging.Component("main")

	store, err := storage.New(cfg.BeaconHome)
	if err != nil {
		return fmt.Errorf("failed to open state dir: %w", err)
	}
	creds := credential.NewResolver(store)

	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Println(version)
			return nil
		case "sign-out":
			creds.ClearAll()
			fmt.Println("Signed out; stored credentials cleared.")
			return nil
		case "status":
			return statusCommand(creds)
		default:
			return fmt.Errorf("unknown command %q (try 'beacon help')", args[0])
		}
	}

	token, ok := creds.Resolve()
	if !ok || !credential.Validate(token) {
		return errors.New("no valid credential found; set BEACON_TOKEN or sign in")
	}
	userID, _ := credential.Subject(token)

	user := realtime.User{ID: userID, Role: cfg.Role}
	clientID := uuid.NewString()

	log.Info().
		Str("server", cfg.ServerURL).
		Str("role", cfg.Role).
		Str("clientId", clientID).
		Msg("starting")

	eng := engine.New(cfg, store, creds, user, clientID, logging.Component("engine"))
	defer eng.Close()
	eng.SetListener(&consoleListener{})

	if err := eng.Start(); err != nil {
		if errors.Is(err, realtime.ErrInvalidCredential) {
			return errors.New("credential rejected; sign in again")
		}
		return fmt.Errorf("failed to start: %w", err)
	}

	fmt.Println("Beacon running. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	return nil
}

func statusCommand(creds *credential.Resolver) error {
	token, ok := creds.Resolve()
	if !ok {
		fmt.Println("credential: none")
		return nil
	}
	if !credential.Validate(token) {
		fmt.Println("credential: expired or malformed")
		return nil
	}
	fmt.Println("credential: valid")
	if subject, ok := credential.Subject(token); ok {
		fmt.Printf("subject:    %s\n", subject)
	}
	if exp, ok := credential.ExpiresAt(token); ok {
		fmt.Printf("expires:    %s\n", exp.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("beacon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	server := fs.String("server", "", "Beacon server URL")
	role := fs.String("role", "", "Account role (merchant|customer)")
	logLevel := fs.String("log-level", "", "Log level (debug|info|warn|error)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *server != "" {
		cfg.ServerURL = *server
	}
	if *role != "" {
		if *role != "merchant" && *role != "customer" {
			return nil, fmt.Errorf("invalid --role %q (expected merchant or customer)", *role)
		}
		cfg.Role = *role
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	return fs.Args(), nil
}

// consoleListener prints engine callbacks for interactive use.
type consoleListener struct{}

func (consoleListener) OnNotifications(records []notification.Record, counts notification.Counts) {
	fmt.Printf("notifications: %d total, %d unread (%d unread chats)\n",
		counts.Total, counts.Unread, counts.UnreadChats)
	for i, rec := range records {
		if i >= 5 {
			fmt.Printf("  ... and %d more\n", len(records)-i)
			break
		}
		marker := " "
		if !rec.IsRead {
			marker = "*"
		}
		fmt.Printf("  %s [%s/%s] %s\n", marker, rec.Type, rec.Priority, rec.Title)
	}
}

func (consoleListener) OnConnectionState(status realtime.Status) {
	if status.Reason != "" {
		fmt.Printf("connection: %s (%s)\n", status.State, status.Reason)
		return
	}
	fmt.Printf("connection: %s\n", status.State)
}

func (consoleListener) OnPresence(userID string, online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	fmt.Printf("presence: %s is %s\n", userID, state)
}

func (consoleListener) OnTyping(conversationID string, users []string) {
	if len(users) == 0 {
		return
	}
	fmt.Printf("typing in %s: %s\n", conversationID, strings.Join(users, ", "))
}

func (consoleListener) OnSignInRequired() {
	fmt.Println("Session expired. Redirecting to sign-in...")
}

func printUsage() {
	fmt.Println(`Usage: beacon [flags] [command]

Commands:
  status      Show stored credential state
  sign-out    Clear stored credentials
  version     Print version
  help        Show this help

Flags:
  -server URL        Beacon server URL (default from BEACON_SERVER_URL)
  -role ROLE         Account role: merchant or customer
  -log-level LEVEL   Log level: debug, info, warn, error
  -debug             Enable debug logging`)
}
