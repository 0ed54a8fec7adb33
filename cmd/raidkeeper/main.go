// raidkeeper - EverQuest raid attendance and DKP tools
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ernie/raidkeeper/internal/config"
	"github.com/ernie/raidkeeper/internal/storage"
)

var version = "dev"

const defaultConfigPath = "raidkeeper.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "parse":
		err = cmdParse(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "roster":
		err = cmdRoster(os.Args[2:])
	case "characters":
		err = cmdCharacters(os.Args[2:])
	case "raids":
		err = cmdRaids(os.Args[2:])
	case "upload":
		err = cmdUpload(os.Args[2:])
	case "token":
		err = cmdToken(os.Args[2:])
	case "officers":
		err = cmdOfficers(os.Args[2:])
	case "version":
		fmt.Printf("raidkeeper %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: raidkeeper <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  parse [--from T] [--to T] [--zeal FILE]... [--save] [--json] <log>...")
	fmt.Println("                                      Parse logs and reconcile attendance and DKP")
	fmt.Println("  serve                               Follow the active log and serve the live API")
	fmt.Println("  roster import <file>                Import a guild roster dump")
	fmt.Println("  characters list                     Show roster characters")
	fmt.Println("  characters link <alt> <main>        Attach an alt to a main's account")
	fmt.Println("  raids [--recent N]                  Show recent raids (default: 20)")
	fmt.Println("  raids show <id>                     Show a raid's calls, spends and anomalies")
	fmt.Println("  upload [--dry-run] [--force] <id>   Upload a raid to the DKP server")
	fmt.Println("  token [--ttl D] <officer>           Issue an API token for an officer")
	fmt.Println("  officers add <name>                 Add an officer (prompts for password)")
	fmt.Println("  officers remove <name>              Remove an officer")
	fmt.Println("  officers list                       List officers")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default raidkeeper.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  raidkeeper parse --zeal RaidRoster_teek-20240305-213000.txt eqlog_Aradune_teek.txt")
	fmt.Println("  raidkeeper parse --from '2024-03-05 20:00' --save Logs/eqlog_*.txt")
	fmt.Println("  raidkeeper upload --dry-run 12")
	fmt.Println("  raidkeeper officers add Tunare")
}

// newFlagSet creates a subcommand flag set carrying the shared --config flag
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	return fs, configPath
}

// loadConfig reads the config file. A missing default file yields the
// built-in defaults; an explicitly named one must exist.
func loadConfig(fs *flag.FlagSet, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !fs.Changed("config") && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// cliEnv is what most commands need: config, logger and database
type cliEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Store
}

func openEnv(ctx context.Context, fs *flag.FlagSet, configPath string) (*cliEnv, error) {
	cfg, err := loadConfig(fs, configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	store, err := storage.New(ctx, cfg.Database.Path)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &cliEnv{cfg: cfg, logger: logger, store: store}, nil
}

func (e *cliEnv) Close() {
	e.store.Close()
	e.logger.Sync()
}

// readSecret prompts on the terminal without echo
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// Accepted --from/--to layouts, interpreted in local time
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use YYYY-MM-DD [HH:MM[:SS]])", s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
