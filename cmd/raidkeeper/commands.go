package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/ernie/raidkeeper/internal/auth"
	"github.com/ernie/raidkeeper/internal/roster"
	"github.com/ernie/raidkeeper/internal/storage"
	"github.com/ernie/raidkeeper/internal/upload"
)

const minPasswordLength = 8

func cmdRoster(args []string) error {
	if len(args) < 1 || args[0] != "import" {
		return fmt.Errorf("usage: raidkeeper roster import <file>")
	}
	fs, configPath := newFlagSet("roster import")
	fs.Parse(args[1:])
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: raidkeeper roster import <file>")
	}

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	chars, err := roster.ParseFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := env.store.UpsertCharacters(ctx, chars); err != nil {
		return fmt.Errorf("saving roster: %w", err)
	}

	alts := 0
	for _, c := range chars {
		if c.IsAlt {
			alts++
		}
	}
	fmt.Printf("Imported %d characters (%d alts)\n", len(chars), alts)
	return nil
}

func cmdCharacters(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("characters subcommand required: list, link")
	}
	subCmd := args[0]
	fs, configPath := newFlagSet("characters " + subCmd)
	fs.Parse(args[1:])

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	switch subCmd {
	case "list":
		chars, err := env.store.ListCharacters(ctx)
		if err != nil {
			return fmt.Errorf("failed to list characters: %w", err)
		}
		if len(chars) == 0 {
			fmt.Println("No characters; import a roster with 'raidkeeper roster import'")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLEVEL\tCLASS\tRANK\tACCOUNT\tALT")
		fmt.Fprintln(w, "----\t-----\t-----\t----\t-------\t---")
		for _, c := range chars {
			alt := ""
			if c.IsAlt {
				alt = "yes"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", c.Name, c.Level, c.Class, c.Rank, c.Account, alt)
		}
		return w.Flush()

	case "link":
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: raidkeeper characters link <alt> <main>")
		}
		if err := env.store.LinkCharacter(ctx, fs.Arg(0), fs.Arg(1)); err != nil {
			return err
		}
		fmt.Printf("%s is now an alt of %s\n", fs.Arg(0), fs.Arg(1))
		return nil

	default:
		return fmt.Errorf("unknown characters command: %s (use: list, link)", subCmd)
	}
}

func cmdRaids(args []string) error {
	if len(args) > 0 && args[0] == "show" {
		return cmdRaidShow(args[1:])
	}
	fs, configPath := newFlagSet("raids")
	recent := fs.Int("recent", 20, "number of raids to show")
	fs.Parse(args)

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	raids, err := env.store.GetRaids(ctx, *recent)
	if err != nil {
		return fmt.Errorf("failed to list raids: %w", err)
	}
	if len(raids) == 0 {
		fmt.Println("No raids recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRAID\tSTARTED\tENDED\tCALLS\tSPENDS\tDKP\tUPLOADED")
	fmt.Fprintln(w, "--\t----\t-------\t-----\t-----\t------\t---\t--------")
	for _, r := range raids {
		uploaded := "no"
		if r.UploadedAt != nil {
			uploaded = formatTime(*r.UploadedAt)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n", r.ID, r.Name, formatTime(r.StartedAt),
			formatTime(r.EndedAt), r.CallCount, r.SpendCount, r.TotalDkp, uploaded)
	}
	return w.Flush()
}

func cmdRaidShow(args []string) error {
	fs, configPath := newFlagSet("raids show")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: raidkeeper raids show <id>")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid raid id %q", fs.Arg(0))
	}

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	raid, err := env.store.GetRaid(ctx, id)
	if err != nil {
		return fmt.Errorf("raid %d: %w", id, err)
	}

	fmt.Printf("%s (%s - %s)\n", raid.Name, formatTime(raid.StartedAt), formatTime(raid.EndedAt))
	if raid.UploadedAt != nil {
		fmt.Printf("Uploaded %s as %s\n", formatTime(*raid.UploadedAt), raid.RemoteID)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCALL\tZONE\tPRESENT")
	for _, c := range raid.Calls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", formatTime(c.Timestamp), c.CallType, c.Name, c.Zone, len(c.Players))
	}
	w.Flush()
	fmt.Println()

	if len(raid.Spends) > 0 {
		fmt.Fprintln(w, "TIME\tCHARACTER\tITEM\tDKP")
		for _, s := range raid.Spends {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", formatTime(s.Timestamp), s.Character, s.Item, s.Amount)
		}
		w.Flush()
		fmt.Println()
	}
	return printAnomalies(os.Stdout, raid.Anomalies)
}

func cmdUpload(args []string) error {
	fs, configPath := newFlagSet("upload")
	dryRun := fs.Bool("dry-run", false, "print the upload document without sending it")
	force := fs.Bool("force", false, "upload again even if the raid was uploaded before")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: raidkeeper upload [--dry-run] [--force] <raid-id>")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid raid id %q", fs.Arg(0))
	}

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.cfg

	if *dryRun {
		_, info, err := upload.NewService(env.store, cfg.Upload.Discounts, nil).Prepare(ctx, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	if cfg.Upload.BaseURL == "" {
		return fmt.Errorf("upload.base_url is not configured")
	}
	secret := cfg.Upload.APISecret
	if secret == "" {
		if secret, err = readSecret("DKP server API secret: "); err != nil {
			return err
		}
	}

	client := upload.NewClient(cfg.Upload, secret, env.logger)
	res, err := upload.NewService(env.store, cfg.Upload.Discounts, client).Upload(ctx, id, *force)
	if errors.Is(err, upload.ErrAlreadyUploaded) {
		return fmt.Errorf("%w; use --force to upload again", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s: %d ticks, %d items (remote id %s)\n",
		res.Raid.Name, len(res.Info.Ticks), len(res.Info.Items), res.RemoteID)
	return nil
}

func cmdToken(args []string) error {
	fs, configPath := newFlagSet("token")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_duration)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: raidkeeper token [--ttl D] <officer>")
	}

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	officer, err := env.store.GetOfficer(ctx, fs.Arg(0))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("officer %s not found; add one with 'raidkeeper officers add'", fs.Arg(0))
	}
	if err != nil {
		return err
	}

	lifetime := *ttl
	if lifetime == 0 {
		lifetime = env.cfg.Auth.TokenDuration
	}
	token, err := auth.NewService(env.cfg.Auth.JWTSecret, env.cfg.Auth.TokenDuration).GenerateTokenTTL(officer.Name, lifetime)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func cmdOfficers(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("officers subcommand required: add, remove, list")
	}
	subCmd := args[0]
	fs, configPath := newFlagSet("officers " + subCmd)
	fs.Parse(args[1:])

	ctx := context.Background()
	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	switch subCmd {
	case "add":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: raidkeeper officers add <name>")
		}
		return cmdOfficerAdd(ctx, env.store, fs.Arg(0))
	case "remove":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: raidkeeper officers remove <name>")
		}
		if err := env.store.DeleteOfficer(ctx, fs.Arg(0)); err != nil {
			return fmt.Errorf("failed to remove officer: %w", err)
		}
		fmt.Printf("Officer '%s' removed\n", fs.Arg(0))
		return nil
	case "list":
		return cmdOfficerList(ctx, env.store)
	default:
		return fmt.Errorf("unknown officers command: %s (use: add, remove, list)", subCmd)
	}
}

func cmdOfficerAdd(ctx context.Context, store *storage.Store, name string) error {
	if _, err := store.GetOfficer(ctx, name); err == nil {
		return fmt.Errorf("officer '%s' already exists", name)
	}

	password, err := readSecret("Enter password: ")
	if err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	confirm, err := readSecret("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.CreateOfficer(ctx, name, hash); err != nil {
		return fmt.Errorf("failed to create officer: %w", err)
	}
	fmt.Printf("Officer '%s' created\n", name)
	return nil
}

func cmdOfficerList(ctx context.Context, store *storage.Store) error {
	officers, err := store.ListOfficers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list officers: %w", err)
	}
	if len(officers) == 0 {
		fmt.Println("No officers configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tLAST_LOGIN")
	fmt.Fprintln(w, "----\t-------\t----------")
	for _, o := range officers {
		lastLogin := "never"
		if o.LastLogin != nil {
			lastLogin = formatTime(*o.LastLogin)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Name, formatTime(o.CreatedAt), lastLogin)
	}
	return w.Flush()
}

