package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/barnettlynn/calypsotools/dictattack/internal/config"
	"github.com/barnettlynn/calypsotools/pkg/calypso"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	keyIndexFlag := flag.Int("key-index", -1, "key index to attack (overrides config.session.key_index)")
	diagnose := flag.Bool("diagnose", false, "after a match, try the key against every key index")
	flag.Parse()

	// Configure slog
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	fmt.Println("=== Calypso Dictionary Key Recovery ===")
	fmt.Println()

	configPath, err := defaultConfigPath()
	if err != nil {
		log.Fatalf("resolve config path failed: %v", err)
	}
	fmt.Printf("Using config: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	corpus, err := buildCorpus(cfg.Keys.KeyDir, cfg.Keys.SkipBuiltin)
	if err != nil {
		log.Fatalf("build corpus failed: %v", err)
	}
	if cfg.Keys.KeyDir != "" {
		fmt.Printf("Key dir: %s\n", cfg.Keys.KeyDir)
	}
	fmt.Printf("Corpus: %d keys (built-in table v%d)\n", len(corpus), calypso.KnownKeysVersion)

	conn, err := calypso.Connect(*cfg.Runtime.ReaderIndex)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Using reader [%d]: %s\n", conn.ReaderIdx, conn.Reader)

	card, err := calypso.DetectCard(conn)
	if err != nil {
		conn.Close()
		log.Fatalf("detect card failed: %v", err)
	}
	fmt.Printf("UID: %X\n", card.UID)
	fmt.Println(calypso.AnalyzeSecurity(card))
	fmt.Println()

	code := attack(os.Stdout, conn, card, cfg, corpus, *keyIndexFlag, *diagnose)
	conn.Close()
	if code != 0 {
		os.Exit(code)
	}
}

// attack runs the recovery against card and returns the process exit code.
// It never exits itself, so the caller can release the reader first.
func attack(out io.Writer, tr calypso.Transmitter, card *calypso.Card, cfg *config.Config, corpus []calypso.CorpusKey, keyIndexFlag int, diagnose bool) int {
	keyIndex, ok := chooseKeyIndex(cfg, keyIndexFlag)
	if !ok {
		fmt.Fprintln(out, "No key index selected.")
		return 1
	}
	app := &calypso.Application{ID: byte(*cfg.Session.ApplicationID), KeyIndex: keyIndex}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Attacking key index %d (%s) of application 0x%02X...\n", keyIndex, roleName(keyIndex), app.ID)
	p, err := runAttack(ctx, tr, card, app, corpus, cfg.Runtime.ProgressEvery)
	printResult(out, p, keyIndex)
	if err != nil {
		slog.Error("recovery stopped", "error", err)
		return 1
	}

	if diagnose && p.Status == calypso.RecoveryFound {
		indexes := make([]byte, 0, len(keyRoles))
		for _, r := range keyRoles {
			indexes = append(indexes, r.index)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Key index status with recovered key:")
		printSlotTable(out, calypso.DiagnoseKeyIndexes(tr, card, app, p.Found.Key[:], indexes))
	}
	return 0
}

// chooseKeyIndex resolves the target key index from the flag, the config or
// an interactive menu, in that order.
func chooseKeyIndex(cfg *config.Config, flagValue int) (byte, bool) {
	if flagValue >= 0 && flagValue <= 0xFF {
		return byte(flagValue), true
	}
	if cfg.Session.KeyIndex != nil {
		return byte(*cfg.Session.KeyIndex), true
	}
	items := make([]string, len(keyRoles))
	for i, r := range keyRoles {
		items[i] = fmt.Sprintf("%d - %s", r.index, r.name)
	}
	idx := selectMenu("Select key index to attack:", items, 0)
	if idx < 0 {
		return 0, false
	}
	return keyRoles[idx].index, true
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// Fallback for `go run`, where the executable is placed in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
