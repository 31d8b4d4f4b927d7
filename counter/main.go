package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/barnettlynn/calypsotools/counter/internal/config"
	"github.com/barnettlynn/calypsotools/pkg/calypso"
	"golang.org/x/term"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	increase := flag.Uint("increase", 0, "amount to add to the counter")
	decrease := flag.Uint("decrease", 0, "amount to subtract from the counter")
	counterNo := flag.Int("counter", 0, "counter number (overrides config.runtime.counter)")
	yes := flag.Bool("yes", false, "apply without asking for confirmation")
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

	// Load config
	configPath, err := defaultConfigPath()
	if err != nil {
		log.Fatalf("resolve config path failed: %v", err)
	}
	fmt.Printf("Using config: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	n := cfg.Runtime.Counter
	if *counterNo != 0 {
		n = *counterNo
	}
	adj, err := parseAdjustment(n, *increase, *decrease)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if !*yes && !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Fatalf("stdin is not a terminal; pass -yes to apply without confirmation")
	}

	// Load keys
	issuerKey, err := calypso.LoadKeyHexFile(cfg.Keys.IssuerKeyFile)
	if err != nil {
		log.Fatalf("issuer key file invalid: %v", err)
	}
	fmt.Printf("Issuer key: %s\n", cfg.Keys.IssuerKeyFile)

	// Connect to reader
	conn, err := calypso.Connect(*cfg.Runtime.ReaderIndex)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	fmt.Printf("Using reader [%d]: %s\n", conn.ReaderIdx, conn.Reader)

	confirm := func(prompt string) bool {
		if *yes {
			return true
		}
		return askYesNo(bufio.NewReader(os.Stdin), os.Stdout, prompt)
	}

	if err := adjustCounter(conn, issuerKey, cfg, adj, confirm); err != nil {
		log.Fatalf("adjust counter failed: %v", err)
	}
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
