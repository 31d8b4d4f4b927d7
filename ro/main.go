package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ebfe/scard"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	dumpDir := flag.String("dump", "", "directory to save a compressed dump of every card read")
	showFile := flag.String("show", "", "print a saved dump file and exit")
	maxEvents := flag.Int("max-events", 0, "limit printed events (0 = all)")
	browseFlag := flag.Bool("browse", false, "page through contracts and events after each read")
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

	if *maxEvents < 0 {
		log.Fatalf("-max-events must be >= 0")
	}

	if *showFile != "" {
		f, err := loadDumpFile(*showFile)
		if err != nil {
			log.Fatalf("load dump failed: %v", err)
		}
		d, err := f.Dump()
		if err != nil {
			log.Fatalf("load dump failed: %v", err)
		}
		fmt.Printf("Dump %s captured %s", f.ID, f.CapturedAt.Format(time.RFC3339))
		if f.Reader != "" {
			fmt.Printf(" on %s", f.Reader)
		}
		fmt.Println()
		printDump(os.Stdout, d, *maxEvents)
		if *browseFlag {
			browse(dumpPages(d))
		}
		return
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		log.Fatalf("EstablishContext failed: %v", err)
	}
	defer ctx.Release()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %v, shutting down...\n", sig)
		ctx.Release()
		os.Exit(0)
	}()

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		log.Fatalf("No readers found: %v", err)
	}

	readerIndex := 0
	reader := readers[0]
	args := flag.Args()
	if len(args) > 0 {
		arg := args[0]
		if v, err := strconv.Atoi(arg); err == nil {
			if v >= 0 && v < len(readers) {
				readerIndex = v
				reader = readers[readerIndex]
			} else {
				log.Printf("Reader index out of range (0..%d), using 0", len(readers)-1)
			}
		} else {
			// Treat as a substring match on the reader name.
			found := false
			for i, r := range readers {
				if strings.Contains(r, arg) {
					readerIndex = i
					reader = r
					found = true
					break
				}
			}
			if !found {
				log.Printf("Reader name not found (%s), using 0", arg)
			}
		}
	}
	fmt.Printf("Using reader [%d]: %s\n", readerIndex, reader)

	cfg := &readerConfig{maxEvents: *maxEvents, browse: *browseFlag}
	if *dumpDir != "" {
		sink, err := newFileSink(*dumpDir, reader)
		if err != nil {
			log.Fatalf("-dump: %v", err)
		}
		cfg.sink = sink
	}

	states := []scard.ReaderState{{
		Reader:       reader,
		CurrentState: scard.StateUnaware,
	}}
	cardPresent := false

	fmt.Println("Waiting for card scans...")
	for {
		if err := ctx.GetStatusChange(states, time.Second); err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			log.Printf("GetStatusChange error: %v", err)
			continue
		}

		rs := states[0]
		if (rs.EventState&scard.StatePresent) != 0 && !cardPresent {
			cardPresent = true
			readAndPrint(ctx, reader, readerIndex, cfg)
			fmt.Println("Waiting for next scan...")
		} else if (rs.EventState&scard.StateEmpty) != 0 && cardPresent {
			cardPresent = false
		}

		states[0].CurrentState = rs.EventState
	}
}
