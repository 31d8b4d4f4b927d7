package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/barnettlynn/calypsotools/pkg/calypso"
	"github.com/ebfe/scard"
)

type readerConfig struct {
	maxEvents int
	sink      *fileSink
	browse    bool
}

func readAndPrint(ctx *scard.Context, reader string, readerIdx int, cfg *readerConfig) {
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		log.Printf("Connect failed: %v", err)
		return
	}
	conn := &calypso.Connection{Card: card, Reader: reader, ReaderIdx: readerIdx}
	defer conn.Close()

	info, err := calypso.DetectCard(conn)
	if err != nil {
		log.Printf("Detect error: %v", err)
		return
	}

	var sink calypso.DumpSink
	if cfg.sink != nil {
		sink = cfg.sink
	}
	d, err := calypso.DumpCard(conn, info, sink)
	if err != nil {
		if d == nil {
			log.Printf("Read error: %v", err)
			printCard(os.Stdout, info)
			return
		}
		log.Printf("Dump error: %v", err)
	} else if cfg.sink != nil {
		fmt.Printf("Dump: %s\n", cfg.sink.last)
	}

	printDump(os.Stdout, d, cfg.maxEvents)
	if cfg.browse {
		browse(dumpPages(d))
	}
}

func printCard(out io.Writer, card *calypso.Card) {
	fmt.Fprintf(out, "UID: %X\n", card.UID)
	if len(card.ATR) > 0 {
		fmt.Fprintf(out, "ATR: %X\n", card.ATR)
	}
	fmt.Fprintf(out, "Serial: %X\n", card.Serial)
	fmt.Fprintln(out, calypso.AnalyzeSecurity(card))
}

func printDump(out io.Writer, d *calypso.Dump, maxEvents int) {
	printCard(out, &d.Card)

	fmt.Fprintln(out)
	if len(d.Contracts) == 0 {
		fmt.Fprintln(out, "Contracts: (none)")
	} else {
		fmt.Fprintf(out, "Contracts (%d):\n", len(d.Contracts))
		for _, c := range d.Contracts {
			fmt.Fprintln(out, indent(calypso.FormatContract(c, d.Card.Type)))
		}
	}

	fmt.Fprintln(out)
	events := d.Events
	if maxEvents > 0 && len(events) > maxEvents {
		events = events[:maxEvents]
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "Events: (none)")
	} else {
		fmt.Fprintf(out, "Events (%d of %d):\n", len(events), len(d.Events))
		for _, e := range events {
			fmt.Fprintln(out, indent(calypso.FormatEvent(e, d.Card.Type)))
		}
	}

	fmt.Fprintln(out)
	if len(d.Counters) == 0 {
		fmt.Fprintln(out, "Counters: (none)")
	} else {
		fmt.Fprintln(out, "Counters:")
		for i, v := range d.Counters {
			if v == 0 {
				continue
			}
			fmt.Fprintf(out, "  #%d: %d\n", i+1, v)
		}
	}
}

// dumpPages renders one browse page per contract and event.
func dumpPages(d *calypso.Dump) []string {
	var pages []string
	for _, c := range d.Contracts {
		pages = append(pages, calypso.FormatContract(c, d.Card.Type))
	}
	for i, e := range d.Events {
		pages = append(pages, fmt.Sprintf("Event %d/%d\n%s", i+1, len(d.Events), calypso.FormatEvent(e, d.Card.Type)))
	}
	return pages
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
