package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/barnettlynn/calypsotools/pkg/calypso"
)

// buildCorpus merges the built-in keys with every .hex file in keyDir.
func buildCorpus(keyDir string, skipBuiltin bool) ([]calypso.CorpusKey, error) {
	var sets [][]calypso.CorpusKey
	if !skipBuiltin {
		sets = append(sets, calypso.KnownKeys())
	}
	if keyDir != "" {
		files, err := calypso.LoadAllHexKeys(keyDir)
		if err != nil {
			return nil, fmt.Errorf("load key dir: %w", err)
		}
		sets = append(sets, calypso.CorpusFromKeyFiles(files))
	}
	return calypso.BuildCorpus(sets...), nil
}

// progressLogger returns a callback that logs every n attempts and on the
// final report.
func progressLogger(n int) func(calypso.Progress) {
	return func(p calypso.Progress) {
		if !p.Status.Terminal() && (n <= 0 || p.KeysTried%n != 0) {
			return
		}
		rate := 0.0
		if s := p.Elapsed.Seconds(); s > 0 {
			rate = float64(p.KeysTried) / s
		}
		slog.Info("recovery progress",
			"status", p.Status,
			"tried", p.KeysTried,
			"total", p.TotalKeys,
			"elapsed", p.Elapsed.Round(time.Millisecond),
			"keys_per_sec", fmt.Sprintf("%.1f", rate),
		)
	}
}

func runAttack(ctx context.Context, tr calypso.Transmitter, card *calypso.Card, app *calypso.Application, corpus []calypso.CorpusKey, every int) (calypso.Progress, error) {
	r, err := calypso.NewRecovery(tr, card, app, app.KeyIndex, corpus)
	if err != nil {
		return calypso.Progress{}, err
	}
	return r.Run(ctx, progressLogger(every))
}

func printResult(out io.Writer, p calypso.Progress, keyIndex byte) {
	fmt.Fprintln(out)
	switch p.Status {
	case calypso.RecoveryFound:
		fmt.Fprintf(out, "FOUND: key index %d (%s) = %X\n", keyIndex, roleName(keyIndex), p.Found.Key)
		fmt.Fprintf(out, "Corpus entry #%d: %s\n", p.Found.Index, p.Found.Label)
	case calypso.RecoveryComplete:
		fmt.Fprintf(out, "No match for key index %d (%s) in %d keys\n", keyIndex, roleName(keyIndex), p.TotalKeys)
	default:
		fmt.Fprintf(out, "Stopped after %d of %d keys\n", p.KeysTried, p.TotalKeys)
	}
	fmt.Fprintf(out, "Tried %d keys in %s\n", p.KeysTried, p.Elapsed.Round(time.Millisecond))
}

func printSlotTable(out io.Writer, results []calypso.KeySlotResult) {
	fmt.Fprintln(out, "Index | Role   | Status")
	fmt.Fprintln(out, "------|--------|---------------------------")
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = fmt.Sprintf("fail at %s", r.Step)
			if r.SW != 0 {
				status += fmt.Sprintf(" (SW=%04X)", r.SW)
			}
		}
		fmt.Fprintf(out, " 0x%02X | %-6s | %s\n", r.KeyIndex, roleName(r.KeyIndex), status)
	}
}
