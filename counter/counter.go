package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/barnettlynn/calypsotools/counter/internal/config"
	"github.com/barnettlynn/calypsotools/pkg/calypso"
)

type adjustment struct {
	counter  int
	amount   uint32
	decrease bool
}

func (a adjustment) String() string {
	sign := "+"
	if a.decrease {
		sign = "-"
	}
	return fmt.Sprintf("counter #%d %s%d", a.counter, sign, a.amount)
}

func parseAdjustment(counter int, increase, decrease uint) (adjustment, error) {
	if counter < 1 || counter > calypso.RecordSize/3 {
		return adjustment{}, fmt.Errorf("-counter must be 1..%d", calypso.RecordSize/3)
	}
	switch {
	case increase != 0 && decrease != 0:
		return adjustment{}, fmt.Errorf("-increase and -decrease are mutually exclusive")
	case increase == 0 && decrease == 0:
		return adjustment{}, fmt.Errorf("one of -increase or -decrease is required")
	}
	amount, dec := increase, false
	if decrease != 0 {
		amount, dec = decrease, true
	}
	if amount > calypso.MaxCounterAmount {
		return adjustment{}, fmt.Errorf("amount must be 1..%d", calypso.MaxCounterAmount)
	}
	return adjustment{counter: counter, amount: uint32(amount), decrease: dec}, nil
}

func askYesNo(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// adjustCounter applies adj to the card on tr.
//
// Steps:
//  1. Detect the card and read the current value (no session needed)
//  2. Ask for confirmation
//  3. Select the transport application and open a secure session
//  4. Increase or decrease the counter; the card enforces the bounds
//  5. Close the session, then read the value back and compare it with the
//     value the card reported
func adjustCounter(tr calypso.Transmitter, issuerKey []byte, cfg *config.Config, adj adjustment, confirm func(string) bool) error {
	card, err := calypso.DetectCard(tr)
	if err != nil {
		return fmt.Errorf("detect card: %w", err)
	}
	if level, ok, _ := cfg.Session.SecurityOverride(); ok {
		slog.Debug("security level overridden", "detected", card.Security, "configured", level)
		card.Security = level
	}
	fmt.Printf("Card: %s #%d (%s, %s)\n", card.Type, card.Number, card.Revision, card.Security)

	before, err := calypso.ReadCounter(tr, card, adj.counter)
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	fmt.Printf("Counter #%d: %d\n", adj.counter, before)

	if !confirm(fmt.Sprintf("Apply %s (current %d)?", adj, before)) {
		fmt.Println("Aborted.")
		return nil
	}

	app := &calypso.Application{
		ID:       byte(*cfg.Session.ApplicationID),
		KeyIndex: byte(*cfg.Session.KeyIndex),
	}
	sess := calypso.NewSession(tr, card)
	if err := sess.SelectApplication(app); err != nil {
		return fmt.Errorf("select application 0x%02X: %w", app.ID, err)
	}

	auth, err := calypso.NewAuthContext(issuerKey, card.Security)
	if err != nil {
		return err
	}
	defer auth.Clear()

	if err := sess.Open(auth, app.KeyIndex); err != nil {
		if step, sw, _, ok := calypso.ClassifyAuthError(err); ok {
			return fmt.Errorf("open session failed at %s (SW=%04X): %w", step, sw, err)
		}
		return fmt.Errorf("open session: %w", err)
	}

	var got uint32
	if adj.decrease {
		got, err = sess.DecreaseCounter(byte(adj.counter), adj.amount)
	} else {
		got, err = sess.IncreaseCounter(byte(adj.counter), adj.amount)
	}
	if err != nil {
		if sess.State() == calypso.StateAuthenticated {
			closeSession(sess)
		}
		if sw, ok := calypso.StatusWord(err); ok && sw == calypso.SWCounterRange {
			return fmt.Errorf("%s rejected by card, counter out of range (SW=%04X): %w", adj, sw, err)
		}
		return fmt.Errorf("%s: %w", adj, err)
	}
	slog.Debug("counter updated", "counter", adj.counter, "value", got)

	closeSession(sess)

	after, err := calypso.ReadCounter(tr, card, adj.counter)
	if err != nil {
		return fmt.Errorf("read back counter: %w", err)
	}
	if after != got {
		return fmt.Errorf("counter #%d reads %d after update, card reported %d", adj.counter, after, got)
	}
	fmt.Printf("Counter #%d: %d -> %d\n", adj.counter, before, after)
	return nil
}

// closeSession ends the secure session. A failed close is logged, not
// returned; the read-back that follows shows what the card holds.
func closeSession(sess *calypso.Session) {
	if err := sess.Close(); err != nil {
		slog.Warn("close secure session failed", "error", err)
	}
}
