package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/barnettlynn/calypsotools/dictattack/internal/config"
	"github.com/barnettlynn/calypsotools/pkg/calypso"
)

func TestBuildCorpusAppendsKeyFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "issuer.hex"), []byte("0123456789ABCDEF0123456789ABCDEF\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	corpus, err := buildCorpus(dir, false)
	if err != nil {
		t.Fatalf("buildCorpus returned error: %v", err)
	}
	builtin := len(calypso.KnownKeys())
	if len(corpus) != builtin+1 {
		t.Fatalf("expected %d keys, got %d", builtin+1, len(corpus))
	}
	last := corpus[len(corpus)-1]
	if last.Label != "issuer.hex" || last.Index != builtin {
		t.Fatalf("unexpected last entry %+v", last)
	}

	only, err := buildCorpus(dir, true)
	if err != nil {
		t.Fatalf("buildCorpus returned error: %v", err)
	}
	if len(only) != 1 || only[0].Index != 0 {
		t.Fatalf("expected only the key file, got %+v", only)
	}
}

func TestBuildCorpusMissingDir(t *testing.T) {
	if _, err := buildCorpus(filepath.Join(t.TempDir(), "nope"), false); err == nil {
		t.Fatalf("expected error for missing key dir")
	}
}

func TestChooseKeyIndexPrecedence(t *testing.T) {
	three := 3
	cfg := &config.Config{Session: config.SessionConfig{KeyIndex: &three}}

	if idx, ok := chooseKeyIndex(cfg, 2); !ok || idx != 2 {
		t.Fatalf("expected flag to win, got %d ok=%v", idx, ok)
	}
	if idx, ok := chooseKeyIndex(cfg, -1); !ok || idx != 3 {
		t.Fatalf("expected config value, got %d ok=%v", idx, ok)
	}
}

func TestPrintResult(t *testing.T) {
	found := &calypso.CorpusKey{Index: 4, Label: "issuer.hex"}
	found.Key[0] = 0xAB

	var out bytes.Buffer
	printResult(&out, calypso.Progress{Status: calypso.RecoveryFound, KeysTried: 5, TotalKeys: 10, Elapsed: time.Second, Found: found}, 1)
	if !strings.Contains(out.String(), "FOUND: key index 1 (issuer) = AB00") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if !strings.Contains(out.String(), "Corpus entry #4: issuer.hex") {
		t.Fatalf("missing corpus entry in %q", out.String())
	}

	out.Reset()
	printResult(&out, calypso.Progress{Status: calypso.RecoveryComplete, KeysTried: 10, TotalKeys: 10}, 3)
	if !strings.Contains(out.String(), "No match for key index 3 (debit) in 10 keys") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestPrintSlotTable(t *testing.T) {
	var out bytes.Buffer
	printSlotTable(&out, []calypso.KeySlotResult{
		{KeyIndex: 1, Success: true},
		{KeyIndex: 2, Step: "authenticate", SW: 0x6988},
	})
	s := out.String()
	if !strings.Contains(s, "0x01 | issuer | ok") {
		t.Fatalf("missing success row in %q", s)
	}
	if !strings.Contains(s, "0x02 | load   | fail at authenticate (SW=6988)") {
		t.Fatalf("missing failure row in %q", s)
	}
}

type removedCard struct{}

func (removedCard) Transmit([]byte) ([]byte, error) {
	return nil, errors.New("card removed from field")
}

func TestAttackReturnsExitCodeOnTransportFailure(t *testing.T) {
	appID, keyIndex := 1, 1
	cfg := &config.Config{Session: config.SessionConfig{ApplicationID: &appID, KeyIndex: &keyIndex}}
	card := &calypso.Card{Revision: calypso.Rev2, Security: calypso.Security3DES}
	corpus := calypso.KnownKeys()

	var out bytes.Buffer
	if code := attack(&out, removedCard{}, card, cfg, corpus, -1, false); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	want := fmt.Sprintf("Stopped after 1 of %d keys", len(corpus))
	if !strings.Contains(out.String(), want) {
		t.Fatalf("expected %q in output, got %q", want, out.String())
	}
}
