package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/barnettlynn/calypsotools/pkg/calypso"
)

func sampleDump() *calypso.Dump {
	card := &calypso.Card{
		UID:      [4]byte{0x1A, 0x2B, 0x3C, 0x4D},
		ATR:      []byte{0x3B, 0x88, 0x80, 0x01},
		Number:   12345678,
		Serial:   [8]byte{0, 0, 0, 0, 0x00, 0xBC, 0x61, 0x4E},
		Type:     calypso.CardNavigo,
		Revision: calypso.Rev3,
		Security: calypso.SecurityAES128,
	}
	contract := calypso.Contract{Number: 1, TariffCode: 0x0101, ValidityStart: [3]byte{0x24, 0x01, 0x01}, Active: true}
	event := calypso.Event{Type: calypso.EventEntry, LocationID: 0x0201, Date: [3]byte{0x24, 0x03, 0x15}, Time: [2]byte{0x08, 0x30}}
	counters := make([]byte, calypso.RecordSize)
	counters[2] = 42

	return calypso.NewDump(card, []calypso.DumpRecord{
		{SFI: calypso.SFIEnvironment, Record: 1, Data: []byte{0x01, 0x25, 0x09, 0x01}},
		{SFI: calypso.SFIContracts, Record: 1, Data: calypso.EncodeContract(contract, calypso.CardNavigo)},
		{SFI: calypso.SFIEvents, Record: 1, Data: calypso.EncodeEvent(event, calypso.CardNavigo)},
		{SFI: calypso.SFICounters, Record: 1, Data: counters},
	})
}

func TestDumpFileRoundTrip(t *testing.T) {
	d := sampleDump()
	at := time.Date(2024, 3, 15, 8, 30, 0, 123, time.UTC)
	f := newDumpFile(d, "ACS ACR122U", at)

	var buf bytes.Buffer
	if err := encodeDumpFile(&buf, f); err != nil {
		t.Fatalf("encodeDumpFile returned error: %v", err)
	}
	got, err := decodeDumpFile(&buf)
	if err != nil {
		t.Fatalf("decodeDumpFile returned error: %v", err)
	}
	if got.ID != f.ID || !got.CapturedAt.Equal(at) || got.Reader != "ACS ACR122U" {
		t.Fatalf("unexpected header: id=%s at=%s reader=%q", got.ID, got.CapturedAt, got.Reader)
	}

	back, err := got.Dump()
	if err != nil {
		t.Fatalf("Dump returned error: %v", err)
	}
	if back.Card.UID != d.Card.UID || back.Card.Number != d.Card.Number || back.Card.Type != calypso.CardNavigo {
		t.Fatalf("unexpected card %+v", back.Card)
	}
	if len(back.Contracts) != 1 || back.Contracts[0] != d.Contracts[0] {
		t.Fatalf("unexpected contracts %+v", back.Contracts)
	}
	if len(back.Events) != 1 || back.Events[0] != d.Events[0] {
		t.Fatalf("unexpected events %+v", back.Events)
	}
	if len(back.Counters) == 0 || back.Counters[0] != 42 {
		t.Fatalf("unexpected counters %v", back.Counters)
	}
}

func TestDecodeDumpFileDetectsCorruptRecord(t *testing.T) {
	f := newDumpFile(sampleDump(), "", time.Now())
	f.Records[1].Data[3] ^= 0xFF

	var buf bytes.Buffer
	if err := encodeDumpFile(&buf, f); err != nil {
		t.Fatalf("encodeDumpFile returned error: %v", err)
	}
	_, err := decodeDumpFile(&buf)
	if err == nil || !strings.Contains(err.Error(), "CRC") {
		t.Fatalf("expected CRC error, got %v", err)
	}
}

func TestDecodeDumpFileRejectsUnknownVersion(t *testing.T) {
	f := newDumpFile(sampleDump(), "", time.Now())
	f.Version = dumpFormatVersion + 1

	var buf bytes.Buffer
	if err := encodeDumpFile(&buf, f); err != nil {
		t.Fatalf("encodeDumpFile returned error: %v", err)
	}
	if _, err := decodeDumpFile(&buf); err == nil || !strings.Contains(err.Error(), "unsupported dump version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestDecodeDumpFileRejectsPlainData(t *testing.T) {
	if _, err := decodeDumpFile(strings.NewReader("not a dump")); err == nil {
		t.Fatalf("expected error for uncompressed input")
	}
}

func TestFileSinkWritesLoadableDump(t *testing.T) {
	dir := t.TempDir()
	sink, err := newFileSink(dir, "reader 0")
	if err != nil {
		t.Fatalf("newFileSink returned error: %v", err)
	}
	sink.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	if err := sink.WriteDump(sampleDump()); err != nil {
		t.Fatalf("WriteDump returned error: %v", err)
	}
	if filepath.Dir(sink.last) != dir || !strings.HasPrefix(filepath.Base(sink.last), "calypso-12345678-") || !strings.HasSuffix(sink.last, dumpFileExt) {
		t.Fatalf("unexpected dump path %q", sink.last)
	}

	f, err := loadDumpFile(sink.last)
	if err != nil {
		t.Fatalf("loadDumpFile returned error: %v", err)
	}
	if len(f.Records) != 4 || f.Reader != "reader 0" {
		t.Fatalf("unexpected dump: %d records, reader %q", len(f.Records), f.Reader)
	}
}

func TestNewFileSinkRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := newFileSink(path, ""); err == nil {
		t.Fatalf("expected error for non-directory")
	}
}

func TestPrintDump(t *testing.T) {
	var out bytes.Buffer
	printDump(&out, sampleDump(), 0)
	s := out.String()
	for _, want := range []string{
		"UID: 1A2B3C4D",
		"Navigo (Paris)",
		"Contracts (1):",
		"  Contract #1 [active]",
		"Events (1 of 1):",
		"Gare du Nord",
		"  #1: 42",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}

	if pages := dumpPages(sampleDump()); len(pages) != 2 || !strings.HasPrefix(pages[1], "Event 1/1") {
		t.Fatalf("unexpected pages %q", pages)
	}
}
