package calypso

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectCardBuildsSnapshot(t *testing.T) {
	sim := newSimCard(SecurityAES128, 0x00BC614E, testMaster)
	card := detect(t, sim)

	if card.UID != [4]byte{0x1A, 0x2B, 0x3C, 0x4D} {
		t.Fatalf("unexpected UID %X", card.UID)
	}
	if !bytes.Equal(card.ATR, sim.atr) {
		t.Fatalf("unexpected ATR %X", card.ATR)
	}
	if card.Number != 0x00BC614E {
		t.Fatalf("expected card number 12345678, got %d", card.Number)
	}
	if card.Type != CardNavigo {
		t.Fatalf("expected Navigo, got %s", card.Type)
	}
	if card.Revision != Rev3 || card.Security != SecurityAES128 {
		t.Fatalf("expected Rev3/AES, got %s/%s", card.Revision, card.Security)
	}
	if card.Authenticated() {
		t.Fatalf("fresh card must not be authenticated")
	}
}

func TestDetectCardRev1UsesLegacyClass(t *testing.T) {
	sim := newSimCard(SecurityDES, 5, testMaster)
	card := detect(t, sim)
	if card.Revision != Rev1 || card.Security != SecurityDES {
		t.Fatalf("expected Rev1/DES, got %s/%s", card.Revision, card.Security)
	}
	if _, err := ReadEnvironment(sim, card); err != nil {
		t.Fatalf("ReadEnvironment with class 0x94 returned error: %v", err)
	}
}

func TestDetectCardUnknownNetworkIsGeneric(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	sim.records[SFIEnvironment][0] = padRecord([]byte{0x01, 0x99, 0x99, 0x99})
	if got := detect(t, sim).Type; got != CardGeneric {
		t.Fatalf("expected generic, got %s", got)
	}

	delete(sim.records, SFIEnvironment)
	if got := detect(t, sim).Type; got != CardGeneric {
		t.Fatalf("expected generic without environment, got %s", got)
	}
}

func TestDetectCardWithoutCard(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	sim.present = false
	if _, err := DetectCard(sim); !IsTransportFailure(err) {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestDetectCardRejectsOversizedATR(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	sim.atr = bytes.Repeat([]byte{0x3B}, MaxATRLen+1)
	if _, err := DetectCard(sim); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	sim.atr = bytes.Repeat([]byte{0x3B}, MaxATRLen)
	if card := detect(t, sim); len(card.ATR) != MaxATRLen {
		t.Fatalf("expected %d-byte ATR kept, got %d", MaxATRLen, len(card.ATR))
	}
}

func TestIdentifyCard(t *testing.T) {
	cases := map[CardType][]byte{
		CardNavigo:     {0x01, 0x25, 0x09, 0x01},
		CardLyonTCL:    {0x01, 0x25, 0x05, 0x02},
		CardMOBIB:      {0x01, 0x05, 0x60, 0x01},
		CardVivaViagem: {0x01, 0x62, 0x01, 0x01},
		CardAndante:    {0x01, 0x62, 0x03, 0x01},
		CardAthens:     {0x01, 0x30, 0x01, 0x01},
		CardUnknown:    {0x01},
	}
	for want, env := range cases {
		if got := IdentifyCard(env); got != want {
			t.Fatalf("env %X: expected %s, got %s", env, want, got)
		}
	}
}

func TestGetSerialNumber(t *testing.T) {
	sim := newSimCard(Security3DES, 0x01020304, testMaster)
	serial, err := GetSerialNumber(sim)
	if err != nil {
		t.Fatalf("GetSerialNumber returned error: %v", err)
	}
	if serial != sim.serial {
		t.Fatalf("expected %X, got %X", sim.serial, serial)
	}
}

func TestReadAllContractsSkipsUnusedSlots(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	c1 := Contract{Number: 1, TariffCode: 0x0A0B, Active: true}
	c3 := Contract{Number: 3, TariffCode: 0x0C0D}
	sim.records[SFIContracts][0] = EncodeContract(c1, CardNavigo)
	sim.records[SFIContracts][2] = EncodeContract(c3, CardNavigo)
	card := detect(t, sim)

	got, err := ReadAllContracts(sim, card, MaxContracts)
	if err != nil {
		t.Fatalf("ReadAllContracts returned error: %v", err)
	}
	if len(got) != 2 || got[0] != c1 || got[1] != c3 {
		t.Fatalf("unexpected contracts %+v", got)
	}
}

func TestReadContractRejectsSlotOutOfRange(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	before := sim.exchanges
	if _, err := ReadContract(sim, &Card{}, 5); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if sim.exchanges != before {
		t.Fatalf("expected no exchange")
	}
}

func TestReadEventLogStopsAtFirstEmptyRecord(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	e1 := Event{Type: EventExit, LocationID: 0x0101, BalanceAfter: 4}
	e2 := Event{Type: EventEntry, LocationID: 0x0101, BalanceAfter: 5}
	sim.records[SFIEvents][0] = EncodeEvent(e1, CardNavigo)
	sim.records[SFIEvents][1] = EncodeEvent(e2, CardNavigo)
	card := detect(t, sim)

	got, err := ReadEventLog(sim, card, MaxEvents)
	if err != nil {
		t.Fatalf("ReadEventLog returned error: %v", err)
	}
	if len(got) != 2 || got[0] != e1 || got[1] != e2 {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestReadBinaryOffsetLimit(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	if _, err := ReadBinary(sim, nil, SFIEnvironment, 256, 4); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	data, err := ReadBinary(sim, nil, SFIEnvironment, 1, 3)
	if err != nil {
		t.Fatalf("ReadBinary returned error: %v", err)
	}
	if !bytes.Equal(data, []byte{0x25, 0x09, 0x01}) {
		t.Fatalf("unexpected data %X", data)
	}
}

type memorySink struct{ dumps []*Dump }

func (m *memorySink) WriteDump(d *Dump) error {
	m.dumps = append(m.dumps, d)
	return nil
}

func TestDumpCardCapturesRecords(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	sim.setCounter(1, 42)
	sim.records[SFIContracts][0] = EncodeContract(Contract{Number: 1, Active: true}, CardNavigo)
	card := detect(t, sim)

	sink := &memorySink{}
	d, err := DumpCard(sim, card, sink)
	if err != nil {
		t.Fatalf("DumpCard returned error: %v", err)
	}
	if len(sink.dumps) != 1 || sink.dumps[0] != d {
		t.Fatalf("expected dump handed to sink once")
	}
	// 1 environment + 4 contracts + 3 events + 1 counters
	if len(d.Records) != 9 {
		t.Fatalf("expected 9 records, got %d", len(d.Records))
	}
	if len(d.Contracts) != 1 || len(d.Events) != 0 {
		t.Fatalf("unexpected decode: %d contracts, %d events", len(d.Contracts), len(d.Events))
	}
	if len(d.Counters) == 0 || d.Counters[0] != 42 {
		t.Fatalf("unexpected counters %v", d.Counters)
	}
}

func TestAnalyzeSecurityIsBounded(t *testing.T) {
	for _, level := range []SecurityLevel{SecurityNone, SecurityDES, Security3DES, SecurityAES128} {
		card := &Card{Type: CardAndante, Revision: Rev1, Security: level, Number: 4294967295}
		report := AnalyzeSecurity(card)
		if len(report) > MaxSecurityReport {
			t.Fatalf("%s: report is %d bytes", level, len(report))
		}
		if !strings.Contains(report, level.String()) {
			t.Fatalf("%s: report does not name the security level: %q", level, report)
		}
	}
}

func TestDiagnoseKeyIndexes(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	card := detect(t, sim)

	results := DiagnoseKeyIndexes(sim, card, NewTransportApplication(0x01), testMaster, []byte{0x00, 0x01})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Success || results[0].Step != "authenticate" {
		t.Fatalf("index 0: unexpected result %+v", results[0])
	}
	if !results[1].Success {
		t.Fatalf("index 1: expected success, got %v", results[1].Err)
	}
}

func TestDiagnoseKeyIndexesReportsOpenDespiteCloseFailure(t *testing.T) {
	sim := newSimCard(Security3DES, 5, testMaster)
	card := detect(t, sim)

	// select, challenge and open succeed; the CLOSE exchange fails
	sim.failAt = sim.exchanges + 4
	results := DiagnoseKeyIndexes(sim, card, NewTransportApplication(0x01), testMaster, []byte{0x01})
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected success for index 1, got %+v", results)
	}
	if sim.count(insCloseSession) != 0 {
		t.Fatalf("expected the close to fail at the transport")
	}
	if card.Authenticated() {
		t.Fatalf("expected card unauthenticated after failed close")
	}
}

func TestLoadAllHexKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.hex"), []byte("# issuer\n00112233445566778899AABBCCDDEEFF\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.hex"), []byte("FFEEDDCCBBAA99887766554433221100\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.hex"), []byte("zz\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	keys, err := LoadAllHexKeys(dir)
	if err != nil {
		t.Fatalf("LoadAllHexKeys returned error: %v", err)
	}
	if len(keys) != 2 || keys[0].Name != "a.hex" || keys[1].Name != "b.hex" {
		t.Fatalf("unexpected keys %+v", keys)
	}
	if !bytes.Equal(keys[1].Key, testMaster) {
		t.Fatalf("unexpected key %X", keys[1].Key)
	}
}
