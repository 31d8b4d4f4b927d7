package calypso

import (
	"fmt"
	"log/slog"
)

// DumpRecord is one raw record captured from the card.
type DumpRecord struct {
	SFI    byte
	Record byte
	Data   []byte
}

// Dump is the full readable content of a card.
type Dump struct {
	Card      Card
	Records   []DumpRecord
	Contracts []Contract
	Events    []Event
	Counters  []uint32
}

// DumpSink persists a finished dump. Sinks decide the encoding.
type DumpSink interface {
	WriteDump(d *Dump) error
}

// dumpFiles lists the files captured and how many records each may hold.
var dumpFiles = []struct {
	sfi     byte
	records int
}{
	{SFIEnvironment, 1},
	{SFIContracts, MaxContracts},
	{SFIEvents, MaxEvents},
	{SFICounters, 1},
}

// DumpCard reads every record of the transport application without a secure
// session, decodes what it can and hands the result to sink (when non-nil).
// Missing files and records are skipped.
func DumpCard(tr Transmitter, card *Card, sink DumpSink) (*Dump, error) {
	if card == nil {
		return nil, &InputError{Op: "dump card", Msg: "nil card"}
	}

	var records []DumpRecord
	for _, f := range dumpFiles {
		for rec := 1; rec <= f.records; rec++ {
			data, err := ReadRecord(tr, card, f.sfi, byte(rec))
			if err != nil {
				if IsMissingRecord(err) {
					break
				}
				return nil, fmt.Errorf("dump SFI 0x%02X record %d: %w", f.sfi, rec, err)
			}
			records = append(records, DumpRecord{SFI: f.sfi, Record: byte(rec), Data: data})
		}
	}

	d := NewDump(card, records)
	slog.Debug("card dumped", "records", len(d.Records), "contracts", len(d.Contracts), "events", len(d.Events))
	if sink != nil {
		if err := sink.WriteDump(d); err != nil {
			return d, fmt.Errorf("write dump: %w", err)
		}
	}
	return d, nil
}

// NewDump decodes raw records captured from card. Records that do not parse
// are kept raw and left out of the decoded lists.
func NewDump(card *Card, records []DumpRecord) *Dump {
	d := &Dump{Records: records}
	if card != nil {
		d.Card = *card
		d.Card.ATR = append([]byte(nil), card.ATR...)
	}

	for _, r := range records {
		if isAllZero(r.Data) {
			continue
		}
		switch r.SFI {
		case SFIContracts:
			if c, err := ParseContract(r.Data, d.Card.Type); err == nil {
				d.Contracts = append(d.Contracts, c)
			}
		case SFIEvents:
			if e, err := ParseEvent(r.Data, d.Card.Type); err == nil {
				d.Events = append(d.Events, e)
			}
		case SFICounters:
			for off := 0; off+counterWidth <= len(r.Data); off += counterWidth {
				d.Counters = append(d.Counters, decodeUint24(r.Data[off:]))
			}
		}
	}
	return d
}
