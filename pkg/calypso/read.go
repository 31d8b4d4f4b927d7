package calypso

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/skythen/apdu"
)

// RecordSize is the fixed record length of Calypso linear and cyclic files.
const RecordSize = 29

// MaxContracts is the number of contract slots in the contracts file.
const MaxContracts = 4

// MaxEvents bounds a journey-history read.
const MaxEvents = 16

func checkSFI(op string, sfi byte) error {
	if sfi == 0 || sfi > 30 {
		return &InputError{Op: op, Msg: fmt.Sprintf("SFI 0x%02X out of range 0x01..0x1E", sfi)}
	}
	return nil
}

// ReadRecord reads one record of a linear, cyclic or counter file with
// READ RECORD (INS 0xB2) addressed by short file identifier.
// Automatically retries with correct Le if the card returns SW=6Cxx.
// Plain reads need no secure session.
func ReadRecord(tr Transmitter, card *Card, sfi, record byte) ([]byte, error) {
	if err := checkSFI("read record", sfi); err != nil {
		return nil, err
	}
	if record == 0 {
		return nil, &InputError{Op: "read record", Msg: "record numbers start at 1"}
	}
	c := apdu.Capdu{Cla: cla(card), Ins: insReadRecord, P1: record, P2: sfi<<3 | 0x04, Ne: RecordSize}
	data, sw, err := Transmit(tr, "read record", c)
	if err != nil {
		return nil, err
	}
	if (sw & 0xFF00) == SWWrongLe {
		correctLe := int(sw & 0x00FF)
		if correctLe == 0 {
			correctLe = 256
		}
		slog.Warn("wrong Le, retrying", "original_le", c.Ne, "correct_le", correctLe)
		c.Ne = correctLe
		data, sw, err = Transmit(tr, "read record", c)
		if err != nil {
			return nil, err
		}
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: insReadRecord, SW: sw}
	}
	return data, nil
}

// ReadBinary reads length bytes at offset from a transparent file using the
// short-file-identifier form of READ BINARY (INS 0xB0). That form only
// addresses offsets 0..255.
func ReadBinary(tr Transmitter, card *Card, sfi byte, offset uint16, length int) ([]byte, error) {
	if err := checkSFI("read binary", sfi); err != nil {
		return nil, err
	}
	if offset > 0xFF {
		return nil, &InputError{Op: "read binary", Msg: fmt.Sprintf("offset %d beyond short-file addressing range", offset)}
	}
	if length <= 0 || length > 256 {
		return nil, &InputError{Op: "read binary", Msg: fmt.Sprintf("length %d out of range 1..256", length)}
	}
	c := apdu.Capdu{Cla: cla(card), Ins: insReadBinary, P1: 0x80 | sfi, P2: byte(offset), Ne: length}
	data, sw, err := Transmit(tr, "read binary", c)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: insReadBinary, SW: sw}
	}
	return data, nil
}

// ReadEnvironment reads the environment record that names the issuing network.
func ReadEnvironment(tr Transmitter, card *Card) ([]byte, error) {
	return ReadRecord(tr, card, SFIEnvironment, 1)
}

// ReadContract reads and decodes contract slot n (1..MaxContracts).
func ReadContract(tr Transmitter, card *Card, n int) (Contract, error) {
	if n < 1 || n > MaxContracts {
		return Contract{}, &InputError{Op: "read contract", Msg: fmt.Sprintf("contract %d out of range 1..%d", n, MaxContracts)}
	}
	data, err := ReadRecord(tr, card, SFIContracts, byte(n))
	if err != nil {
		return Contract{}, err
	}
	return ParseContract(data, cardType(card))
}

// ReadAllContracts reads up to max contract slots. Missing or all-zero slots
// are unused and skipped; the returned slice holds only populated contracts.
func ReadAllContracts(tr Transmitter, card *Card, max int) ([]Contract, error) {
	if max <= 0 || max > MaxContracts {
		max = MaxContracts
	}
	var out []Contract
	for n := 1; n <= max; n++ {
		data, err := ReadRecord(tr, card, SFIContracts, byte(n))
		if err != nil {
			if IsMissingRecord(err) {
				slog.Debug("contract slot unused", "slot", n)
				continue
			}
			return out, fmt.Errorf("read contract %d: %w", n, err)
		}
		if isAllZero(data) {
			continue
		}
		c, err := ParseContract(data, cardType(card))
		if err != nil {
			return out, fmt.Errorf("contract %d: %w", n, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadEventLog reads up to max history entries, most recent first. The read
// stops early, without error, at the first missing or all-zero record.
func ReadEventLog(tr Transmitter, card *Card, max int) ([]Event, error) {
	if max <= 0 || max > MaxEvents {
		max = MaxEvents
	}
	var out []Event
	for n := 1; n <= max; n++ {
		data, err := ReadRecord(tr, card, SFIEvents, byte(n))
		if err != nil {
			if IsMissingRecord(err) {
				break
			}
			return out, fmt.Errorf("read event %d: %w", n, err)
		}
		if isAllZero(data) {
			break
		}
		e, err := ParseEvent(data, cardType(card))
		if err != nil {
			return out, fmt.Errorf("event %d: %w", n, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// counterWidth is the size of one value in the counters record.
const counterWidth = 3

// ReadCounter returns counter n (1-based) from the counters file. Every
// counter is a 3-byte big-endian value packed in record 1.
func ReadCounter(tr Transmitter, card *Card, n int) (uint32, error) {
	if n < 1 || n > RecordSize/counterWidth {
		return 0, &InputError{Op: "read counter", Msg: fmt.Sprintf("counter %d out of range 1..%d", n, RecordSize/counterWidth)}
	}
	data, err := ReadRecord(tr, card, SFICounters, 1)
	if err != nil {
		return 0, err
	}
	off := (n - 1) * counterWidth
	if len(data) < off+counterWidth {
		return 0, &TransportError{Op: "read counter", Err: fmt.Errorf("counters record too short: %d bytes", len(data))}
	}
	return decodeUint24(data[off:]), nil
}

func decodeUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func encodeUint24(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[1:]
}

func cardType(card *Card) CardType {
	if card == nil {
		return CardUnknown
	}
	return card.Type
}
