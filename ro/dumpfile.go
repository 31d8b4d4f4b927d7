package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/barnettlynn/calypsotools/pkg/calypso"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	dumpFormatVersion = 1
	dumpFileExt       = ".cbor.zst"
)

// dumpFile is the on-disk form of a card dump: CBOR, zstd-compressed.
type dumpFile struct {
	Version    int          `cbor:"version"`
	ID         string       `cbor:"id"`
	CapturedAt time.Time    `cbor:"captured_at"`
	Reader     string       `cbor:"reader,omitempty"`
	Card       dumpCard     `cbor:"card"`
	Records    []dumpRecord `cbor:"records"`
}

type dumpCard struct {
	UID      []byte `cbor:"uid"`
	ATR      []byte `cbor:"atr,omitempty"`
	Number   uint32 `cbor:"number"`
	Serial   []byte `cbor:"serial"`
	Type     int    `cbor:"type"`
	TypeName string `cbor:"type_name"`
	Revision int    `cbor:"revision"`
	Security int    `cbor:"security"`
}

type dumpRecord struct {
	SFI    uint8  `cbor:"sfi"`
	Record uint8  `cbor:"record"`
	Data   []byte `cbor:"data"`
	CRC    uint16 `cbor:"crc"`
}

// fileSink writes each dump it receives to a new file in dir.
type fileSink struct {
	dir    string
	reader string
	now    func() time.Time
	last   string
}

func newFileSink(dir, reader string) (*fileSink, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dump dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dump dir %s is not a directory", dir)
	}
	return &fileSink{dir: dir, reader: reader, now: time.Now}, nil
}

// WriteDump implements calypso.DumpSink.
func (s *fileSink) WriteDump(d *calypso.Dump) error {
	f := newDumpFile(d, s.reader, s.now())
	path := filepath.Join(s.dir, fmt.Sprintf("calypso-%d-%s%s", d.Card.Number, f.ID[:8], dumpFileExt))

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	if err := encodeDumpFile(out, f); err != nil {
		out.Close()
		_ = os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close dump file: %w", err)
	}
	s.last = path
	slog.Debug("dump written", "path", path, "id", f.ID, "records", len(f.Records))
	return nil
}

func newDumpFile(d *calypso.Dump, reader string, at time.Time) *dumpFile {
	f := &dumpFile{
		Version:    dumpFormatVersion,
		ID:         uuid.New().String(),
		CapturedAt: at.UTC(),
		Reader:     reader,
		Card: dumpCard{
			UID:      append([]byte(nil), d.Card.UID[:]...),
			ATR:      append([]byte(nil), d.Card.ATR...),
			Number:   d.Card.Number,
			Serial:   append([]byte(nil), d.Card.Serial[:]...),
			Type:     int(d.Card.Type),
			TypeName: d.Card.Type.String(),
			Revision: int(d.Card.Revision),
			Security: int(d.Card.Security),
		},
	}
	for _, r := range d.Records {
		f.Records = append(f.Records, dumpRecord{
			SFI:    r.SFI,
			Record: r.Record,
			Data:   append([]byte(nil), r.Data...),
			CRC:    calypso.CRC(r.Data),
		})
	}
	return f
}

func encodeDumpFile(w io.Writer, f *dumpFile) error {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return fmt.Errorf("cbor enc mode: %w", err)
	}
	payload, err := em.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		_ = zw.Close()
		return fmt.Errorf("compress dump: %w", err)
	}
	return zw.Close()
}

func decodeDumpFile(r io.Reader) (*dumpFile, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, fmt.Errorf("decompress dump: %w", err)
	}

	dm, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	var f dumpFile
	if err := dm.Unmarshal(buf.Bytes(), &f); err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}

	if f.Version != dumpFormatVersion {
		return nil, fmt.Errorf("unsupported dump version %d", f.Version)
	}
	if _, err := uuid.Parse(f.ID); err != nil {
		return nil, fmt.Errorf("dump id: %w", err)
	}
	for _, rec := range f.Records {
		if got := calypso.CRC(rec.Data); got != rec.CRC {
			return nil, fmt.Errorf("SFI 0x%02X record %d: CRC %04X, stored %04X", rec.SFI, rec.Record, got, rec.CRC)
		}
	}
	return &f, nil
}

func loadDumpFile(path string) (*dumpFile, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return decodeDumpFile(in)
}

// Dump rebuilds the decoded view of a stored dump.
func (f *dumpFile) Dump() (*calypso.Dump, error) {
	if len(f.Card.UID) != 4 || len(f.Card.Serial) != 8 {
		return nil, fmt.Errorf("dump card identity is malformed")
	}
	card := &calypso.Card{
		ATR:      f.Card.ATR,
		Number:   f.Card.Number,
		Type:     calypso.CardType(f.Card.Type),
		Revision: calypso.Revision(f.Card.Revision),
		Security: calypso.SecurityLevel(f.Card.Security),
	}
	copy(card.UID[:], f.Card.UID)
	copy(card.Serial[:], f.Card.Serial)

	records := make([]calypso.DumpRecord, len(f.Records))
	for i, r := range f.Records {
		records[i] = calypso.DumpRecord{SFI: r.SFI, Record: r.Record, Data: r.Data}
	}
	return calypso.NewDump(card, records), nil
}
