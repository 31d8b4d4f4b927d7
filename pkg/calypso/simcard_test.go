package calypso

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/skythen/apdu"
)

// simCard is an in-memory Calypso card. It keeps records and counters,
// answers the secure session handshake and checks every command MAC.
type simCard struct {
	present bool
	uid     []byte
	atr     []byte
	serial  [8]byte
	startup []byte
	rev1    bool
	level   SecurityLevel
	keys    map[byte][]byte   // key index -> issuer master key
	records map[byte][][]byte // SFI -> records, record 1 first

	exchanges int
	ins       []byte // INS of every command received
	failAt    int    // exchange number that fails with a transport error (0 = never)

	selected  bool
	cc        []byte
	sk        []byte
	inSession bool
	ctr       uint16
	nextCC    byte
}

var errCardRemoved = errors.New("card removed from field")

func newSimCard(level SecurityLevel, number uint32, master []byte) *simCard {
	s := &simCard{
		present: true,
		uid:     []byte{0x1A, 0x2B, 0x3C, 0x4D},
		atr:     []byte{0x3B, 0x88, 0x80, 0x01, 0x00, 0x00, 0x00, 0x00, 0x33, 0x81, 0x81, 0x00, 0x3A},
		level:   level,
		keys:    map[byte][]byte{0x01: master},
		records: map[byte][][]byte{
			SFIEnvironment: {padRecord([]byte{0x01, 0x25, 0x09, 0x01})},
			SFIContracts:   {make([]byte, RecordSize), make([]byte, RecordSize), make([]byte, RecordSize), make([]byte, RecordSize)},
			SFIEvents:      {make([]byte, RecordSize), make([]byte, RecordSize), make([]byte, RecordSize)},
			SFICounters:    {make([]byte, RecordSize)},
		},
	}
	binary.BigEndian.PutUint32(s.serial[4:], number)
	s.serial[0] = 0x00
	s.serial[1] = 0x00
	s.serial[2] = 0x00
	s.serial[3] = 0x19
	switch level {
	case SecurityDES:
		s.rev1 = true
	case Security3DES:
		s.startup = []byte{0x0A, 0x3C, 0x11, 0x32, 0x14, 0x10, 0x01}
	case SecurityAES128:
		s.startup = []byte{0x0A, 0x3C, 0x2F, 0x32, 0x14, 0x10, 0x01}
	}
	return s
}

func padRecord(b []byte) []byte {
	out := make([]byte, RecordSize)
	copy(out, b)
	return out
}

func (s *simCard) setCounter(n int, v uint32) {
	copy(s.records[SFICounters][0][(n-1)*3:], encodeUint24(v))
}

func (s *simCard) counter(n int) uint32 {
	return decodeUint24(s.records[SFICounters][0][(n-1)*3:])
}

func (s *simCard) count(ins byte) int {
	n := 0
	for _, v := range s.ins {
		if v == ins {
			n++
		}
	}
	return n
}

func (s *simCard) fci() []byte {
	inner := []byte{0xC7, 0x08}
	inner = append(inner, s.serial[:]...)
	if s.startup != nil {
		inner = append(inner, 0x53, byte(len(s.startup)))
		inner = append(inner, s.startup...)
	}
	prop := append([]byte{0xBF, 0x0C, byte(len(inner))}, inner...)
	a5 := append([]byte{0xA5, byte(len(prop))}, prop...)
	name := append([]byte{0x84, byte(len(CalypsoDFName))}, CalypsoDFName...)
	body := append(name, a5...)
	return append([]byte{0x6F, byte(len(body))}, body...)
}

// command is a decoded C-APDU.
type command struct {
	Cla, Ins, P1, P2 byte
	Data             []byte
	Ne               int
}

func reply(data []byte, sw uint16) ([]byte, error) {
	r := apdu.Rapdu{Data: data, SW1: byte(sw >> 8), SW2: byte(sw)}
	return r.Bytes()
}

func (s *simCard) Transmit(raw []byte) ([]byte, error) {
	s.exchanges++
	if !s.present || (s.failAt > 0 && s.exchanges >= s.failAt) {
		return nil, errCardRemoved
	}
	parsed, err := apdu.ParseCapdu(raw)
	if err != nil {
		return reply(nil, SWWrongLength)
	}
	c := &command{Cla: parsed.Cla, Ins: parsed.Ins, P1: parsed.P1, P2: parsed.P2, Data: parsed.Data, Ne: parsed.Ne}
	s.ins = append(s.ins, c.Ins)

	if c.Cla == 0xFF && c.Ins == 0xCA {
		return reply(s.uid, SWSuccess)
	}
	if s.rev1 && c.Cla != 0x94 {
		return reply(nil, SWClassNotSupported)
	}

	switch c.Ins {
	case insSelect:
		s.dropSession()
		s.selected = false
		switch {
		case c.P1 == 0x04 && bytes.Equal(c.Data, CalypsoDFName):
		case c.P1 == 0x00 && bytes.Equal(c.Data, []byte{0x20, 0x01}):
		default:
			return reply(nil, SWFileNotFound)
		}
		s.selected = true
		return reply(s.fci(), SWSuccess)

	case insGetChallenge:
		if !s.selected {
			return reply(nil, SWConditionsNotMet)
		}
		s.nextCC++
		s.cc = bytes.Repeat([]byte{s.nextCC}, challengeSize)
		return reply(s.cc, SWSuccess)

	case insOpenSession:
		return s.open(c)

	case insReadRecord:
		data, sw := s.record(c.P2>>3, c.P1)
		return reply(data, sw)

	case insReadBinary:
		data, sw := s.record(c.P1&0x1F, 1)
		if sw != SWSuccess {
			return reply(nil, sw)
		}
		off := int(c.P2)
		if off >= len(data) {
			return reply(nil, SWWrongP1P2)
		}
		end := off + c.Ne
		if end > len(data) {
			end = len(data)
		}
		return reply(data[off:end], SWSuccess)

	case insUpdateRecord, insIncrease, insDecrease, insCloseSession:
		return s.secure(c)
	}
	return reply(nil, SWInsNotSupported)
}

func (s *simCard) record(sfi, rec byte) ([]byte, uint16) {
	recs, ok := s.records[sfi]
	if !ok {
		return nil, SWFileNotFound
	}
	if rec == 0 || int(rec) > len(recs) {
		return nil, SWRecordNotFound
	}
	return append([]byte(nil), recs[rec-1]...), SWSuccess
}

func (s *simCard) dropSession() {
	s.inSession = false
	s.sk = nil
	s.ctr = 0
}

func (s *simCard) open(c *command) ([]byte, error) {
	if !s.selected || s.cc == nil {
		return reply(nil, SWConditionsNotMet)
	}
	cc := s.cc
	s.cc = nil
	master, ok := s.keys[c.P2]
	if !ok {
		return reply(nil, SWWrongP1P2)
	}
	if len(c.Data) < challengeSize+BlockSize(s.level) {
		return reply(nil, SWWrongLength)
	}
	rc := c.Data[:challengeSize]
	var d [8]byte
	copy(d[4:], s.serial[4:])
	dk, err := Diversify(master, d[:], s.level)
	if err != nil {
		return nil, err
	}
	sk, err := deriveSessionKey(s.level, dk, cc, rc)
	if err != nil {
		return nil, err
	}
	want, _ := readerCryptogram(s.level, sk, rc, cc)
	if !bytes.Equal(want, c.Data[challengeSize:]) {
		return reply(nil, SWIncorrectSignature)
	}
	s.sk = sk
	s.inSession = true
	s.ctr = 0
	resp, _ := cardCryptogram(s.level, sk, rc, cc)
	return reply(resp, SWSuccess)
}

func (s *simCard) secure(c *command) ([]byte, error) {
	if !s.inSession {
		return reply(nil, SWSecurityNotSatisfied)
	}
	n := macSize(s.level)
	if len(c.Data) < n {
		return reply(nil, SWWrongLength)
	}
	body := c.Data[:len(c.Data)-n]
	msg := append([]byte{byte(s.ctr >> 8), byte(s.ctr), c.Cla, c.Ins, c.P1, c.P2}, body...)
	mac, err := SessionMAC(s.level, s.sk, msg)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(mac, c.Data[len(c.Data)-n:]) {
		s.dropSession()
		return reply(nil, SWIncorrectSignature)
	}

	switch c.Ins {
	case insCloseSession:
		s.dropSession()
		return reply(nil, SWSuccess)
	case insUpdateRecord:
		sfi := c.P2 >> 3
		if _, sw := s.record(sfi, c.P1); sw != SWSuccess {
			return reply(nil, sw)
		}
		s.records[sfi][c.P1-1] = padRecord(body)
		s.ctr++
		return reply(nil, SWSuccess)
	default:
		if len(body) != 3 || c.P1 == 0 || int(c.P1) > RecordSize/3 {
			return reply(nil, SWWrongP1P2)
		}
		ctrNo := int(c.P1)
		v, amount := s.counter(ctrNo), decodeUint24(body)
		if c.Ins == insDecrease {
			if amount > v {
				return reply(nil, SWCounterRange)
			}
			v -= amount
		} else {
			if v+amount > MaxCounterAmount {
				return reply(nil, SWCounterRange)
			}
			v += amount
		}
		s.setCounter(ctrNo, v)
		s.ctr++
		return reply(encodeUint24(v), SWSuccess)
	}
}
