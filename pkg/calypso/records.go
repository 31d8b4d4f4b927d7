package calypso

import (
	"encoding/binary"
	"fmt"
)

// Minimum raw lengths for the record codec.
const (
	ContractMinLen = 24
	EventMinLen    = 13
)

// Standard contract layout (offsets into the raw record):
//
//	0      contract number
//	1..2   tariff code (BE)
//	3..4   profile number (BE)
//	5..7   validity start, BCD YY MM DD
//	8..10  validity end, BCD YY MM DD
//	11..12 trip counter (BE)
//	13..14 minutes remaining (BE)
//	15..22 zone bitmap (width depends on the network)
//	23     status flags
//
// Standard event layout:
//
//	0     event type
//	1..3  date, BCD YY MM DD
//	4..5  time, BCD HH MM
//	6..7  location id (BE)
//	8     contract used
//	9..10 balance after (BE)
//	11..12 vehicle id
type recordLayout struct {
	zoneWidth  int  // bytes of zone bitmap stored on the card
	activeMask byte // bit of the status byte meaning "active"
	dayFirst   bool // dates stored DD MM YY on the card
	locationLE bool // event location stored little-endian
}

var standardLayout = recordLayout{zoneWidth: 8, activeMask: 0x01}

// layouts is the closed dispatch table from card type to record layout.
// Types missing from the table use standardLayout.
var layouts = map[CardType]recordLayout{
	CardNavigo:     {zoneWidth: 2, activeMask: 0x01, locationLE: true},
	CardMOBIB:      {zoneWidth: 8, activeMask: 0x01, dayFirst: true},
	CardVivaViagem: {zoneWidth: 4, activeMask: 0x80},
	CardAndante:    {zoneWidth: 4, activeMask: 0x80},
}

func layoutFor(t CardType) recordLayout {
	if l, ok := layouts[t]; ok {
		return l
	}
	return standardLayout
}

// ZoneWidth returns how many zone bitmap bytes a card type stores.
func ZoneWidth(t CardType) int {
	return layoutFor(t).zoneWidth
}

func readDate(dst *[3]byte, src []byte, dayFirst bool) {
	if dayFirst {
		dst[0], dst[1], dst[2] = src[2], src[1], src[0]
		return
	}
	copy(dst[:], src[:3])
}

func writeDate(dst []byte, src [3]byte, dayFirst bool) {
	if dayFirst {
		dst[0], dst[1], dst[2] = src[2], src[1], src[0]
		return
	}
	copy(dst[:3], src[:])
}

// ParseContract decodes a raw contract record for the given card type.
// Dates come back as BCD YY MM DD whatever the on-card order.
func ParseContract(raw []byte, t CardType) (Contract, error) {
	if len(raw) < ContractMinLen {
		return Contract{}, &InputError{Op: "parse contract", Msg: fmt.Sprintf("record too short: %d bytes, need %d", len(raw), ContractMinLen)}
	}
	l := layoutFor(t)
	c := Contract{
		Number:           raw[0],
		TariffCode:       binary.BigEndian.Uint16(raw[1:3]),
		ProfileNumber:    binary.BigEndian.Uint16(raw[3:5]),
		TripCounter:      binary.BigEndian.Uint16(raw[11:13]),
		MinutesRemaining: binary.BigEndian.Uint16(raw[13:15]),
		Active:           raw[23]&l.activeMask != 0,
	}
	readDate(&c.ValidityStart, raw[5:8], l.dayFirst)
	readDate(&c.ValidityEnd, raw[8:11], l.dayFirst)
	copy(c.Zones[:l.zoneWidth], raw[15:15+l.zoneWidth])
	return c, nil
}

// EncodeContract is the inverse of ParseContract. It returns a full
// RecordSize record; zone bytes beyond the network's width are not stored.
func EncodeContract(c Contract, t CardType) []byte {
	l := layoutFor(t)
	raw := make([]byte, RecordSize)
	raw[0] = c.Number
	binary.BigEndian.PutUint16(raw[1:3], c.TariffCode)
	binary.BigEndian.PutUint16(raw[3:5], c.ProfileNumber)
	writeDate(raw[5:8], c.ValidityStart, l.dayFirst)
	writeDate(raw[8:11], c.ValidityEnd, l.dayFirst)
	binary.BigEndian.PutUint16(raw[11:13], c.TripCounter)
	binary.BigEndian.PutUint16(raw[13:15], c.MinutesRemaining)
	copy(raw[15:15+l.zoneWidth], c.Zones[:l.zoneWidth])
	if c.Active {
		raw[23] = l.activeMask
	}
	return raw
}

// ParseEvent decodes a raw event record for the given card type.
func ParseEvent(raw []byte, t CardType) (Event, error) {
	if len(raw) < EventMinLen {
		return Event{}, &InputError{Op: "parse event", Msg: fmt.Sprintf("record too short: %d bytes, need %d", len(raw), EventMinLen)}
	}
	l := layoutFor(t)
	e := Event{
		Type:         raw[0],
		ContractUsed: raw[8],
		BalanceAfter: binary.BigEndian.Uint16(raw[9:11]),
	}
	readDate(&e.Date, raw[1:4], l.dayFirst)
	copy(e.Time[:], raw[4:6])
	if l.locationLE {
		e.LocationID = binary.LittleEndian.Uint16(raw[6:8])
	} else {
		e.LocationID = binary.BigEndian.Uint16(raw[6:8])
	}
	copy(e.VehicleID[:], raw[11:13])
	return e, nil
}

// EncodeEvent is the inverse of ParseEvent.
func EncodeEvent(e Event, t CardType) []byte {
	l := layoutFor(t)
	raw := make([]byte, RecordSize)
	raw[0] = e.Type
	writeDate(raw[1:4], e.Date, l.dayFirst)
	copy(raw[4:6], e.Time[:])
	if l.locationLE {
		binary.LittleEndian.PutUint16(raw[6:8], e.LocationID)
	} else {
		binary.BigEndian.PutUint16(raw[6:8], e.LocationID)
	}
	raw[8] = e.ContractUsed
	binary.BigEndian.PutUint16(raw[9:11], e.BalanceAfter)
	copy(raw[11:13], e.VehicleID[:])
	return raw
}
