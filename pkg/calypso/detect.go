package calypso

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/skythen/apdu"
)

// CalypsoDFName is the DF name of the Calypso ticketing application.
var CalypsoDFName = []byte("1TIC.ICA")

// FCI tags returned by SELECT APPLICATION.
const (
	tagSerial  uint16 = 0xC7
	tagStartup uint16 = 0x53
)

// startupInfoLen is the length of the startup information block.
const startupInfoLen = 7

// AppInfo is what a Calypso application reports when selected by name.
type AppInfo struct {
	Serial   [8]byte
	Startup  []byte // startup information, nil when absent
	Revision Revision
	Security SecurityLevel
}

// GetSerialNumber selects the Calypso application by DF name and returns the
// 8-byte application serial number from its FCI.
func GetSerialNumber(tr Transmitter) ([8]byte, error) {
	info, err := SelectCalypso(tr)
	if err != nil {
		return [8]byte{}, err
	}
	return info.Serial, nil
}

// SelectCalypso selects the Calypso application by DF name and decodes the
// serial number and startup information from the FCI. Rev1 cards reject
// class 0x00; the select is retried with class 0x94 and the card is
// reported as Rev1.
func SelectCalypso(tr Transmitter) (*AppInfo, error) {
	c := apdu.Capdu{Cla: 0x00, Ins: insSelect, P1: 0x04, Data: CalypsoDFName, Ne: 256}
	fci, sw, err := Transmit(tr, "select calypso", c)
	if err != nil {
		return nil, err
	}
	rev1 := false
	if sw == SWClassNotSupported {
		c.Cla = 0x94
		fci, sw, err = Transmit(tr, "select calypso", c)
		if err != nil {
			return nil, err
		}
		rev1 = true
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: insSelect, SW: sw}
	}

	info := &AppInfo{}
	serial, ok := findTLV(fci, tagSerial)
	if !ok || len(serial) != 8 {
		return nil, &TransportError{Op: "select calypso", Err: fmt.Errorf("FCI has no 8-byte serial number")}
	}
	copy(info.Serial[:], serial)
	if startup, ok := findTLV(fci, tagStartup); ok && len(startup) >= startupInfoLen {
		info.Startup = append([]byte(nil), startup...)
	}
	info.Revision, info.Security = classify(info.Startup, rev1)
	return info, nil
}

// classify derives the product revision from the application type byte of
// the startup information and maps it to a security level.
//
//	class 0x94 only       Rev1       DES
//	app type 0x00..0x1F   Rev2       3DES
//	app type 0x20..0x7F   Rev3       AES-128
//	app type 0x80..0xFF   Rev3 Light AES-128
func classify(startup []byte, rev1 bool) (Revision, SecurityLevel) {
	if rev1 {
		return Rev1, SecurityDES
	}
	if len(startup) < startupInfoLen {
		return Rev2, SecurityNone
	}
	switch appType := startup[2]; {
	case appType < 0x20:
		return Rev2, Security3DES
	case appType < 0x80:
		return Rev3, SecurityAES128
	default:
		return Rev3Light, SecurityAES128
	}
}

// Network identifiers from the environment record (bytes 1..3, BCD).
const (
	networkNavigo     uint32 = 0x250901
	networkLyonTCL    uint32 = 0x250502
	networkMOBIB      uint32 = 0x056001
	networkVivaViagem uint32 = 0x620101
	networkAndante    uint32 = 0x620301
	networkAthens     uint32 = 0x300101
)

// IdentifyCard maps an environment record to a regional card type.
// An empty record means the network is unknown.
func IdentifyCard(env []byte) CardType {
	if len(env) < 4 {
		return CardUnknown
	}
	switch uint32(env[1])<<16 | uint32(env[2])<<8 | uint32(env[3]) {
	case networkNavigo:
		return CardNavigo
	case networkLyonTCL:
		return CardLyonTCL
	case networkMOBIB:
		return CardMOBIB
	case networkVivaViagem:
		return CardVivaViagem
	case networkAndante:
		return CardAndante
	case networkAthens:
		return CardAthens
	default:
		return CardGeneric
	}
}

// DetectCard builds the identity snapshot of the card in the field.
//
// Steps:
//  1. GET DATA for the 4-byte UID.
//  2. ATR from the transport, when it can report one (over MaxATRLen bytes
//     is invalid input).
//  3. SELECT the Calypso DF for serial number and revision.
//  4. READ RECORD of the environment file to identify the network.
//
// A transport failure at any step is returned as-is; a card without a
// Calypso application is a protocol reject.
func DetectCard(tr Transmitter) (*Card, error) {
	uid, err := GetUID(tr)
	if err != nil {
		return nil, err
	}
	card := &Card{}
	copy(card.UID[:], uid)

	if ar, ok := tr.(ATRReader); ok {
		atr, err := ar.ATR()
		if err != nil {
			return nil, &TransportError{Op: "detect card", Err: err}
		}
		if len(atr) > MaxATRLen {
			return nil, &InputError{Op: "detect card", Msg: fmt.Sprintf("ATR too long: %d bytes (max %d)", len(atr), MaxATRLen)}
		}
		card.ATR = append([]byte(nil), atr...)
	}

	info, err := SelectCalypso(tr)
	if err != nil {
		return nil, fmt.Errorf("detect card: %w", err)
	}
	card.Serial = info.Serial
	card.Number = binary.BigEndian.Uint32(info.Serial[4:])
	card.Revision = info.Revision
	card.Security = info.Security

	env, err := ReadEnvironment(tr, card)
	switch {
	case err == nil:
		card.Type = IdentifyCard(env)
	case IsTransportFailure(err):
		return nil, fmt.Errorf("detect card: %w", err)
	default:
		slog.Debug("environment unreadable", "error", err)
		card.Type = CardGeneric
	}

	slog.Debug("card detected",
		"uid", hexUpper(card.UID[:]),
		"serial", hexUpper(card.Serial[:]),
		"type", card.Type.String(),
		"revision", card.Revision.String(),
		"security", card.Security.String())
	return card, nil
}

// findTLV walks BER-TLV data, descending into constructed objects, and
// returns the value of the first object tagged want.
func findTLV(data []byte, want uint16) ([]byte, bool) {
	for len(data) > 0 {
		first := data[0]
		tag, n := uint16(first), 1
		if first&0x1F == 0x1F {
			if len(data) < 2 {
				return nil, false
			}
			tag = tag<<8 | uint16(data[1])
			n = 2
		}
		if len(data) < n+1 {
			return nil, false
		}
		l := int(data[n])
		n++
		switch {
		case l == 0x81:
			if len(data) < n+1 {
				return nil, false
			}
			l = int(data[n])
			n++
		case l > 0x81:
			return nil, false
		}
		if len(data) < n+l {
			return nil, false
		}
		val := data[n : n+l]
		if tag == want {
			return val, true
		}
		if first&0x20 != 0 {
			if v, ok := findTLV(val, want); ok {
				return v, true
			}
		}
		data = data[n+l:]
	}
	return nil, false
}
