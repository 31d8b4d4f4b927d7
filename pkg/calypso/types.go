package calypso

import "fmt"

// CardType identifies the regional deployment a card belongs to.
// The set is closed: record layouts are dispatched on it.
type CardType int

const (
	CardUnknown    CardType = iota
	CardNavigo              // Paris Navigo (RATP / IDFM)
	CardLyonTCL             // Lyon TCL
	CardMOBIB               // Brussels STIB/MIVB
	CardVivaViagem          // Lisbon
	CardAndante             // Porto
	CardAthens              // Athens ATH.ENA
	CardGeneric             // Calypso application with an unrecognised network
)

// CardTypeName returns a human-readable name for a card type.
func CardTypeName(t CardType) string {
	switch t {
	case CardNavigo:
		return "Navigo (Paris)"
	case CardLyonTCL:
		return "TCL (Lyon)"
	case CardMOBIB:
		return "MOBIB (Brussels)"
	case CardVivaViagem:
		return "Viva Viagem (Lisbon)"
	case CardAndante:
		return "Andante (Porto)"
	case CardAthens:
		return "ATH.ENA (Athens)"
	case CardGeneric:
		return "Generic Calypso"
	default:
		return "Unknown"
	}
}

func (t CardType) String() string { return CardTypeName(t) }

// Revision is the Calypso product revision reported by the card.
type Revision int

const (
	Rev1 Revision = iota
	Rev2
	Rev3
	Rev3Light
)

func (r Revision) String() string {
	switch r {
	case Rev1:
		return "Rev1"
	case Rev2:
		return "Rev2"
	case Rev3:
		return "Rev3"
	case Rev3Light:
		return "Rev3 Light"
	default:
		return fmt.Sprintf("Revision(%d)", int(r))
	}
}

// SecurityLevel selects the block cipher family used for a secure session.
type SecurityLevel int

const (
	SecurityNone SecurityLevel = iota
	SecurityDES
	Security3DES
	SecurityAES128
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityNone:
		return "none"
	case SecurityDES:
		return "DES"
	case Security3DES:
		return "3DES"
	case SecurityAES128:
		return "AES-128"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", int(l))
	}
}

// MaxATRLen is the largest answer-to-reset a Card can hold.
const MaxATRLen = 32

// Card is the identity snapshot produced by DetectCard.
// Only a Session changes the authenticated flag.
type Card struct {
	UID      [4]byte
	ATR      []byte
	Number   uint32  // logical card number (low 4 bytes of Serial)
	Serial   [8]byte // application serial number
	Type     CardType
	Revision Revision
	Security SecurityLevel

	authenticated bool
}

// Authenticated reports whether a secure session is currently open on the card.
func (c *Card) Authenticated() bool {
	return c != nil && c.authenticated
}

// Application is a selectable DF on the card.
type Application struct {
	ID       byte   // selects LID 0x20<ID> when DFName is empty
	DFName   []byte // optional DF name, selected by name when set
	KeyIndex byte   // key used to open secure sessions in this DF
	Files    []byte // short file identifiers of the records it contains

	selected bool
}

// Selected reports whether the application is the card's current DF.
func (a *Application) Selected() bool {
	return a != nil && a.selected
}

// Short file identifiers of the transport application.
const (
	SFIEnvironment byte = 0x07
	SFIEvents      byte = 0x08
	SFIContracts   byte = 0x09
	SFICounters    byte = 0x19
)

// NewTransportApplication returns the standard transport DF (ID 0x01) with its
// usual record files.
func NewTransportApplication(keyIndex byte) *Application {
	return &Application{
		ID:       0x01,
		KeyIndex: keyIndex,
		Files:    []byte{SFIEnvironment, SFIEvents, SFIContracts, SFICounters},
	}
}

// Contract is one transit entitlement record.
type Contract struct {
	Number           uint8
	TariffCode       uint16
	ProfileNumber    uint16
	ValidityStart    [3]byte // packed BCD YY MM DD
	ValidityEnd      [3]byte // packed BCD YY MM DD
	TripCounter      uint16
	MinutesRemaining uint16
	Zones            [8]byte
	Active           bool
}

// Event is one journey-history entry.
type Event struct {
	Type         uint8 // 0x01 entry, 0x02 exit, 0x03 inspection
	Date         [3]byte
	Time         [2]byte // packed BCD HH MM
	LocationID   uint16
	ContractUsed uint8
	BalanceAfter uint16
	VehicleID    [2]byte
}

// Event types.
const (
	EventEntry      uint8 = 0x01
	EventExit       uint8 = 0x02
	EventInspection uint8 = 0x03
)
