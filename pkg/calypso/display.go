package calypso

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Upper bounds on the text produced by the formatters.
const (
	MaxContractText = 256
	MaxEventText    = 128
)

// FormatDate renders a BCD YY MM DD date as DD/MM/YY.
func FormatDate(d [3]byte) string {
	return fmt.Sprintf("%02X/%02X/%02X", d[2], d[1], d[0])
}

// zoneList renders the set bits of a zone bitmap as 1-based zone numbers.
func zoneList(zones []byte) string {
	var parts []string
	for i, b := range zones {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				parts = append(parts, fmt.Sprintf("%d", i*8+bit+1))
			}
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// FormatContract renders a contract for display. The result never exceeds
// MaxContractText bytes and the active marker always matches c.Active.
func FormatContract(c Contract, t CardType) string {
	status := "inactive"
	if c.Active {
		status = "active"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Contract #%d [%s]\n", c.Number, status)
	fmt.Fprintf(&b, "Tariff: %04X  Profile: %d\n", c.TariffCode, c.ProfileNumber)
	fmt.Fprintf(&b, "Valid from: %s\n", FormatDate(c.ValidityStart))
	fmt.Fprintf(&b, "Valid until: %s\n", FormatDate(c.ValidityEnd))
	fmt.Fprintf(&b, "Trips: %d  Minutes: %d\n", c.TripCounter, c.MinutesRemaining)
	fmt.Fprintf(&b, "Zones: %s", zoneList(c.Zones[:ZoneWidth(t)]))
	return truncate(b.String(), MaxContractText)
}

// EventTypeName returns a short label for an event type.
func EventTypeName(t uint8) string {
	switch t {
	case EventEntry:
		return "Entry"
	case EventExit:
		return "Exit"
	case EventInspection:
		return "Inspection"
	default:
		return fmt.Sprintf("Event 0x%02X", t)
	}
}

// FormatEvent renders an event for display in at most MaxEventText bytes.
// Navigo locations are resolved to station names when known.
func FormatEvent(e Event, t CardType) string {
	loc := fmt.Sprintf("0x%04X", e.LocationID)
	if t == CardNavigo {
		if name, ok := DecodeNavigoStation(e.LocationID); ok {
			loc = name
		}
	}
	s := fmt.Sprintf("%s %s %02X:%02X\nAt: %s\nContract #%d  Balance: %d  Vehicle: %02X%02X",
		EventTypeName(e.Type), FormatDate(e.Date), e.Time[0], e.Time[1],
		loc, e.ContractUsed, e.BalanceAfter, e.VehicleID[0], e.VehicleID[1])
	return truncate(s, MaxEventText)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
