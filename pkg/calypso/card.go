package calypso

import (
	"fmt"

	"github.com/skythen/apdu"
)

// Transmitter abstracts card transmit behavior for real PC/SC cards and test doubles.
// A Transmitter only moves bytes: framing and status handling live in this package.
type Transmitter interface {
	Transmit(apdu []byte) ([]byte, error)
}

// ATRReader is implemented by transports that can report the card's answer-to-reset.
type ATRReader interface {
	ATR() ([]byte, error)
}

// Transmit encodes c, sends it to the card and extracts the status word.
// Returns (response_data, status_word, error).
// The response data does NOT include the trailing SW bytes.
// Transport and framing failures are returned as *TransportError.
func Transmit(tr Transmitter, op string, c apdu.Capdu) ([]byte, uint16, error) {
	if tr == nil {
		return nil, 0, &TransportError{Op: op, Err: fmt.Errorf("no transport")}
	}
	raw, err := c.Bytes()
	if err != nil {
		return nil, 0, &InputError{Op: op, Msg: fmt.Sprintf("encode command: %v", err)}
	}
	resp, err := tr.Transmit(raw)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	if len(resp) < 2 {
		return nil, 0, &TransportError{Op: op, Err: fmt.Errorf("short response: %d bytes", len(resp))}
	}
	r, err := apdu.ParseRapdu(resp)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	return r.Data, uint16(r.SW1)<<8 | uint16(r.SW2), nil
}

// GetUID retrieves the card UID via the PC/SC GET DATA pseudo-command (FF CA 00 00).
// Tries with Le=0x00 (wildcard) and Le=0x04 (PUPI length).
func GetUID(tr Transmitter) ([]byte, error) {
	var lastErr error
	for _, ne := range []int{256, 4} {
		data, sw, err := Transmit(tr, "get uid", apdu.Capdu{Cla: 0xFF, Ins: 0xCA, Ne: ne})
		if err != nil {
			if IsTransportFailure(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if SwOK(sw) && len(data) > 0 {
			return data, nil
		}
		lastErr = &SWError{Cmd: 0xCA, SW: sw}
	}
	return nil, fmt.Errorf("UID not available via GET DATA: %w", lastErr)
}

// cla returns the class byte for a card. Rev1 cards only accept the
// proprietary class 0x94.
func cla(card *Card) byte {
	if card != nil && card.Revision == Rev1 {
		return 0x94
	}
	return 0x00
}
