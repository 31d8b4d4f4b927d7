package calypso

import (
	"fmt"
	"log/slog"
)

// MaxCounterAmount is the largest increase or decrease a single command carries.
const MaxCounterAmount = 0xFFFFFF

// UpdateRecord overwrites record rec of file sfi inside the secure session.
// The command is protected by the session MAC.
func (s *Session) UpdateRecord(sfi, rec byte, data []byte) error {
	if s.state != StateAuthenticated {
		return &StateError{Op: "update record", State: s.state}
	}
	if err := checkSFI("update record", sfi); err != nil {
		return err
	}
	if rec == 0 {
		return &InputError{Op: "update record", Msg: "record numbers start at 1"}
	}
	if len(data) == 0 || len(data) > RecordSize {
		return &InputError{Op: "update record", Msg: fmt.Sprintf("record data must be 1..%d bytes, got %d", RecordSize, len(data))}
	}
	if _, err := s.secureCommand("update record", insUpdateRecord, rec, sfi<<3|0x04, data); err != nil {
		return err
	}
	slog.Debug("record updated", "sfi", fmt.Sprintf("0x%02X", sfi), "record", rec, "len", len(data))
	return nil
}

// IncreaseCounter adds amount to counter n (1-based) and returns the value
// the card reports afterwards.
func (s *Session) IncreaseCounter(n byte, amount uint32) (uint32, error) {
	return s.counterCommand("increase counter", insIncrease, n, amount)
}

// DecreaseCounter subtracts amount from counter n (1-based) and returns the
// value the card reports afterwards. The card enforces the lower bound.
func (s *Session) DecreaseCounter(n byte, amount uint32) (uint32, error) {
	return s.counterCommand("decrease counter", insDecrease, n, amount)
}

func (s *Session) counterCommand(op string, ins, n byte, amount uint32) (uint32, error) {
	if s.state != StateAuthenticated {
		return 0, &StateError{Op: op, State: s.state}
	}
	if n == 0 {
		return 0, &InputError{Op: op, Msg: "counter numbers start at 1"}
	}
	if amount > MaxCounterAmount {
		return 0, &InputError{Op: op, Msg: fmt.Sprintf("amount %d exceeds 0x%06X", amount, MaxCounterAmount)}
	}
	resp, err := s.secureCommand(op, ins, n, SFICounters<<3, encodeUint24(amount))
	if err != nil {
		return 0, err
	}
	if len(resp) < counterWidth {
		return 0, &TransportError{Op: op, Err: fmt.Errorf("counter response too short: %d bytes", len(resp))}
	}
	v := decodeUint24(resp)
	slog.Debug("counter updated", "op", op, "counter", n, "amount", amount, "value", v)
	return v, nil
}
