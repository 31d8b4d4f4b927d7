package calypso

import (
	"errors"
	"fmt"
)

// Status word constants for ISO 7816 and Calypso responses
const (
	SWSuccess               = 0x9000 // success
	SWWrongLength           = 0x6700 // Lc/Le inconsistent with the command
	SWCounterRange          = 0x6400 // counter would leave its range
	SWMemoryFailure         = 0x6581 // EEPROM write failed
	SWSecurityNotSatisfied  = 0x6982 // command requires an open secure session
	SWConditionsNotMet      = 0x6985 // conditions of use not satisfied
	SWIncorrectSignature    = 0x6988 // MAC or cryptogram rejected
	SWFileNotFound          = 0x6A82 // file (or application) not found
	SWRecordNotFound        = 0x6A83 // record not found
	SWWrongP1P2             = 0x6B00 // P1/P2 out of range
	SWWrongLe               = 0x6C00 // Wrong Le (mask: 0x6C00, correct Le in SW2)
	SWInsNotSupported       = 0x6D00 // instruction not supported
	SWClassNotSupported     = 0x6E00 // class byte rejected (Rev1 cards want 0x94)
	SWAuthenticationBlocked = 0x6983 // key blocked after too many failures
)

// ErrorKind classifies every failure this package returns.
type ErrorKind int

const (
	KindUnknown          ErrorKind = iota
	KindTransport                  // reader or card stopped responding
	KindProtocolReject             // card returned a well-formed refusal
	KindInvalidInput               // caller supplied bad parameters
	KindNotAuthenticated           // operation needs an open secure session
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport failure"
	case KindProtocolReject:
		return "protocol reject"
	case KindInvalidInput:
		return "invalid input"
	case KindNotAuthenticated:
		return "not authenticated"
	default:
		return "unknown"
	}
}

// TransportError reports a reader or transmission failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SWError represents a status word error from the card.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

// InputError reports parameters rejected before anything was sent to the card.
type InputError struct {
	Op  string
	Msg string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Msg)
}

// StateError reports an operation attempted without an open secure session.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not authenticated (session %s)", e.Op, e.State)
}

// AuthError represents a secure session opening failure at a specific step.
type AuthError struct {
	Step    string // "diversify", "challenge" or "authenticate"
	SW      uint16 // Status word (if applicable)
	RespLen int    // Response length (if applicable)
	Cause   error  // Underlying error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("auth %s failed (SW=%04X len=%d)", e.Step, e.SW, e.RespLen)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyAuthError extracts details from an AuthError.
func ClassifyAuthError(err error) (step string, sw uint16, respLen int, ok bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Step, authErr.SW, authErr.RespLen, true
	}
	return "", 0, 0, false
}

// KindOf maps an error returned by this package to its ErrorKind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	var se *StateError
	if errors.As(err, &se) {
		return KindNotAuthenticated
	}
	var ie *InputError
	if errors.As(err, &ie) {
		return KindInvalidInput
	}
	var swErr *SWError
	if errors.As(err, &swErr) {
		return KindProtocolReject
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		// bad cryptogram or malformed challenge
		return KindProtocolReject
	}
	return KindUnknown
}

// IsTransportFailure reports whether err came from the reader or transmission path.
func IsTransportFailure(err error) bool { return KindOf(err) == KindTransport }

// IsProtocolReject reports whether the card refused the command.
func IsProtocolReject(err error) bool { return KindOf(err) == KindProtocolReject }

// IsInvalidInput reports whether the caller's parameters were rejected locally.
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }

// IsNotAuthenticated reports whether the operation needed an open secure session.
func IsNotAuthenticated(err error) bool { return KindOf(err) == KindNotAuthenticated }

// StatusWord returns the card status word carried by err, if any.
func StatusWord(err error) (uint16, bool) {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW, true
	}
	var ae *AuthError
	if errors.As(err, &ae) && ae.SW != 0 {
		return ae.SW, true
	}
	return 0, false
}

// swDescription returns a human-readable description of a status word.
func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWWrongLength:
		return "wrong length"
	case SWCounterRange:
		return "counter out of range"
	case SWMemoryFailure:
		return "memory failure"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWAuthenticationBlocked:
		return "authentication blocked"
	case SWConditionsNotMet:
		return "conditions of use not satisfied"
	case SWIncorrectSignature:
		return "incorrect MAC or cryptogram"
	case SWFileNotFound:
		return "file not found"
	case SWRecordNotFound:
		return "record not found"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWInsNotSupported:
		return "instruction not supported"
	case SWClassNotSupported:
		return "class not supported"
	default:
		if (sw & 0xFF00) == SWWrongLe {
			return fmt.Sprintf("wrong Le (correct Le=%d)", sw&0xFF)
		}
		return "unknown error"
	}
}

// IsLengthError checks if an error is a length-related status word error.
func IsLengthError(err error) bool {
	sw, ok := StatusWord(err)
	return ok && (sw == SWWrongLength || (sw&0xFF00) == SWWrongLe)
}

// IsAuthError checks if an error is an authentication-related status word error.
func IsAuthError(err error) bool {
	sw, ok := StatusWord(err)
	return ok && (sw == SWIncorrectSignature || sw == SWSecurityNotSatisfied || sw == SWAuthenticationBlocked)
}

// IsMissingRecord checks if an error means the addressed file or record does not exist.
func IsMissingRecord(err error) bool {
	sw, ok := StatusWord(err)
	return ok && (sw == SWFileNotFound || sw == SWRecordNotFound)
}

// SwOK checks if a status word indicates success.
func SwOK(sw uint16) bool {
	return sw == SWSuccess
}
