package calypso

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/skythen/apdu"
)

// State is the position of a Session in its lifecycle.
//
//	Idle --select--> Selected --open--> Authenticating --ok--> Authenticated --close--> Closed
//	                                                    \--fail--> Idle
type State int

const (
	StateIdle State = iota
	StateSelected
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Calypso instruction bytes
const (
	insSelect        byte = 0xA4
	insGetChallenge  byte = 0x84
	insOpenSession   byte = 0x82
	insCloseSession  byte = 0x8E
	insReadRecord    byte = 0xB2
	insReadBinary    byte = 0xB0
	insUpdateRecord  byte = 0xDC
	insIncrease      byte = 0x32
	insDecrease      byte = 0x30
	challengeSize         = 8
)

// AuthContext carries the key material of one secure session attempt.
// Clear zeroes every secret; a Session calls it on failure and on close.
type AuthContext struct {
	IssuerKey       [KeySize]byte
	SessionKey      [KeySize]byte
	Diversifier     [DiversifierSize]byte
	ReaderChallenge [challengeSize]byte
	CardChallenge   [challengeSize]byte
	KeyIndex        byte
	Security        SecurityLevel
	Authenticated   bool
}

// NewAuthContext prepares an AuthContext for the given issuer key.
// 8-byte keys are accepted for single DES and stored in the first half.
func NewAuthContext(issuerKey []byte, level SecurityLevel) (*AuthContext, error) {
	if level == SecurityNone {
		return nil, &InputError{Op: "auth context", Msg: "security level none cannot open a secure session"}
	}
	switch {
	case len(issuerKey) == KeySize:
	case len(issuerKey) == 8 && level == SecurityDES:
	default:
		return nil, &InputError{Op: "auth context", Msg: fmt.Sprintf("issuer key must be %d bytes, got %d", KeySize, len(issuerKey))}
	}
	a := &AuthContext{Security: level}
	copy(a.IssuerKey[:], issuerKey)
	if len(issuerKey) == 8 {
		copy(a.IssuerKey[8:], issuerKey)
	}
	return a, nil
}

// Clear zeroes every secret held by the context, the issuer key included,
// and drops the authenticated flag.
func (a *AuthContext) Clear() {
	if a == nil {
		return
	}
	zero(a.IssuerKey[:])
	zero(a.SessionKey[:])
	zero(a.ReaderChallenge[:])
	zero(a.CardChallenge[:])
	zero(a.Diversifier[:])
	a.Authenticated = false
}

// Session drives the secure-session state machine for one card.
// A Session is not safe for concurrent use.
type Session struct {
	tr     Transmitter
	card   *Card
	app    *Application
	auth   *AuthContext
	state  State
	cmdCtr uint16
	rand   io.Reader
}

// NewSession returns an Idle session bound to a transport and a detected card.
func NewSession(tr Transmitter, card *Card) *Session {
	return &Session{tr: tr, card: card, rand: rand.Reader}
}

// SetRandom replaces the source of reader challenges.
func (s *Session) SetRandom(r io.Reader) { s.rand = r }

// State reports the current lifecycle state.
func (s *Session) State() State { return s.state }

// Application returns the selected application, or nil.
func (s *Session) Application() *Application { return s.app }

// Card returns the card snapshot the session works on.
func (s *Session) Card() *Card { return s.card }

// SelectApplication makes app the current DF. Any open secure session is
// dropped first. On failure the session returns to Idle.
func (s *Session) SelectApplication(app *Application) error {
	if app == nil {
		return &InputError{Op: "select application", Msg: "nil application"}
	}
	s.reset(StateIdle)

	c := apdu.Capdu{Cla: cla(s.card), Ins: insSelect, Ne: 256}
	if len(app.DFName) > 0 {
		if len(app.DFName) > 16 {
			return &InputError{Op: "select application", Msg: fmt.Sprintf("DF name too long (%d bytes)", len(app.DFName))}
		}
		c.P1 = 0x04
		c.Data = app.DFName
	} else {
		c.Data = []byte{0x20, app.ID}
	}

	_, sw, err := Transmit(s.tr, "select application", c)
	if err != nil {
		return fmt.Errorf("select application 0x%02X: %w", app.ID, err)
	}
	if !SwOK(sw) {
		return &SWError{Cmd: insSelect, SW: sw}
	}

	app.selected = true
	s.app = app
	s.state = StateSelected
	slog.Debug("application selected", "id", fmt.Sprintf("0x%02X", app.ID), "dfName", hexUpper(app.DFName))
	return nil
}

// Open runs the mutual authentication handshake with the key at keyIndex.
//
// Steps:
//  1. Diversify the issuer key with the card number.
//  2. GET CHALLENGE for the 8-byte card challenge.
//  3. Draw the 8-byte reader challenge and derive the session key.
//  4. OPEN SECURE SESSION with the reader challenge and reader cryptogram.
//  5. Check the card cryptogram in constant time.
//
// Any failure zeroes auth and returns the session to Idle.
func (s *Session) Open(auth *AuthContext, keyIndex byte) error {
	if auth == nil {
		return &InputError{Op: "open secure session", Msg: "nil auth context"}
	}
	if auth.Security == SecurityNone {
		return &InputError{Op: "open secure session", Msg: "security level none cannot open a secure session"}
	}
	if s.card == nil {
		return &InputError{Op: "open secure session", Msg: "no card"}
	}
	if s.state != StateSelected {
		return &InputError{Op: "open secure session", Msg: fmt.Sprintf("needs a selected application (session %s)", s.state)}
	}

	s.state = StateAuthenticating
	auth.KeyIndex = keyIndex
	auth.Authenticated = false
	if err := s.authenticate(auth, keyIndex); err != nil {
		auth.Clear()
		s.reset(StateIdle)
		return err
	}

	auth.Authenticated = true
	s.auth = auth
	s.cmdCtr = 0
	s.card.authenticated = true
	s.state = StateAuthenticated
	slog.Debug("secure session open", "keyIndex", keyIndex, "security", auth.Security.String())
	return nil
}

func (s *Session) authenticate(auth *AuthContext, keyIndex byte) error {
	level := auth.Security
	auth.Diversifier = DiversifierFor(s.card)
	dk, err := Diversify(auth.IssuerKey[:], auth.Diversifier[:], level)
	if err != nil {
		return &AuthError{Step: "diversify", Cause: err}
	}
	defer zero(dk)

	cc, sw, err := Transmit(s.tr, "get challenge", apdu.Capdu{Cla: cla(s.card), Ins: insGetChallenge, Ne: challengeSize})
	if err != nil {
		return &AuthError{Step: "challenge", Cause: err}
	}
	if !SwOK(sw) || len(cc) != challengeSize {
		return &AuthError{Step: "challenge", SW: sw, RespLen: len(cc)}
	}
	copy(auth.CardChallenge[:], cc)

	if err := s.readerChallenge(auth.ReaderChallenge[:]); err != nil {
		return &AuthError{Step: "challenge", Cause: err}
	}
	rc := auth.ReaderChallenge[:]

	sk, err := deriveSessionKey(level, dk, cc, rc)
	if err != nil {
		return &AuthError{Step: "authenticate", Cause: err}
	}
	copy(auth.SessionKey[:], sk)
	zero(sk)

	crypt, err := readerCryptogram(level, auth.SessionKey[:], rc, cc)
	if err != nil {
		return &AuthError{Step: "authenticate", Cause: err}
	}
	data := append(append([]byte{}, rc...), crypt...)
	resp, sw, err := Transmit(s.tr, "open secure session", apdu.Capdu{
		Cla: cla(s.card), Ins: insOpenSession, P2: keyIndex, Data: data, Ne: 256,
	})
	if err != nil {
		return &AuthError{Step: "authenticate", Cause: err}
	}
	if !SwOK(sw) {
		return &AuthError{Step: "authenticate", SW: sw, RespLen: len(resp)}
	}

	want, err := cardCryptogram(level, auth.SessionKey[:], rc, cc)
	if err != nil {
		return &AuthError{Step: "authenticate", Cause: err}
	}
	if len(resp) != len(want) || subtle.ConstantTimeCompare(resp, want) != 1 {
		return &AuthError{Step: "authenticate", Cause: errors.New("card cryptogram mismatch")}
	}
	return nil
}

func (s *Session) readerChallenge(dst []byte) error {
	r := s.rand
	if r == nil {
		r = rand.Reader
	}
	_, err := io.ReadFull(r, dst)
	return err
}

// Close ends the secure session with a MAC-protected CLOSE command. The
// issuer key, session key and challenges are zeroed and the session moves to
// Closed even when the card or the reader fails; that failure is still
// returned for the caller to log.
func (s *Session) Close() error {
	if s.state != StateAuthenticated {
		return &StateError{Op: "close secure session", State: s.state}
	}
	defer s.reset(StateClosed)

	mac, err := s.commandMAC(insCloseSession, 0x00, 0x00, nil)
	if err != nil {
		return err
	}
	_, sw, err := Transmit(s.tr, "close secure session", apdu.Capdu{
		Cla: cla(s.card), Ins: insCloseSession, Data: mac, Ne: 256,
	})
	if err != nil {
		return fmt.Errorf("close secure session: %w", err)
	}
	if !SwOK(sw) {
		return &SWError{Cmd: insCloseSession, SW: sw}
	}
	slog.Debug("secure session closed")
	return nil
}

// reset drops the selection and any secure session and moves to next.
func (s *Session) reset(next State) {
	if s.auth != nil {
		s.auth.Clear()
		s.auth = nil
	}
	if s.card != nil {
		s.card.authenticated = false
	}
	if s.app != nil {
		s.app.selected = false
		s.app = nil
	}
	s.cmdCtr = 0
	s.state = next
}

// commandMAC computes the MAC of the next authenticated command:
// MAC(cmdCtr || CLA INS P1 P2 || data).
func (s *Session) commandMAC(ins, p1, p2 byte, data []byte) ([]byte, error) {
	msg := make([]byte, 0, 6+len(data))
	msg = append(msg, byte(s.cmdCtr>>8), byte(s.cmdCtr), cla(s.card), ins, p1, p2)
	msg = append(msg, data...)
	return SessionMAC(s.auth.Security, s.auth.SessionKey[:], msg)
}

// secureCommand sends one MAC-protected command inside the open session.
// Transport failures and MAC rejections close the session.
func (s *Session) secureCommand(op string, ins, p1, p2 byte, data []byte) ([]byte, error) {
	if s.state != StateAuthenticated {
		return nil, &StateError{Op: op, State: s.state}
	}
	mac, err := s.commandMAC(ins, p1, p2, data)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, len(data)+len(mac))
	payload = append(payload, data...)
	payload = append(payload, mac...)

	resp, sw, err := Transmit(s.tr, op, apdu.Capdu{Cla: cla(s.card), Ins: ins, P1: p1, P2: p2, Data: payload, Ne: 256})
	if err != nil {
		slog.Warn("secure session dropped", "op", op, "error", err)
		s.reset(StateClosed)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sw == SWIncorrectSignature {
		slog.Warn("card rejected command MAC, session closed", "op", op)
		s.reset(StateClosed)
		return nil, &SWError{Cmd: ins, SW: sw}
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: ins, SW: sw}
	}
	s.cmdCtr++
	return resp, nil
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
