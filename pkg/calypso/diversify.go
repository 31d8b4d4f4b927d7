package calypso

import (
	"encoding/binary"
	"fmt"
)

// DiversifierSize is the length of the card-unique diversification input.
const DiversifierSize = 8

// DiversifierFor returns the diversification input for a card: its logical
// number, big-endian, right-aligned in 8 bytes.
func DiversifierFor(card *Card) [DiversifierSize]byte {
	var d [DiversifierSize]byte
	if card != nil {
		binary.BigEndian.PutUint32(d[4:], card.Number)
	}
	return d
}

// Diversify derives the card key from an issuer master key.
//
//	DES/3DES: E_mk(d) || E_mk(d XOR FF..FF)   (two 8-byte blocks)
//	AES-128:  E_mk(d || d XOR FF..FF)          (one 16-byte block)
//
// The result is always 16 bytes and depends only on its inputs.
func Diversify(master, diversifier []byte, level SecurityLevel) ([]byte, error) {
	if len(master) != KeySize {
		return nil, &InputError{Op: "diversify", Msg: fmt.Sprintf("master key must be %d bytes, got %d", KeySize, len(master))}
	}
	if len(diversifier) != DiversifierSize {
		return nil, &InputError{Op: "diversify", Msg: fmt.Sprintf("diversifier must be %d bytes, got %d", DiversifierSize, len(diversifier))}
	}
	if level == SecurityNone {
		return nil, &InputError{Op: "diversify", Msg: "security level none has no keys"}
	}

	in := make([]byte, 2*DiversifierSize)
	copy(in, diversifier)
	for i, v := range diversifier {
		in[DiversifierSize+i] = ^v
	}

	out, err := encryptECB(level, master, in)
	if err != nil {
		return nil, &InputError{Op: "diversify", Msg: err.Error()}
	}
	return out, nil
}

// deriveSessionKey mixes the two challenges under the diversified key.
//
//	DES/3DES: E_dk(cc[0:4] || rc[0:4]) || E_dk(cc[4:8] || rc[4:8])
//	AES-128:  E_dk(cc || rc)
func deriveSessionKey(level SecurityLevel, dk, cardChallenge, readerChallenge []byte) ([]byte, error) {
	in := make([]byte, 16)
	if level == SecurityAES128 {
		copy(in, cardChallenge[:8])
		copy(in[8:], readerChallenge[:8])
	} else {
		copy(in, cardChallenge[:4])
		copy(in[4:], readerChallenge[:4])
		copy(in[8:], cardChallenge[4:8])
		copy(in[12:], readerChallenge[4:8])
	}
	return encryptECB(level, dk, in)
}

// readerCryptogram proves the reader holds the session key.
func readerCryptogram(level SecurityLevel, sk, readerChallenge, cardChallenge []byte) ([]byte, error) {
	if level == SecurityAES128 {
		return encryptECB(level, sk, append(append([]byte{}, readerChallenge...), cardChallenge...))
	}
	return encryptECB(level, sk, readerChallenge)
}

// cardCryptogram is the value a genuine card returns to close the handshake.
func cardCryptogram(level SecurityLevel, sk, readerChallenge, cardChallenge []byte) ([]byte, error) {
	if level == SecurityAES128 {
		return encryptECB(level, sk, append(append([]byte{}, cardChallenge...), readerChallenge...))
	}
	return encryptECB(level, sk, cardChallenge)
}
