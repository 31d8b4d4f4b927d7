package calypso

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	"github.com/aead/cmac"
)

// KeySize is the stored size of every issuer, diversified and session key.
// DES keys use the first 8 bytes.
const KeySize = 16

// BlockSize returns the cipher block size for a security level, or 0 for SecurityNone.
func BlockSize(level SecurityLevel) int {
	switch level {
	case SecurityDES, Security3DES:
		return des.BlockSize
	case SecurityAES128:
		return aes.BlockSize
	default:
		return 0
	}
}

// macSize returns the truncated session MAC length for a security level.
func macSize(level SecurityLevel) int {
	if level == SecurityAES128 {
		return 8
	}
	return 4
}

// newBlockCipher builds the cipher for a security level.
// Single DES runs as 3DES with K1=K2=K3, two-key 3DES as K1||K2||K1.
func newBlockCipher(level SecurityLevel, key []byte) (cipher.Block, error) {
	switch level {
	case SecurityDES:
		if len(key) != 8 && len(key) != KeySize {
			return nil, fmt.Errorf("DES key must be 8 or 16 bytes, got %d", len(key))
		}
		k := make([]byte, 24)
		copy(k, key[:8])
		copy(k[8:], key[:8])
		copy(k[16:], key[:8])
		defer zero(k)
		return des.NewTripleDESCipher(k)
	case Security3DES:
		if len(key) != KeySize {
			return nil, fmt.Errorf("3DES key must be 16 bytes, got %d", len(key))
		}
		k := make([]byte, 24)
		copy(k, key)
		copy(k[16:], key[:8])
		defer zero(k)
		return des.NewTripleDESCipher(k)
	case SecurityAES128:
		if len(key) != KeySize {
			return nil, fmt.Errorf("AES key must be 16 bytes, got %d", len(key))
		}
		return aes.NewCipher(key)
	default:
		return nil, fmt.Errorf("no cipher for security level %s", level)
	}
}

// EncryptBlock encrypts exactly one cipher block (ECB).
func EncryptBlock(level SecurityLevel, key, block []byte) ([]byte, error) {
	b, err := newBlockCipher(level, key)
	if err != nil {
		return nil, &InputError{Op: "encrypt block", Msg: err.Error()}
	}
	if len(block) != b.BlockSize() {
		return nil, &InputError{Op: "encrypt block", Msg: fmt.Sprintf("block must be %d bytes, got %d", b.BlockSize(), len(block))}
	}
	out := make([]byte, b.BlockSize())
	b.Encrypt(out, block)
	return out, nil
}

// DecryptBlock decrypts exactly one cipher block (ECB).
func DecryptBlock(level SecurityLevel, key, block []byte) ([]byte, error) {
	b, err := newBlockCipher(level, key)
	if err != nil {
		return nil, &InputError{Op: "decrypt block", Msg: err.Error()}
	}
	if len(block) != b.BlockSize() {
		return nil, &InputError{Op: "decrypt block", Msg: fmt.Sprintf("block must be %d bytes, got %d", b.BlockSize(), len(block))}
	}
	out := make([]byte, b.BlockSize())
	b.Decrypt(out, block)
	return out, nil
}

// encryptECB encrypts a block-aligned buffer one block at a time.
func encryptECB(level SecurityLevel, key, data []byte) ([]byte, error) {
	b, err := newBlockCipher(level, key)
	if err != nil {
		return nil, err
	}
	bs := b.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("ECB encrypt: data not block aligned")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		b.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return out, nil
}

// SessionMAC computes the truncated CMAC used on authenticated commands:
// 4 bytes for DES/3DES sessions, 8 bytes for AES sessions.
func SessionMAC(level SecurityLevel, key, msg []byte) ([]byte, error) {
	b, err := newBlockCipher(level, key)
	if err != nil {
		return nil, &InputError{Op: "session mac", Msg: err.Error()}
	}
	return cmac.Sum(msg, b, macSize(level))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
