package calypso

import (
	"fmt"
	"log/slog"
	"strings"
)

// MaxSecurityReport bounds the text returned by AnalyzeSecurity.
const MaxSecurityReport = 512

// AnalyzeSecurity summarises the cryptographic posture of a card in at most
// MaxSecurityReport bytes.
func AnalyzeSecurity(card *Card) string {
	if card == nil {
		return "No card."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s, card number %d\n", CardTypeName(card.Type), card.Revision, card.Number)
	fmt.Fprintf(&b, "Security: %s\n", card.Security)
	switch card.Security {
	case SecurityNone:
		b.WriteString("- no secure session advertised; writes cannot be authenticated\n")
	case SecurityDES:
		b.WriteString("- single DES (56-bit) keys: exhaustive search is practical\n")
		b.WriteString("- 4-byte session MACs\n")
	case Security3DES:
		b.WriteString("- two-key 3DES (112-bit) keys\n")
		b.WriteString("- 4-byte session MACs\n")
	case SecurityAES128:
		b.WriteString("- AES-128 keys\n")
		b.WriteString("- 8-byte session MACs\n")
	}
	b.WriteString("- keys diversified per card number\n")
	if card.Revision == Rev1 {
		b.WriteString("- Rev1 product: legacy class 0x94 command set\n")
	}
	b.WriteString("- reads are free; counters and records need a secure session")
	return truncate(b.String(), MaxSecurityReport)
}

// KeySlotResult holds the result of an authentication attempt for diagnostics.
type KeySlotResult struct {
	KeyIndex byte   // Key index tried
	Success  bool   // True if the secure session opened
	Step     string // Authentication step where failure occurred
	SW       uint16 // Status word from failed step
	Err      error  // Underlying error
}

// DiagnoseKeyIndexes tries one issuer key against several key indexes of an
// application and reports each outcome. Successful sessions are closed
// immediately. A transport failure ends the scan early.
func DiagnoseKeyIndexes(tr Transmitter, card *Card, app *Application, issuerKey []byte, indexes []byte) []KeySlotResult {
	results := make([]KeySlotResult, 0, len(indexes))
	for _, idx := range indexes {
		res := KeySlotResult{KeyIndex: idx}
		sess := NewSession(tr, card)
		err := sess.SelectApplication(app)
		if err == nil {
			var auth *AuthContext
			auth, err = NewAuthContext(issuerKey, card.Security)
			if err == nil {
				err = sess.Open(auth, idx)
				if err == nil {
					if cerr := sess.Close(); cerr != nil {
						slog.Warn("close after key index check failed", "keyIndex", idx, "error", cerr)
					}
				}
				auth.Clear()
			}
		}
		res.Success = err == nil
		res.Err = err
		if step, sw, _, ok := ClassifyAuthError(err); ok {
			res.Step = step
			res.SW = sw
		}
		results = append(results, res)
		if IsTransportFailure(err) {
			break
		}
	}
	return results
}
