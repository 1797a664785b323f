package payment

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// MaxReceiptLen is the longest receipt the gateway accepts.
const MaxReceiptLen = 40

const receiptPrefix = "rcpt_"

// Receipt derives the order receipt for a hold.  The same principal,
// event and hold always produce the same receipt and the result never
// exceeds MaxReceiptLen, whatever the identifier lengths are.
func Receipt(principalID, eventID, holdID string) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{principalID, eventID, holdID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return receiptPrefix + hex.EncodeToString(sum[:16])
}
