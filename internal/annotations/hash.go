package annotations

import (
	"crypto/sha256"
	"fmt"
)

// RangeHash derives the dedup identity of an annotated span. It is a pure
// function of the (document, user, range) tuple; the comment and selected
// text never participate, so editing either cannot mint a new identity.
// Both ingestion paths must obtain range identities through this function.
func RangeHash(documentID, userID string, startIndex, endIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%d", documentID, userID, startIndex, endIndex)))
	return fmt.Sprintf("%x", sum)
}
