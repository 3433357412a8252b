package client

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ContributionID derives a stable, human-traceable identifier for the
// count-th contribution observed from sender. Deterministic so a resubmitted
// observation maps onto the same record instead of double-queueing.
func ContributionID(sender solana.PublicKey, count uint64) string {
	encoded := sender.String()
	if len(encoded) > 16 {
		encoded = encoded[:16]
	}
	return fmt.Sprintf("bootstrap-%s-%d", encoded, count)
}
