// Package merkle folds a day's event hashes into a single verifiable root.
package merkle

import "chronoseal/pkg/canonical"

// emptyDaySentinel is hashed when a day has no events, so an empty day still
// produces a notarizable, tamper-evident root.
const emptyDaySentinel = "EMPTY_DAY"

// Root folds an ordered list of hex hashes into the Merkle root. Pairs combine
// as SHA-256 over the concatenated hex strings; an odd trailing hash pairs
// with itself. The fold is iterative: a high-volume day must not be limited by
// stack depth. Order matters — the caller provides hashes in creation order.
func Root(hashes []string) string {
	if len(hashes) == 0 {
		return canonical.SHA256HexString(emptyDaySentinel)
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // duplicate last on odd count
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, canonical.SHA256HexString(left+right))
		}
		level = next
	}
	return level[0]
}
