// Package scoring tokenizes message text and computes priority scores.
package scoring

// Snapshot is a read-only view of the priority rule tables.
type Snapshot struct {
	// Words maps normalized words to their priority.
	Words map[string]int
	// People maps email addresses to their priority.
	People map[string]int
}

// Score returns Σ tf(w)·priority(w) over the message's words plus the
// priority of its sender. Unknown words and senders count as 0.
func Score(freq map[string]int, sender string, s Snapshot) int {
	score := 0
	for w, tf := range freq {
		score += tf * s.Words[w]
	}
	if sender != "" {
		score += s.People[sender]
	}
	return score
}
