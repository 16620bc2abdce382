package policy

// Ledger counts consecutive failures per action fingerprint. It lives for
// one goal execution and is mutated only by the agent loop, so it needs no
// locking.
type Ledger struct {
	counts map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Count returns the current failure count for the fingerprint.
func (l *Ledger) Count(fingerprint string) int {
	return l.counts[fingerprint]
}

// Increment records one more failure and returns the new count.
func (l *Ledger) Increment(fingerprint string) int {
	l.counts[fingerprint]++
	return l.counts[fingerprint]
}

// Reset clears the fingerprint's count. Called on every successful
// execution so earlier failures of an action do not haunt later retries of
// the same instruction.
func (l *Ledger) Reset(fingerprint string) {
	delete(l.counts, fingerprint)
}

// Len reports how many fingerprints currently carry a non-zero count.
func (l *Ledger) Len() int { return len(l.counts) }
