package tracker

import "github.com/kalambet/rankwatch/internal/storage"

// Transition is an allowed ledger status change.
type Transition struct {
	From string
	To   string
}

// ValidTransitions lists every ledger status change the poller makes.
// Statuses never move back to submitted; fetched and error are terminal.
var ValidTransitions = []Transition{
	{From: storage.StatusSubmitted, To: storage.StatusPending},
	{From: storage.StatusSubmitted, To: storage.StatusFetched},
	{From: storage.StatusSubmitted, To: storage.StatusError},
	{From: storage.StatusPending, To: storage.StatusPending},
	{From: storage.StatusPending, To: storage.StatusFetched},
	{From: storage.StatusPending, To: storage.StatusError},
}

func IsValidTransition(from, to string) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a job in status will never be polled again.
func IsTerminal(status string) bool {
	return status == storage.StatusFetched || status == storage.StatusError
}
