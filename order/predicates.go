package order

import (
	"time"

	"github.com/rustyeddy/barledger/store"
)

func ByStatus(statuses ...Status) store.Pred[Order] {
	return func(o Order) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}
}

func ByAgent(agentID string) store.Pred[Order] {
	return func(o Order) bool { return agentID == "" || o.AgentID == agentID }
}

func ByRun(runID string) store.Pred[Order] {
	return func(o Order) bool { return runID == "" || o.RunID == runID }
}

func ByKind(k Kind) store.Pred[Order] {
	return func(o Order) bool { return k == "" || o.Kind == k }
}

func ByPair(pair string) store.Pred[Order] {
	return func(o Order) bool { return pair == "" || o.Pair == pair }
}

// CreatedBetween matches orders created in [from, to). Zero bounds are open.
func CreatedBetween(from, to time.Time) store.Pred[Order] {
	return func(o Order) bool {
		if !from.IsZero() && o.CreatedAt.Before(from) {
			return false
		}
		return to.IsZero() || o.CreatedAt.Before(to)
	}
}

// IsOpen matches orders that still hold balance.
func IsOpen(o Order) bool { return o.Open() }

// ByNumber orders by ascending order number.
func ByNumber(a, b Order) int {
	switch {
	case a.Number < b.Number:
		return -1
	case a.Number > b.Number:
		return 1
	}
	return 0
}
