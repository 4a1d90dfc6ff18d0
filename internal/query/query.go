package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loykin/taskmon/internal/delta"
	"github.com/loykin/taskmon/internal/snapshot"
)

// Predicate filters the process set. The zero value matches every process.
type Predicate struct {
	NameContains string          // case-insensitive substring
	PID          int32           // exact match when > 0
	Status       snapshot.Status // equality when non-empty
}

func (p Predicate) matches(v snapshot.ProcessView) bool {
	if p.PID > 0 && v.Identity.PID != p.PID {
		return false
	}
	if p.Status != "" && v.Status != p.Status {
		return false
	}
	if p.NameContains != "" &&
		!strings.Contains(strings.ToLower(v.Name), strings.ToLower(p.NameContains)) {
		return false
	}
	return true
}

// SortKey selects the ordering of query results. Resource keys sort
// descending (hottest first); Name and PID sort ascending.
type SortKey string

const (
	SortCPU    SortKey = "cpu"
	SortMemory SortKey = "memory"
	SortName   SortKey = "name"
	SortPID    SortKey = "pid"
)

// ParseSortKey validates a sort key from config or an API query.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case SortCPU:
		return SortCPU, nil
	case SortMemory:
		return SortMemory, nil
	case SortName:
		return SortName, nil
	case SortPID:
		return SortPID, nil
	case "":
		return SortCPU, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// Select filters the snapshot with pred and returns the matching identities
// ordered by key. CPU ordering uses the tick's delta result; identities with
// unknown rates sort after known ones. No persistent index is kept: the
// process set is small and one O(n log n) pass per call is enough.
func Select(snap *snapshot.Snapshot, res delta.Result, pred Predicate, key SortKey) []snapshot.Identity {
	if snap == nil {
		return nil
	}

	ids := make([]snapshot.Identity, 0, len(snap.Procs))
	for id, view := range snap.Procs {
		if pred.matches(view) {
			ids = append(ids, id)
		}
	}

	less := lessFunc(snap, res, key)
	sort.SliceStable(ids, func(i, j int) bool { return less(ids[i], ids[j]) })
	return ids
}

func lessFunc(snap *snapshot.Snapshot, res delta.Result, key SortKey) func(a, b snapshot.Identity) bool {
	switch key {
	case SortMemory:
		return func(a, b snapshot.Identity) bool {
			ma, mb := snap.Procs[a].MemoryRSS, snap.Procs[b].MemoryRSS
			if ma != mb {
				return ma > mb
			}
			return a.PID < b.PID
		}
	case SortName:
		return func(a, b snapshot.Identity) bool {
			na := strings.ToLower(snap.Procs[a].Name)
			nb := strings.ToLower(snap.Procs[b].Name)
			if na != nb {
				return na < nb
			}
			return a.PID < b.PID
		}
	case SortPID:
		return func(a, b snapshot.Identity) bool { return a.PID < b.PID }
	default: // SortCPU
		return func(a, b snapshot.Identity) bool {
			ra, rb := res.Rates[a], res.Rates[b]
			if ra.Known != rb.Known {
				return ra.Known
			}
			if ra.CPUPercent != rb.CPUPercent {
				return ra.CPUPercent > rb.CPUPercent
			}
			return a.PID < b.PID
		}
	}
}
