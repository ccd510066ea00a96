package pool

import (
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TakenInfo describes one checked-out holder. It is recorded only when
// tracking is enabled and exists purely for leak diagnosis.
type TakenInfo struct {
	ID      uuid.UUID
	TakenAt time.Time
	Stack   []byte
}

// HeldFor returns how long the holder has been checked out at now.
func (ti TakenInfo) HeldFor(now time.Time) time.Duration {
	return now.Sub(ti.TakenAt)
}

// TakenHolder pairs a checked-out holder with its tracking record.
type TakenHolder[T any] struct {
	Holder *Holder[T]
	Info   TakenInfo
}

// tracker records outstanding holders. A disabled tracker accepts every
// restore and reports nothing.
type tracker[T any] struct {
	enabled bool
	taken   sync.Map // *Holder[T] -> TakenInfo
}

func (t *tracker[T]) add(h *Holder[T]) {
	if !t.enabled {
		return
	}
	t.taken.Store(h, TakenInfo{
		ID:      uuid.New(),
		TakenAt: time.Now(),
		Stack:   debug.Stack(),
	})
}

// remove reports whether h was tracked as taken.
func (t *tracker[T]) remove(h *Holder[T]) bool {
	if !t.enabled {
		return true
	}
	_, ok := t.taken.LoadAndDelete(h)
	return ok
}

func (t *tracker[T]) snapshot(olderThan time.Duration) []TakenHolder[T] {
	if !t.enabled {
		return nil
	}
	now := time.Now()
	var out []TakenHolder[T]
	t.taken.Range(func(k, v any) bool {
		info := v.(TakenInfo)
		if info.HeldFor(now) >= olderThan {
			out = append(out, TakenHolder[T]{Holder: k.(*Holder[T]), Info: info})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.TakenAt.Before(out[j].Info.TakenAt)
	})
	return out
}
