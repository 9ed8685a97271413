package outbox

import (
	"container/heap"
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

type scheduled struct {
	entry domain.OutboxEntry
	due   time.Time
	index int
}

// schedule is the retry set: pending entries ordered by sequence number, each
// with the time it becomes due. Not safe for concurrent use; Queue guards it.
type schedule struct {
	items []*scheduled
	bySeq map[int64]*scheduled
}

func newSchedule() *schedule {
	return &schedule{bySeq: make(map[int64]*scheduled)}
}

func (s *schedule) Len() int { return len(s.items) }

func (s *schedule) Less(i, j int) bool {
	return s.items[i].entry.Record.Seq < s.items[j].entry.Record.Seq
}

func (s *schedule) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.items[i].index = i
	s.items[j].index = j
}

func (s *schedule) Push(x any) {
	item := x.(*scheduled)
	item.index = len(s.items)
	s.items = append(s.items, item)
}

func (s *schedule) Pop() any {
	old := s.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	s.items = old[:n-1]
	item.index = -1
	return item
}

// add inserts or replaces the entry for its sequence number.
func (s *schedule) add(entry domain.OutboxEntry, due time.Time) {
	seq := entry.Record.Seq
	if item, ok := s.bySeq[seq]; ok {
		item.entry = entry
		item.due = due
		return
	}

	item := &scheduled{entry: entry, due: due}
	heap.Push(s, item)
	s.bySeq[seq] = item
}

// head returns the oldest pending entry.
func (s *schedule) head() (domain.OutboxEntry, time.Time, bool) {
	if len(s.items) == 0 {
		return domain.OutboxEntry{}, time.Time{}, false
	}
	item := s.items[0]
	return item.entry, item.due, true
}

func (s *schedule) remove(seq int64) {
	item, ok := s.bySeq[seq]
	if !ok {
		return
	}
	heap.Remove(s, item.index)
	delete(s.bySeq, seq)
}
