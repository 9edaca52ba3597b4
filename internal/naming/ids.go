package naming

import (
	"github.com/google/uuid"
	"strconv"
	"strings"
	"sync/atomic"
)

// IDGenerator hands out cluster ids.
type IDGenerator interface {
	Next() ClusterID
}

// Sequence assigns monotonically increasing numeric ids.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence returns a sequence whose first id is start+1.
func NewSequence(start uint64) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

func (s *Sequence) Next() ClusterID {
	return ClusterID(strconv.FormatUint(s.last.Add(1), 10))
}

// Seed moves the sequence past every numeric id in ids so that a restarted
// manager does not hand out the id of a cluster that is still running.
func (s *Sequence) Seed(ids []ClusterID) {
	for _, id := range ids {
		n, err := strconv.ParseUint(string(id), 10, 64)
		if err != nil {
			continue
		}
		for {
			cur := s.last.Load()
			if n <= cur || s.last.CompareAndSwap(cur, n) {
				break
			}
		}
	}
}

// Random assigns short random ids.
type Random struct{}

func (Random) Next() ClusterID {
	return ClusterID(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
