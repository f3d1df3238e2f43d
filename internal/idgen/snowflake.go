package idgen

import (
	"sync"
	"time"
)

// Generator hands out cluster-unique int64 ids for event envelopes.
type Generator interface {
	NextID() int64
}

const (
	nodeBits = 10
	seqBits  = 12

	maxNode = (1 << nodeBits) - 1
	maxSeq  = (1 << seqBits) - 1

	// 2024-01-01T00:00:00Z
	epochMillis int64 = 1704067200000
)

// Snowflake is a 41-10-12 bit time/node/sequence generator. Ids are
// roughly time-ordered and collision-free as long as node ids are
// unique across the cluster.
type Snowflake struct {
	mu       sync.Mutex
	node     int64
	lastTime int64
	seq      int64
}

func NewSnowflake(node int64) *Snowflake {
	return &Snowflake{node: node & maxNode}
}

func (s *Snowflake) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli() - epochMillis
	if now == s.lastTime {
		s.seq = (s.seq + 1) & maxSeq
		if s.seq == 0 {
			// sequence exhausted within this millisecond
			for now <= s.lastTime {
				now = time.Now().UnixMilli() - epochMillis
			}
		}
	} else {
		s.seq = 0
	}
	s.lastTime = now

	return now<<(nodeBits+seqBits) | s.node<<seqBits | s.seq
}
