// Package snowflake issues 63-bit time-ordered message ids: 41 bits of
// milliseconds since a fixed epoch, 10 bits of node id and a 12-bit
// per-millisecond sequence. Ids from one node are strictly increasing, so
// they double as the clustering key for history pages.
package snowflake

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// The custom epoch keeps ids well clear of the 63-bit ceiling.
	epochMillis int64 = 1704067200000 // 2024-01-01T00:00:00Z

	nodeBits = 10
	seqBits  = 12

	// MaxNode is the highest node id a cluster member may claim.
	MaxNode = 1<<nodeBits - 1

	seqMask   = 1<<seqBits - 1
	timeShift = nodeBits + seqBits
)

// Node hands out ids for one cluster member.
type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	seq  int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > MaxNode {
		return nil, errors.Errorf("node id %d out of range [0, %d]", node, MaxNode)
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. The sequence absorbs bursts inside one
// millisecond; when it wraps, Generate spins until the clock advances. A
// clock stepping backwards reuses the last observed millisecond so ids stay
// monotonic.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			for now <= n.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.seq = 0
	}
	n.last = now

	return (now-epochMillis)<<timeShift | n.node<<seqBits | n.seq
}
