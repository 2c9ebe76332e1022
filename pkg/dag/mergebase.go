package dag

import (
	"bytes"
	"container/heap"
	"context"

	"github.com/tarnlabs/tarn/pkg/types"
)

const (
	sideA = 1 << 0
	sideB = 1 << 1
	both  = sideA | sideB
)

// MergeBase finds the lowest common ancestor of two commits: the first
// commit reachable from both sides when walking ancestors highest Seq
// first. Disjoint histories yield a zero id and no error; callers decide
// whether that is a failure.
//
// The Seq generation number bounds the walk: a frontier node with the
// highest remaining Seq can never be an undiscovered ancestor of another
// frontier node, so commits are visited at most once and the walk touches
// only commits newer than the answer.
func (s *Store) MergeBase(ctx context.Context, a, b types.ID) (types.ID, error) {
	if a == b {
		return a, nil
	}
	if a.IsZero() || b.IsZero() {
		return types.ID{}, nil
	}

	seen := make(map[types.ID]uint8)
	f := &frontier{}

	add := func(id types.ID, seq int64, side uint8) {
		prev := seen[id]
		if prev&side == side {
			return
		}
		seen[id] = prev | side
		if prev == 0 {
			heap.Push(f, frontierNode{id: id, seq: seq})
		}
	}

	ca, err := s.Fetch(ctx, a)
	if err != nil {
		return types.ID{}, err
	}
	cb, err := s.Fetch(ctx, b)
	if err != nil {
		return types.ID{}, err
	}
	add(a, ca.Seq, sideA)
	add(b, cb.Seq, sideB)

	for f.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return types.ID{}, err
		}
		node := heap.Pop(f).(frontierNode)
		flags := seen[node.id]
		if flags == both {
			return node.id, nil
		}
		c, err := s.Fetch(ctx, node.id)
		if err != nil {
			return types.ID{}, err
		}
		for _, p := range c.Parents {
			if p.IsZero() {
				continue
			}
			pc, err := s.Fetch(ctx, p)
			if err != nil {
				return types.ID{}, err
			}
			add(p, pc.Seq, flags)
		}
	}
	return types.ID{}, nil
}

type frontierNode struct {
	id  types.ID
	seq int64
}

// frontier is a max-heap on Seq with the commit id as a deterministic tie
// break.
type frontier []frontierNode

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].seq != f[j].seq {
		return f[i].seq > f[j].seq
	}
	return bytes.Compare(f[i].id[:], f[j].id[:]) < 0
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(frontierNode)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}
