package orderbook

import "math/big"

// MaxPriceHeap implements heap.Interface for bid prices (highest price on top)
// Use container/heap package to manipulate this heap (Init, Push, Pop, Remove)
type MaxPriceHeap []*big.Int

func (h MaxPriceHeap) Len() int           { return len(h) }
func (h MaxPriceHeap) Less(i, j int) bool { return h[i].Cmp(h[j]) > 0 }
func (h MaxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MaxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(*big.Int))
}

func (h *MaxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// Peek returns the top element without removing it, or nil if empty
func (h MaxPriceHeap) Peek() *big.Int {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// MinPriceHeap implements heap.Interface for ask prices (lowest price on top)
type MinPriceHeap []*big.Int

func (h MinPriceHeap) Len() int           { return len(h) }
func (h MinPriceHeap) Less(i, j int) bool { return h[i].Cmp(h[j]) < 0 }
func (h MinPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MinPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(*big.Int))
}

func (h *MinPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// Peek returns the top element without removing it, or nil if empty
func (h MinPriceHeap) Peek() *big.Int {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// levelCursor orders indexes into a price heap's backing slice. Popping it yields
// the heap's prices best-first without disturbing the heap: a node is pushed only
// after its parent is popped, and heap order guarantees no child beats its parent.
type levelCursor struct {
	prices []*big.Int
	buy    bool // taker side; asks come out lowest first
	idx    []int
}

func (c levelCursor) Len() int { return len(c.idx) }
func (c levelCursor) Less(i, j int) bool {
	cmp := c.prices[c.idx[i]].Cmp(c.prices[c.idx[j]])
	if c.buy {
		return cmp < 0
	}
	return cmp > 0
}
func (c levelCursor) Swap(i, j int) { c.idx[i], c.idx[j] = c.idx[j], c.idx[i] }

func (c *levelCursor) Push(x interface{}) { c.idx = append(c.idx, x.(int)) }

func (c *levelCursor) Pop() interface{} {
	old := c.idx
	n := len(old)
	x := old[n-1]
	c.idx = old[:n-1]
	return x
}
