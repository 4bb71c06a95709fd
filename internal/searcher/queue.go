package searcher

// PriorityQueueItem represents an item in the priority queue.
type PriorityQueueItem struct {
	ID       uint64  // node or row id, used to break distance ties
	Distance float32 // priority of the item
}

// Less orders items by ascending distance, then ascending id.
func (a PriorityQueueItem) Less(b PriorityQueueItem) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// PriorityQueue implements a binary heap holding PriorityQueueItems.
// It does NOT implement container/heap to avoid interface overhead.
type PriorityQueue struct {
	isMaxHeap bool // true = max heap, false = min heap
	items     []PriorityQueueItem
}

// NewPriorityQueue creates a new priority queue.
func NewPriorityQueue(isMaxHeap bool) *PriorityQueue {
	return &PriorityQueue{
		isMaxHeap: isMaxHeap,
		items:     make([]PriorityQueueItem, 0, 16),
	}
}

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}

// Len returns the number of elements in the heap.
func (pq *PriorityQueue) Len() int {
	return len(pq.items)
}

// TopItem returns the top element of the heap.
func (pq *PriorityQueue) TopItem() (PriorityQueueItem, bool) {
	if len(pq.items) == 0 {
		return PriorityQueueItem{}, false
	}
	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) PushItem(item PriorityQueueItem) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PushItemBounded inserts an item into a max heap of at most capacity items.
// When full, the item replaces the top only if it orders before it.
func (pq *PriorityQueue) PushItemBounded(item PriorityQueueItem, capacity int) {
	if capacity <= 0 {
		return
	}
	if len(pq.items) < capacity {
		pq.PushItem(item)
		return
	}
	top := pq.items[0]
	if pq.isMaxHeap && item.Less(top) || !pq.isMaxHeap && top.Less(item) {
		pq.items[0] = item
		pq.siftDown(0)
	}
}

// PopItem removes and returns the top element from the heap.
func (pq *PriorityQueue) PopItem() (PriorityQueueItem, bool) {
	n := len(pq.items)
	if n == 0 {
		return PriorityQueueItem{}, false
	}

	item := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]

	if len(pq.items) > 0 {
		pq.siftDown(0)
	}
	return item, true
}

// Sorted drains the queue and returns its items in ascending order.
func (pq *PriorityQueue) Sorted() []PriorityQueueItem {
	out := make([]PriorityQueueItem, len(pq.items))
	if pq.isMaxHeap {
		for i := len(out) - 1; i >= 0; i-- {
			out[i], _ = pq.PopItem()
		}
	} else {
		for i := range out {
			out[i], _ = pq.PopItem()
		}
	}
	return out
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.isMaxHeap {
		return pq.items[j].Less(pq.items[i])
	}
	return pq.items[i].Less(pq.items[j])
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(i, parent) {
			break
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && pq.less(right, left) {
			child = right
		}
		if !pq.less(child, i) {
			break
		}
		pq.items[i], pq.items[child] = pq.items[child], pq.items[i]
		i = child
	}
}

// TopK keeps the k smallest items pushed into it.
type TopK struct {
	k  int
	pq *PriorityQueue
}

// NewTopK returns a collector for the k nearest items.
func NewTopK(k int) *TopK {
	return &TopK{k: k, pq: NewPriorityQueue(true)}
}

// Push offers an item.
func (t *TopK) Push(id uint64, dist float32) {
	t.pq.PushItemBounded(PriorityQueueItem{ID: id, Distance: dist}, t.k)
}

// Len returns the number of items held.
func (t *TopK) Len() int { return t.pq.Len() }

// Results drains the collector in ascending order.
func (t *TopK) Results() []PriorityQueueItem { return t.pq.Sorted() }
