package index

// topK keeps the k best hits seen so far in a bounded min-heap: the root is
// the worst kept hit, so each new candidate competes against the root only.
// Ordering is by score descending with ties broken by lower id, which makes
// the kept set and its final order deterministic.
type topK struct {
	k     int
	items []Hit
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]Hit, 0, k)}
}

// worse reports whether a ranks strictly below b.
func worse(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// offer considers a candidate and keeps it if it beats the current worst.
func (t *topK) offer(h Hit) {
	if len(t.items) < t.k {
		t.items = append(t.items, h)
		t.siftUp(len(t.items) - 1)
		return
	}
	if worse(h, t.items[0]) {
		return
	}
	t.items[0] = h
	t.siftDown(0)
}

// drain removes all hits ordered best-first and leaves the heap empty.
func (t *topK) drain() []Hit {
	out := make([]Hit, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		out[i] = t.pop()
	}
	return out
}

func (t *topK) pop() Hit {
	n := len(t.items)
	root := t.items[0]
	t.items[0] = t.items[n-1]
	t.items = t.items[:n-1]
	if len(t.items) > 0 {
		t.siftDown(0)
	}
	return root
}

func (t *topK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !worse(t.items[i], t.items[p]) {
			return
		}
		t.items[i], t.items[p] = t.items[p], t.items[i]
		i = p
	}
}

func (t *topK) siftDown(i int) {
	n := len(t.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		min := l
		if r := l + 1; r < n && worse(t.items[r], t.items[l]) {
			min = r
		}
		if !worse(t.items[min], t.items[i]) {
			return
		}
		t.items[i], t.items[min] = t.items[min], t.items[i]
		i = min
	}
}
