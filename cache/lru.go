package cache

// lruNode links one key into a shard's recency list.
type lruNode[K comparable] struct {
	key        K
	prev, next *lruNode[K]
}

// lruList orders the keys of one shard from most recently used (head) to
// least recently used (tail). It is not safe for concurrent use.
type lruList[K comparable] struct {
	head, tail *lruNode[K]
	len        int
}

func newLRUList[K comparable]() *lruList[K] {
	return &lruList[K]{}
}

func (l *lruList[K]) Len() int { return l.len }

// PushFront inserts key as the most recently used entry.
func (l *lruList[K]) PushFront(key K) *lruNode[K] {
	node := &lruNode[K]{key: key}
	l.linkFront(node)
	return node
}

// MoveToFront marks node as the most recently used entry.
func (l *lruList[K]) MoveToFront(node *lruNode[K]) {
	if node == nil || node == l.head {
		return
	}
	l.unlink(node)
	l.linkFront(node)
}

func (l *lruList[K]) Remove(node *lruNode[K]) {
	if node != nil {
		l.unlink(node)
	}
}

// RemoveOldest unlinks the least recently used entry and returns its key.
func (l *lruList[K]) RemoveOldest() (K, bool) {
	if l.tail == nil {
		var zero K
		return zero, false
	}
	node := l.tail
	l.unlink(node)
	return node.key, true
}

// Oldest returns the least recently used key without removing it.
func (l *lruList[K]) Oldest() (K, bool) {
	if l.tail == nil {
		var zero K
		return zero, false
	}
	return l.tail.key, true
}

func (l *lruList[K]) Clear() {
	l.head, l.tail, l.len = nil, nil, 0
}

func (l *lruList[K]) linkFront(node *lruNode[K]) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	} else {
		l.tail = node
	}
	l.head = node
	l.len++
}

func (l *lruList[K]) unlink(node *lruNode[K]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next = nil, nil
	l.len--
}
