package thread

import "iter"

type listKind uint8

const (
	readyList listKind = iota
	rootList
	numLists
)

type link struct {
	th         *Thread
	prev, next int32
}

// list is a doubly linked list of threads kept in an arena of links.
// Links are addressed by index; index 0 is never used, so a zero index means
// none and a zero list is an empty list.
// A thread remembers its own index for each kind of list it can be in, which
// makes every operation O(1).
type list struct {
	kind       listKind
	links      []link
	free       int32
	head, tail int32
	n          int
}

func (l *list) slot(th *Thread) *int32 {
	return &th.slots[l.kind]
}

func (l *list) alloc(th *Thread) int32 {
	if i := l.free; i != 0 {
		l.free = l.links[i].next
		l.links[i] = link{th: th}
		return i
	}
	if len(l.links) == 0 {
		l.links = append(l.links, link{})
	}
	l.links = append(l.links, link{th: th})
	return int32(len(l.links) - 1)
}

func (l *list) Len() int {
	return l.n
}

func (l *list) Contains(th *Thread) bool {
	return *l.slot(th) != 0
}

func (l *list) Front() *Thread {
	if l.head == 0 {
		return nil
	}
	return l.links[l.head].th
}

// PushFront inserts th at the front of l.
// If th is already in l, it is moved instead.
func (l *list) PushFront(th *Thread) {
	l.Remove(th)
	i := l.alloc(th)
	l.links[i].next = l.head
	if l.head != 0 {
		l.links[l.head].prev = i
	} else {
		l.tail = i
	}
	l.head = i
	l.n++
	*l.slot(th) = i
}

// PushBack inserts th at the back of l.
// If th is already in l, it is moved instead.
func (l *list) PushBack(th *Thread) {
	l.Remove(th)
	i := l.alloc(th)
	l.links[i].prev = l.tail
	if l.tail != 0 {
		l.links[l.tail].next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.n++
	*l.slot(th) = i
}

func (l *list) PopFront() *Thread {
	th := l.Front()
	if th != nil {
		l.Remove(th)
	}
	return th
}

// Remove detaches th from l and reports whether th was in l.
func (l *list) Remove(th *Thread) bool {
	p := l.slot(th)
	i := *p
	if i == 0 {
		return false
	}
	lk := &l.links[i]
	if lk.prev != 0 {
		l.links[lk.prev].next = lk.next
	} else {
		l.head = lk.next
	}
	if lk.next != 0 {
		l.links[lk.next].prev = lk.prev
	} else {
		l.tail = lk.prev
	}
	l.links[i] = link{next: l.free}
	l.free = i
	l.n--
	*p = 0
	return true
}

// All returns an iterator over l from front to back.
// l must not be modified during iteration.
func (l *list) All() iter.Seq[*Thread] {
	return func(yield func(*Thread) bool) {
		for i := l.head; i != 0; i = l.links[i].next {
			if !yield(l.links[i].th) {
				return
			}
		}
	}
}
