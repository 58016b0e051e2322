package task

// TTLGain is the number of timer ticks a thread runs before the scheduler
// moves on.
const TTLGain = 2

// Scheduler is a round-robin ready queue. Threads are linked through their
// descriptors, so queue operations never allocate. The running thread stays
// queued; Next rotates it to the back.
type Scheduler struct {
	head, tail *Thread
	count      int
}

// Add appends a thread to the queue. Frozen threads may not be queued.
func (s *Scheduler) Add(t *Thread) {
	if t.Frozen() {
		panic(ErrFrozen)
	}

	t.nextReady = nil
	if s.tail == nil {
		s.head, s.tail = t, t
	} else {
		s.tail.nextReady = t
		s.tail = t
	}
	s.count++
}

// Remove unlinks the thread with the same pid and tid as t. It is a no-op if
// no such thread is queued.
func (s *Scheduler) Remove(t *Thread) {
	var prev *Thread
	for cur := s.head; cur != nil; prev, cur = cur, cur.nextReady {
		if cur.PID != t.PID || cur.TID != t.TID {
			continue
		}

		if prev == nil {
			s.head = cur.nextReady
		} else {
			prev.nextReady = cur.nextReady
		}
		if s.tail == cur {
			s.tail = prev
		}
		cur.nextReady = nil
		s.count--
		return
	}
}

// Next returns the thread to run next and moves it to the back of the queue.
// It returns nil if nothing is ready.
func (s *Scheduler) Next() *Thread {
	t := s.head
	if t == nil || t == s.tail {
		return t
	}

	s.head = t.nextReady
	t.nextReady = nil
	s.tail.nextReady = t
	s.tail = t
	return t
}

// Len returns the number of queued threads.
func (s *Scheduler) Len() int {
	return s.count
}
