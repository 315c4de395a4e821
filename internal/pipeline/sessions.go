package pipeline

import "sync"

// sessionSet tracks every browser tab a pipeline currently holds so that a
// cancel can tear them all down while workers are still inside them. It
// satisfies job.Session.
type sessionSet struct {
	mu       sync.Mutex
	open     map[Session]struct{}
	closed   bool
	closeAll sync.Once
}

func newSessionSet() *sessionSet {
	return &sessionSet{open: make(map[Session]struct{})}
}

// add registers a live session. If the set was already closed the session is
// closed immediately so a racing worker cannot leak a tab past a cancel.
func (s *sessionSet) add(sess Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Close()
		return
	}
	s.open[sess] = struct{}{}
	s.mu.Unlock()
}

// remove closes a session the worker is done with.
func (s *sessionSet) remove(sess Session) {
	s.mu.Lock()
	delete(s.open, sess)
	s.mu.Unlock()
	sess.Close()
}

// Close tears down every tracked session. Safe to call more than once.
func (s *sessionSet) Close() {
	s.closeAll.Do(func() {
		s.mu.Lock()
		s.closed = true
		sessions := make([]Session, 0, len(s.open))
		for sess := range s.open {
			sessions = append(sessions, sess)
		}
		s.open = nil
		s.mu.Unlock()
		for _, sess := range sessions {
			sess.Close()
		}
	})
}

// sessionCloser adapts a single session to job.Session.
type sessionCloser struct{ s Session }

func (c sessionCloser) Close() { c.s.Close() }
