package remote

import "sync"

// Feed is a Subscription implementation shared by adapters. stop releases
// the adapter's resources and runs once.
type Feed struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
	stop func()
}

// NewFeed returns an open feed.
func NewFeed(stop func()) *Feed {
	return &Feed{done: make(chan struct{}), stop: stop}
}

func (f *Feed) Done() <-chan struct{} { return f.done }

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close ends the feed without an error.
func (f *Feed) Close() { f.Finish(nil) }

// Finish ends the feed with err. Only the first call has an effect.
func (f *Feed) Finish(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		if f.stop != nil {
			f.stop()
		}
		close(f.done)
	})
}

// Closed reports whether the feed has ended.
func (f *Feed) Closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
