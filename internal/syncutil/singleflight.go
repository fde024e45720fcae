package syncutil

import (
	"golang.org/x/sync/singleflight"
)

// Flight deduplicates concurrent calls that share a key: while one execution
// of fn is in flight for a key, later callers with the same key wait for and
// receive that execution's result instead of starting their own. Once the
// call completes the key is free again, so a later call starts fresh.
type Flight struct {
	g singleflight.Group
}

// NewFlight creates an empty single-flight group.
func NewFlight() *Flight {
	return &Flight{}
}

// Do runs fn under key, sharing the outcome with all concurrent callers of
// the same key. Every waiter receives the same value or the same error.
func (f *Flight) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := f.g.Do(key, fn)
	return v, err
}

// Go runs fn under key without waiting for the result. At most one execution
// per key is in flight; joining an existing one starts no second execution
// but still hands its shared outcome to done (which may be nil) on a separate
// goroutine.
func (f *Flight) Go(key string, fn func() (interface{}, error), done func(interface{}, error)) {
	ch := f.g.DoChan(key, fn)
	go func() {
		res := <-ch
		if done != nil {
			done(res.Val, res.Err)
		}
	}()
}
