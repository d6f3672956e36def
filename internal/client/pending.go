package client

import "sync"

// pending is the single outstanding request: a one-shot future resolved by
// the apply loop, by a disconnect, or abandoned by the caller.
type pending struct {
	id   uint64
	once sync.Once
	done chan struct{}
	err  error
}

func newPending(id uint64) *pending {
	return &pending{id: id, done: make(chan struct{})}
}

// resolve completes the future. Only the first call has an effect.
func (p *pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the request completed.
func (p *pending) Done() <-chan struct{} { return p.done }

// Err is valid after Done is closed.
func (p *pending) Err() error {
	<-p.done
	return p.err
}
