package qlc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PendingRequest is an outstanding query awaiting its reply.
//
// It completes exactly once: with the reply fields, or with an error when
// the connection drops, the request times out or it is cancelled.
type PendingRequest struct {
	Command   string
	CreatedAt time.Time

	verb string
	done *closeOnce

	// abandoned is guarded by Correlator.mu.
	abandoned bool

	mu    sync.Mutex
	reply []string
	err   error
}

// complete records the outcome. Returns false if already completed.
func (p *PendingRequest) complete(reply []string, err error) bool {
	completed := false
	p.done.once.Do(func() {
		p.mu.Lock()
		p.reply = reply
		p.err = err
		p.mu.Unlock()
		close(p.done.ch)
		completed = true
	})
	return completed
}

// Done is closed when the request completes.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done.Done()
}

// Result returns the reply or failure. Only meaningful after Done is closed.
func (p *PendingRequest) Result() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reply, p.err
}

// Wait blocks until the request completes or ctx is done.
// A ctx expiry does not withdraw the request; use Correlator.Cancel for that.
func (p *PendingRequest) Wait(ctx context.Context) ([]string, error) {
	select {
	case <-p.Done():
		return p.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Correlator matches reply frames to outstanding queries.
//
// Requests are queued per verb and a reply completes the oldest request
// with the same namespace and verb. The protocol replies in request order,
// so FIFO matching holds as long as requests are registered in the order
// they are written. A request whose caller gave up stays queued as an
// abandoned placeholder until its reply arrives, so the late reply is
// discarded rather than handed to the next request with the same verb.
type Correlator struct {
	mu     sync.Mutex
	queues map[string][]*PendingRequest
	now    func() time.Time

	discarded atomic.Uint64
}

// Ensure Correlator can classify frames.
var _ ReplyMatcher = (*Correlator)(nil)

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		queues: make(map[string][]*PendingRequest),
		now:    time.Now,
	}
}

// Register queues a pending request for a namespaced command.
//
// Returns:
//   - *PendingRequest: handle to wait on
//   - error: ErrNotQuery if the command lacks the namespace marker or a verb
func (c *Correlator) Register(command string) (*PendingRequest, error) {
	verb := commandVerb(Decode(command))
	if verb == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotQuery, command)
	}

	p := &PendingRequest{
		Command:   command,
		CreatedAt: c.now(),
		verb:      verb,
		done:      newCloseOnce(),
	}

	c.mu.Lock()
	c.queues[verb] = append(c.queues[verb], p)
	c.mu.Unlock()
	return p, nil
}

// Matches reports whether an outstanding request would accept this frame.
func (c *Correlator) Matches(fields []string) bool {
	verb := commandVerb(fields)
	if verb == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[verb]) > 0
}

// Resolve completes the oldest request matching the frame's namespace and verb.
// Returns false when nothing is waiting, leaving the frame for push routing.
func (c *Correlator) Resolve(fields []string) bool {
	verb := commandVerb(fields)
	if verb == "" {
		return false
	}

	c.mu.Lock()
	queue := c.queues[verb]
	if len(queue) == 0 {
		c.mu.Unlock()
		return false
	}
	p := queue[0]
	c.dequeue(verb, 0)
	abandoned := p.abandoned
	c.mu.Unlock()

	if abandoned {
		c.discarded.Add(1)
		return true
	}
	p.complete(fields, nil)
	return true
}

// Abandon completes p with err but leaves it queued. The reply the controller
// still owes it is consumed and discarded by Resolve. Use it once the request
// is on the wire; Cancel is for requests that never reached it.
// Returns false if the request had already completed.
func (c *Correlator) Abandon(p *PendingRequest, err error) bool {
	c.mu.Lock()
	for _, q := range c.queues[p.verb] {
		if q == p {
			q.abandoned = true
			break
		}
	}
	c.mu.Unlock()
	return p.complete(nil, err)
}

// Discarded returns how many late replies were consumed by abandoned requests.
func (c *Correlator) Discarded() uint64 {
	return c.discarded.Load()
}

// Cancel withdraws a request and completes it with err.
// Returns false if the request had already completed.
func (c *Correlator) Cancel(p *PendingRequest, err error) bool {
	c.mu.Lock()
	for i, q := range c.queues[p.verb] {
		if q == p {
			c.dequeue(p.verb, i)
			break
		}
	}
	c.mu.Unlock()
	return p.complete(nil, err)
}

// FailAll completes every outstanding request with err and empties the queues.
// Returns the number of requests failed.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	queues := c.queues
	c.queues = make(map[string][]*PendingRequest)
	c.mu.Unlock()

	failed := 0
	for _, queue := range queues {
		for _, p := range queue {
			if p.complete(nil, err) {
				failed++
			}
		}
	}
	return failed
}

// Pending returns the number of outstanding requests. Abandoned
// placeholders are not counted.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queues {
		for _, p := range q {
			if !p.abandoned {
				n++
			}
		}
	}
	return n
}

// dequeue removes index i from a verb queue. Caller holds c.mu.
func (c *Correlator) dequeue(verb string, i int) {
	queue := c.queues[verb]
	queue = append(queue[:i], queue[i+1:]...)
	if len(queue) == 0 {
		delete(c.queues, verb)
		return
	}
	c.queues[verb] = queue
}
