// Package correlation matches asynchronous responses to in-flight requests.
//
// Each outbound request registers its message id and receives a Pending
// handle. The entry completes exactly once, by Resolve, Fail, Expire or
// FailAll, and is removed from the table at that moment; a response arriving
// later is reported as unknown.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nativemsg/internal/domain"
	"nativemsg/internal/protocol/envelope"
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 10 * time.Second

type result struct {
	in  envelope.Inbound
	err error
}

// Pending is one registered request.
type Pending struct {
	ID       domain.MessageID
	Deadline time.Time

	table *Table
	done  chan result
}

// Table maps message ids to pending requests.
type Table struct {
	mu      sync.Mutex
	items   map[domain.MessageID]*Pending
	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

// New returns a Table whose entries expire after timeout (DefaultTimeout when <= 0).
func New(timeout time.Duration, log logrus.FieldLogger) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{
		items:   make(map[domain.MessageID]*Pending),
		timeout: timeout,
		now:     time.Now,
		log:     log.WithField("component", "correlation"),
	}
}

// Register adds id. A duplicate id is a programming error.
func (t *Table) Register(id domain.MessageID) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateMessageID, id)
	}
	p := &Pending{
		ID:       id,
		Deadline: t.now().Add(t.timeout),
		table:    t,
		done:     make(chan result, 1),
	}
	t.items[id] = p
	return p, nil
}

// take removes and returns the entry for id.
func (t *Table) take(id domain.MessageID) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return p, ok
}

// Resolve completes id with its response. Unknown ids are logged and ignored.
func (t *Table) Resolve(id domain.MessageID, in envelope.Inbound) bool {
	p, ok := t.take(id)
	if !ok {
		t.log.WithFields(logrus.Fields{
			"message_id": id,
			"kind":       in.Kind().String(),
		}).Warn("response for unknown message id")
		return false
	}
	p.done <- result{in: in}
	return true
}

// Fail completes id with err.
func (t *Table) Fail(id domain.MessageID, err error) bool {
	p, ok := t.take(id)
	if !ok {
		return false
	}
	p.done <- result{err: err}
	return true
}

// Expire completes id with domain.ErrTimeout.
func (t *Table) Expire(id domain.MessageID) bool {
	p, ok := t.take(id)
	if !ok {
		return false
	}
	t.log.WithField("message_id", id).Debug("request expired")
	p.done <- result{err: fmt.Errorf("%w: message %s", domain.ErrTimeout, id)}
	return true
}

// Cancel removes id without completing it.
func (t *Table) Cancel(id domain.MessageID) {
	t.take(id)
}

// FailAll completes every pending entry with err.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	items := t.items
	t.items = make(map[domain.MessageID]*Pending)
	t.mu.Unlock()

	for _, p := range items {
		p.done <- result{err: err}
	}
	return len(items)
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Has reports whether id is pending.
func (t *Table) Has(id domain.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[id]
	return ok
}

// Wait blocks until the entry completes, its deadline passes, or ctx ends.
// Abandoning the wait removes the entry.
func (p *Pending) Wait(ctx context.Context) (envelope.Inbound, error) {
	timer := time.NewTimer(time.Until(p.Deadline))
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.in, r.err
	case <-timer.C:
		p.table.Expire(p.ID)
	case <-ctx.Done():
		p.table.Cancel(p.ID)
		select {
		case r := <-p.done:
			// Completed concurrently with cancellation.
			return r.in, r.err
		default:
		}
		return envelope.Inbound{}, ctx.Err()
	}
	// Expire lost the race only if someone else completed the entry first.
	r := <-p.done
	return r.in, r.err
}
