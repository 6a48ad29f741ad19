package node

import (
	"sort"
	"sync"
	"time"

	"github.com/fieldmesh/fieldmesh/src/mesh"
)

// Pending is one queued message together with its retry bookkeeping.
type Pending struct {
	Message    *mesh.Message
	EnqueuedAt time.Time
	Attempts   int

	readyAt time.Time
}

// OfflineQueue holds messages that could not be delivered, ordered by
// priority. Alerts drain before commands, commands before status updates,
// status updates before chat. Failed deliveries are retried with exponential
// backoff, and messages that outlive the expiry window are dropped and
// reported instead of retried forever.
type OfflineQueue struct {
	sync.Mutex

	items []*Pending

	retryBase time.Duration
	retryCap  time.Duration
	expiry    time.Duration
}

// NewOfflineQueue creates an OfflineQueue with the given retry and expiry
// parameters.
func NewOfflineQueue(retryBase, retryCap, expiry time.Duration) *OfflineQueue {
	return &OfflineQueue{
		items:     []*Pending{},
		retryBase: retryBase,
		retryCap:  retryCap,
		expiry:    expiry,
	}
}

// Push enqueues a message for later delivery. It is immediately eligible for
// the next drain.
func (q *OfflineQueue) Push(msg *mesh.Message, now time.Time) {
	q.Lock()
	defer q.Unlock()

	q.items = append(q.items, &Pending{
		Message:    msg,
		EnqueuedAt: now,
		readyAt:    now,
	})
}

// Due removes and returns the messages whose retry delay has elapsed, highest
// priority first, along with the messages that exceeded the expiry window.
// Expired messages are dropped from the queue entirely.
func (q *OfflineQueue) Due(now time.Time) (due []*Pending, expired []*mesh.Message) {
	q.Lock()
	defer q.Unlock()

	keep := q.items[:0]
	for _, p := range q.items {
		switch {
		case now.Sub(p.EnqueuedAt) > q.expiry:
			expired = append(expired, p.Message)
		case !p.readyAt.After(now):
			due = append(due, p)
		default:
			keep = append(keep, p)
		}
	}
	q.items = keep

	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := due[i].Message.Type.Priority(), due[j].Message.Type.Priority()
		if pi != pj {
			return pi < pj
		}
		return due[i].EnqueuedAt.Before(due[j].EnqueuedAt)
	})

	return due, expired
}

// Requeue puts a message back after a failed delivery attempt, doubling its
// retry delay up to the cap.
func (q *OfflineQueue) Requeue(p *Pending, now time.Time) {
	q.Lock()
	defer q.Unlock()

	p.Attempts++

	delay := q.retryBase << uint(p.Attempts-1)
	if delay > q.retryCap || delay <= 0 {
		delay = q.retryCap
	}
	p.readyAt = now.Add(delay)

	q.items = append(q.items, p)
}

// Len returns the number of queued messages.
func (q *OfflineQueue) Len() int {
	q.Lock()
	defer q.Unlock()

	return len(q.items)
}
