package zreactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Poller waits on a set of pollitems once per call to [Poller.Poll],
// reporting which are ready. Sockets and raw descriptors can be mixed freely.
//
// A Poller is not safe for concurrent use.
type Poller struct {
	items []*Pollitem

	readables []Pollable
	writables []Pollable
	errs      []error
	results   []pollResult

	fds       []pollFd
	fdOwners  []int // index into items, or -1 for the waker
	itemFds   []int // index into fds per item

	// set by Loop
	waker           *signaler
	woken           bool
	requireHandlers bool
}

// pollResult is one item's outcome of a poll.
type pollResult struct {
	item  *Pollitem
	ready Events
	err   error
}

// NewPoller constructs an empty [Poller].
func NewPoller() *Poller {
	return &Poller{}
}

// Register adds item to the poller. An item for a pollable already registered
// for one of the same directions is rejected with [ErrDuplicateRegistration].
func (p *Poller) Register(item *Pollitem) error {
	if item == nil {
		return errors.New("zreactor: nil pollitem")
	}
	if item.owner != nil {
		return fmt.Errorf("%w: %s is already registered", ErrDuplicateRegistration, item)
	}
	if err := checkLive(item.pollable); err != nil {
		return err
	}
	if p.requireHandlers {
		if err := checkHandler(item.handler, item.pollable, item.events); err != nil {
			return err
		}
	}

	id := item.pollable.id()
	if slices.ContainsFunc(p.items, func(other *Pollitem) bool {
		return other.pollable.id() == id && other.events&item.events != 0
	}) {
		return fmt.Errorf("%w: %s for %s", ErrDuplicateRegistration, describe(item.pollable), item.events)
	}

	item.owner = p
	p.items = append(p.items, item)
	return nil
}

// RegisterReadable registers p for readability without a handler.
func (p *Poller) RegisterReadable(pollable Pollable) (*Pollitem, error) {
	return p.registerNew(pollable, EventReadable)
}

// RegisterWritable registers p for writability without a handler.
func (p *Poller) RegisterWritable(pollable Pollable) (*Pollitem, error) {
	return p.registerNew(pollable, EventWritable)
}

func (p *Poller) registerNew(pollable Pollable, events Events) (*Pollitem, error) {
	item, err := NewPollitem(pollable, events)
	if err != nil {
		return nil, err
	}
	if err := p.Register(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Remove deregisters every item for pollable, returning whether any was registered.
func (p *Poller) Remove(pollable Pollable) bool {
	if pollable == nil {
		return false
	}
	id := pollable.id()
	return p.removeWhere(func(item *Pollitem) bool {
		return item.pollable.id() == id
	})
}

// RemoveItem deregisters a single item, returning whether it was registered.
func (p *Poller) RemoveItem(item *Pollitem) bool {
	if item == nil || item.owner != p {
		return false
	}
	return p.removeWhere(func(other *Pollitem) bool {
		return other == item
	})
}

func (p *Poller) removeWhere(match func(*Pollitem) bool) bool {
	var removed bool
	p.items = slices.DeleteFunc(p.items, func(item *Pollitem) bool {
		if match(item) {
			item.owner = nil
			removed = true
			return true
		}
		return false
	})
	return removed
}

// Clear deregisters every item.
func (p *Poller) Clear() {
	for _, item := range p.items {
		item.owner = nil
	}
	p.items = nil
	p.resetResults()
}

// Items returns the registered items in registration order.
func (p *Poller) Items() []*Pollitem {
	return slices.Clone(p.items)
}

// Len returns the number of registered items.
func (p *Poller) Len() int {
	return len(p.items)
}

// Readables returns the pollables found readable by the last [Poller.Poll], in registration order.
func (p *Poller) Readables() []Pollable {
	return slices.Clone(p.readables)
}

// Writables returns the pollables found writable by the last [Poller.Poll], in registration order.
func (p *Poller) Writables() []Pollable {
	return slices.Clone(p.writables)
}

// Errors returns the [*PollError] conditions reported by the last [Poller.Poll],
// in registration order.
func (p *Poller) Errors() []error {
	return slices.Clone(p.errs)
}

// PollNonblock polls without waiting.
func (p *Poller) PollNonblock() (int, error) {
	return p.Poll(0)
}

// Poll waits up to timeout for any registered item to become ready and
// returns the number of items with something to report. A negative timeout
// waits indefinitely and zero returns immediately. With nothing registered it
// returns 0 at once.
//
// Error conditions on a descriptor, such as a write end whose reader went
// away, do not fail the call: the item is counted, its ready directions are
// listed as usual and the condition is available from [Poller.Errors].
//
// Registered pollables that were closed are reported as a [*StaleHandleError],
// with no ready items.
func (p *Poller) Poll(timeout time.Duration) (int, error) {
	if len(p.items) == 0 {
		p.resetResults()
		return 0, nil
	}
	if err := p.poll(timeout); err != nil {
		p.resetResults()
		return 0, err
	}

	var ready int
	for _, r := range p.results {
		var stale *StaleHandleError
		if errors.As(r.err, &stale) {
			p.resetResults()
			return 0, r.err
		}
		if r.err != nil {
			p.errs = append(p.errs, r.err)
		}
		if r.ready != EventNone || r.err != nil {
			ready++
		}
	}
	return ready, nil
}

func (p *Poller) resetResults() {
	p.results = p.results[:0]
	p.readables = p.readables[:0]
	p.writables = p.writables[:0]
	clear(p.errs)
	p.errs = p.errs[:0]
	p.woken = false
}

// poll performs one wait-and-report cycle, filling p.results.
func (p *Poller) poll(timeout time.Duration) error {
	p.resetResults()

	// closed resources must not reach poll(2): their descriptor numbers may be reused
	for _, item := range p.items {
		if err := checkLive(item.pollable); err != nil {
			p.results = append(p.results, pollResult{item: item, err: err})
		}
	}
	if len(p.results) > 0 {
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	wait := timeout
	for {
		if p.socketsReady() {
			wait = 0
		}

		p.buildPollSet()
		n, err := sysPoll(p.fds, wait)
		if err != nil {
			return fmt.Errorf("zreactor: poll: %w", err)
		}
		p.collect(n > 0)

		if len(p.results) > 0 || p.woken || wait == 0 {
			break
		}
		if timeout > 0 {
			// woken by a socket whose state changed back before we looked
			if wait = time.Until(deadline); wait <= 0 {
				break
			}
		}
	}

	for _, r := range p.results {
		if r.ready.Readable() {
			p.readables = append(p.readables, r.item.pollable)
		}
		if r.ready.Writable() {
			p.writables = append(p.writables, r.item.pollable)
		}
	}
	return nil
}

func (p *Poller) socketsReady() bool {
	for _, item := range p.items {
		if _, sock := pollTarget(item.pollable); sock != nil {
			if state, err := sock.ReadyState(); err != nil || state&item.events != 0 {
				return true
			}
		}
	}
	return false
}

// buildPollSet hands every raw descriptor to poll(2) with its interest, and every
// socket's signaler for readability.
func (p *Poller) buildPollSet() {
	p.fds = p.fds[:0]
	p.fdOwners = p.fdOwners[:0]
	p.itemFds = p.itemFds[:0]

	for i, item := range p.items {
		fd, sock := pollTarget(item.pollable)
		events := interestMask(item.events)
		if sock != nil {
			fd, events = sock.sig.rfd, pollIn
		}
		p.itemFds = append(p.itemFds, len(p.fds))
		p.fds = append(p.fds, pollFd{Fd: int32(fd), Events: events})
		p.fdOwners = append(p.fdOwners, i)
	}
	if p.waker != nil {
		p.fds = append(p.fds, pollFd{Fd: int32(p.waker.rfd), Events: pollIn})
		p.fdOwners = append(p.fdOwners, -1)
	}
}

// collect turns the revents of the last poll(2) into results, in registration order.
func (p *Poller) collect(woke bool) {
	p.results = p.results[:0]

	// drain signalers before looking at socket state so no wakeup is lost
	if woke {
		for i, fd := range p.fds {
			if fd.Revents == 0 {
				continue
			}
			owner := p.fdOwners[i]
			if owner < 0 {
				p.waker.drain()
				p.woken = true
				continue
			}
			if _, sock := pollTarget(p.items[owner].pollable); sock != nil {
				sock.sig.drain()
			}
		}
	}

	for i, item := range p.items {
		_, sock := pollTarget(item.pollable)
		if sock != nil {
			state, err := sock.ReadyState()
			if err != nil {
				p.results = append(p.results, pollResult{item: item, err: &StaleHandleError{Pollable: item.pollable}})
			} else if ready := state & item.events; ready != EventNone {
				p.results = append(p.results, pollResult{item: item, ready: ready})
			}
			continue
		}

		revents := p.fds[p.itemFds[i]].Revents
		switch {
		case revents == 0:
		case revents&pollNval != 0:
			p.results = append(p.results, pollResult{item: item, err: &StaleHandleError{Pollable: item.pollable}})
		case revents&pollErr != 0:
			p.results = append(p.results, pollResult{
				item:  item,
				ready: readyFromRevents(revents, item.events),
				err:   &PollError{Pollable: item.pollable, Revents: revents},
			})
		default:
			if ready := readyFromRevents(revents, item.events); ready != EventNone {
				p.results = append(p.results, pollResult{item: item, ready: ready})
			} else if revents&pollHup != 0 {
				// hangup on a write-only descriptor: the peer is gone
				p.results = append(p.results, pollResult{
					item: item,
					err:  &PollError{Pollable: item.pollable, Revents: revents},
				})
			}
		}
	}
}
