package zreactor

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/exp/slices"
)

// Kind is the messaging pattern of a socket.
type Kind int

const (
	KindPair Kind = iota
	KindPush
	KindPull
	KindPub
	KindSub
)

var kindNames = [...]string{
	KindPair: "PAIR",
	KindPush: "PUSH",
	KindPull: "PULL",
	KindPub:  "PUB",
	KindSub:  "SUB",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) capabilities() Events {
	switch k {
	case KindPair:
		return EventBoth
	case KindPush, KindPub:
		return EventWritable
	default:
		return EventReadable
	}
}

func (k Kind) peerKind() Kind {
	switch k {
	case KindPush:
		return KindPull
	case KindPull:
		return KindPush
	case KindPub:
		return KindSub
	case KindSub:
		return KindPub
	default:
		return KindPair
	}
}

// Socket is implemented by every in-process socket kind.
type Socket interface {
	Pollable

	Kind() Kind
	Bind(address string) error
	Connect(address string) error
	Unbind(address string) error
	Disconnect(address string) error
	Close() error

	base() *socket
}

type link struct {
	peer    *socket
	address string
}

// socket implements the behaviour shared by all kinds. Capability-specific
// operations (Send, Recv, Subscribe) are only exported on the kinds that
// support them.
type socket struct {
	ident uint64
	kind  Kind
	ctx   *Context
	sig   *signaler
	hwm   int
	owner Socket // exported wrapper handed out by the Context

	mu            sync.Mutex
	inbox         *queue.Queue
	peers         []link
	next          int
	subscriptions [][]byte
	endpoints     []string
	connections   []string
	closed        bool
}

func newSocket(ctx *Context, kind Kind, hwm int) (*socket, error) {
	sig, err := newSignaler()
	if err != nil {
		return nil, err
	}
	return &socket{
		ident: nextID(),
		kind:  kind,
		ctx:   ctx,
		sig:   sig,
		hwm:   hwm,
		inbox: queue.New(),
	}, nil
}

func (s *socket) id() uint64 {
	return s.ident
}

func (s *socket) base() *socket {
	return s
}

// Kind returns the socket's messaging pattern.
func (s *socket) Kind() Kind {
	return s.kind
}

// Capabilities implements [Pollable].
func (s *socket) Capabilities() Events {
	return s.kind.capabilities()
}

func (s *socket) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(s.endpoints) > 0:
		return fmt.Sprintf("%s socket bound to %s", s.kind, s.endpoints[0])
	case len(s.connections) > 0:
		return fmt.Sprintf("%s socket connected to %s", s.kind, s.connections[0])
	default:
		return fmt.Sprintf("%s socket", s.kind)
	}
}

// Endpoints returns the addresses the socket is bound to.
func (s *socket) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.endpoints)
}

// ReadyState implements [Pollable]. A socket is readable when it has queued
// messages, and writable when a send would not fail with [ErrWouldBlock].
func (s *socket) ReadyState() (Events, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return EventNone, &StaleHandleError{Pollable: s.owner}
	}
	var ready Events
	if s.kind.capabilities().Readable() && s.inbox.Length() > 0 {
		ready |= EventReadable
	}
	peers := s.peerSockets()
	s.mu.Unlock()

	if s.kind.capabilities().Writable() {
		if s.kind == KindPub {
			// publishers drop on full subscribers instead of blocking
			ready |= EventWritable
		} else {
			for _, peer := range peers {
				if peer.hasRoom() {
					ready |= EventWritable
					break
				}
			}
		}
	}
	return ready, nil
}

func (s *socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *socket) attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints) > 0 || len(s.connections) > 0
}

// Bind makes the socket reachable at an inproc:// address.
func (s *socket) Bind(address string) error {
	if s.isClosed() {
		return ErrSocketClosed
	}
	if err := s.ctx.bind(s, address); err != nil {
		return err
	}

	s.mu.Lock()
	s.endpoints = append(s.endpoints, address)
	s.mu.Unlock()
	return nil
}

// Unbind releases an address and drops connections made through it.
func (s *socket) Unbind(address string) error {
	if !s.ctx.unbind(s, address) {
		return fmt.Errorf("zreactor: %s is not bound to %s", s.kind, address)
	}

	s.mu.Lock()
	s.endpoints = slices.DeleteFunc(s.endpoints, func(e string) bool { return e == address })
	s.mu.Unlock()
	s.unlink(address)
	return nil
}

// Connect links the socket to the socket bound at address.
// The peer must already be bound and of the matching kind.
func (s *socket) Connect(address string) error {
	peer, err := s.ctx.lookup(address)
	if err != nil {
		return err
	}
	if peer == s {
		return fmt.Errorf("%w: cannot connect a socket to itself", ErrIncompatibleSockets)
	}
	if peer.kind != s.kind.peerKind() {
		return fmt.Errorf("%w: %s cannot connect to %s", ErrIncompatibleSockets, s.kind, peer.kind)
	}

	// lock in a stable order so concurrent connects cannot deadlock
	first, second := s, peer
	if second.ident < first.ident {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	switch {
	case s.closed || peer.closed:
		err = ErrSocketClosed
	case s.kind == KindPair && (len(s.peers) > 0 || len(peer.peers) > 0):
		err = fmt.Errorf("%w: pair socket already connected", ErrAddressInUse)
	default:
		s.peers = append(s.peers, link{peer: peer, address: address})
		peer.peers = append(peer.peers, link{peer: s, address: address})
		s.connections = append(s.connections, address)
	}
	second.mu.Unlock()
	first.mu.Unlock()
	if err != nil {
		return err
	}

	// writability of both ends may have changed
	_ = s.sig.signal()
	_ = peer.sig.signal()
	return nil
}

// Disconnect drops the connection made to address.
func (s *socket) Disconnect(address string) error {
	s.mu.Lock()
	i := slices.Index(s.connections, address)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("zreactor: %s is not connected to %s", s.kind, address)
	}
	s.connections = slices.Delete(s.connections, i, i+1)
	s.mu.Unlock()

	s.unlink(address)
	return nil
}

func (s *socket) unlink(address string) {
	s.mu.Lock()
	var dropped []*socket
	s.peers = slices.DeleteFunc(s.peers, func(l link) bool {
		if l.address == address {
			dropped = append(dropped, l.peer)
			return true
		}
		return false
	})
	s.mu.Unlock()

	for _, peer := range dropped {
		peer.dropPeer(s, address)
	}
	_ = s.sig.signal()
}

func (s *socket) dropPeer(peer *socket, address string) {
	s.mu.Lock()
	s.peers = slices.DeleteFunc(s.peers, func(l link) bool {
		return l.peer == peer && (address == "" || l.address == address)
	})
	s.mu.Unlock()
	_ = s.sig.signal()
}

// Close closes the socket. Queued messages are discarded and the socket
// becomes a stale handle.
func (s *socket) Close() error {
	return s.close()
}

func (s *socket) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := s.peerSockets()
	s.peers = nil
	s.mu.Unlock()

	s.ctx.forget(s)
	for _, peer := range peers {
		peer.dropPeer(s, "")
	}
	return s.sig.close()
}

// peerSockets must be called with s.mu held.
func (s *socket) peerSockets() []*socket {
	peers := make([]*socket, len(s.peers))
	for i, l := range s.peers {
		peers[i] = l.peer
	}
	return peers
}

func (s *socket) hasRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.inbox.Length() < s.hwm
}

func (s *socket) send(msg []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSocketClosed
	}
	peers := s.peerSockets()
	start := s.next
	s.mu.Unlock()

	if s.kind == KindPub {
		for _, peer := range peers {
			peer.deliver(bytes.Clone(msg))
		}
		return nil
	}

	for i := range peers {
		n := (start + i) % len(peers)
		if peers[n].deliver(bytes.Clone(msg)) {
			s.mu.Lock()
			s.next = n + 1
			s.mu.Unlock()
			return nil
		}
	}
	return ErrWouldBlock
}

// deliver queues msg on s. It returns false if s is full, closed,
// or not subscribed to msg.
func (s *socket) deliver(msg []byte) bool {
	s.mu.Lock()
	if s.closed || s.inbox.Length() >= s.hwm || (s.kind == KindSub && !s.subscribed(msg)) {
		s.mu.Unlock()
		return false
	}
	wasEmpty := s.inbox.Length() == 0
	s.inbox.Add(msg)
	s.mu.Unlock()

	if wasEmpty {
		_ = s.sig.signal()
	}
	return true
}

func (s *socket) recv() ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	if s.inbox.Length() == 0 {
		s.mu.Unlock()
		return nil, ErrWouldBlock
	}
	msg := s.inbox.Remove().([]byte)
	var writers []*socket
	if s.inbox.Length()+1 >= s.hwm {
		writers = s.peerSockets()
	}
	s.mu.Unlock()

	// senders blocked on our high-water mark can write again
	for _, w := range writers {
		_ = w.sig.signal()
	}
	return msg, nil
}

// subscribed must be called with s.mu held.
func (s *socket) subscribed(msg []byte) bool {
	for _, prefix := range s.subscriptions {
		if bytes.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// PairSocket is an exclusive bidirectional socket connected to one other PAIR socket.
type PairSocket struct {
	*socket
}

// Send queues msg for the peer without blocking.
// It fails with [ErrWouldBlock] if there is no peer or the peer is full.
func (p *PairSocket) Send(msg []byte) error {
	return p.send(msg)
}

// Recv returns the next queued message, or [ErrWouldBlock] if there is none.
func (p *PairSocket) Recv() ([]byte, error) {
	return p.recv()
}

// PushSocket distributes messages round-robin over its PULL peers.
type PushSocket struct {
	*socket
}

// Send queues msg on the next PULL peer with room.
// It fails with [ErrWouldBlock] if every peer is full or there are none.
func (p *PushSocket) Send(msg []byte) error {
	return p.send(msg)
}

// PullSocket receives messages from PUSH peers.
type PullSocket struct {
	*socket
}

// Recv returns the next queued message, or [ErrWouldBlock] if there is none.
func (p *PullSocket) Recv() ([]byte, error) {
	return p.recv()
}

// PubSocket fans messages out to subscribed SUB peers. Sends never block;
// subscribers at their high-water mark miss the message.
type PubSocket struct {
	*socket
}

// Send publishes msg.
func (p *PubSocket) Send(msg []byte) error {
	return p.send(msg)
}

// SubSocket receives published messages matching one of its subscriptions.
// A SubSocket without subscriptions receives nothing.
type SubSocket struct {
	*socket
}

// Subscribe adds a message prefix filter. An empty prefix matches every message.
func (s *SubSocket) Subscribe(prefix []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, bytes.Clone(prefix))
}

// Unsubscribe removes one filter previously added with Subscribe.
func (s *SubSocket) Unsubscribe(prefix []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.subscriptions, func(p []byte) bool { return bytes.Equal(p, prefix) })
	if i < 0 {
		return false
	}
	s.subscriptions = slices.Delete(s.subscriptions, i, i+1)
	return true
}

// Recv returns the next queued message, or [ErrWouldBlock] if there is none.
func (s *SubSocket) Recv() ([]byte, error) {
	return s.recv()
}

var (
	_ Socket = (*PairSocket)(nil)
	_ Socket = (*PushSocket)(nil)
	_ Socket = (*PullSocket)(nil)
	_ Socket = (*PubSocket)(nil)
	_ Socket = (*SubSocket)(nil)
)
