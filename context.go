package zreactor

import (
	"fmt"
	"strings"
	"sync"
)

const inprocScheme = "inproc://"

// Context owns in-process sockets and the endpoint names they bind to.
// A Context and its sockets may be used from several goroutines;
// a [Loop] polling them may not.
type Context struct {
	cfg contextConfig

	mu        sync.Mutex
	endpoints map[string]*socket
	sockets   map[*socket]struct{}
	closed    bool
}

// NewContext constructs a new [Context].
func NewContext(options ...ContextOption) (*Context, error) {
	cfg, err := newContextConfig(options)
	if err != nil {
		return nil, err
	}
	return &Context{
		cfg:       cfg,
		endpoints: make(map[string]*socket),
		sockets:   make(map[*socket]struct{}),
	}, nil
}

// NewPairSocket creates an exclusive bidirectional socket.
func (c *Context) NewPairSocket() (*PairSocket, error) {
	s, err := c.newSocket(KindPair)
	if err != nil {
		return nil, err
	}
	sock := &PairSocket{socket: s}
	s.owner = sock
	return sock, nil
}

// NewPushSocket creates a send-only socket distributing messages round-robin to PULL peers.
func (c *Context) NewPushSocket() (*PushSocket, error) {
	s, err := c.newSocket(KindPush)
	if err != nil {
		return nil, err
	}
	sock := &PushSocket{socket: s}
	s.owner = sock
	return sock, nil
}

// NewPullSocket creates a receive-only socket fed by PUSH peers.
func (c *Context) NewPullSocket() (*PullSocket, error) {
	s, err := c.newSocket(KindPull)
	if err != nil {
		return nil, err
	}
	sock := &PullSocket{socket: s}
	s.owner = sock
	return sock, nil
}

// NewPubSocket creates a send-only socket fanning messages out to SUB peers.
func (c *Context) NewPubSocket() (*PubSocket, error) {
	s, err := c.newSocket(KindPub)
	if err != nil {
		return nil, err
	}
	sock := &PubSocket{socket: s}
	s.owner = sock
	return sock, nil
}

// NewSubSocket creates a receive-only socket that filters by subscription prefix.
func (c *Context) NewSubSocket() (*SubSocket, error) {
	s, err := c.newSocket(KindSub)
	if err != nil {
		return nil, err
	}
	sock := &SubSocket{socket: s}
	s.owner = sock
	return sock, nil
}

func (c *Context) newSocket(kind Kind) (*socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("zreactor: context is closed")
	}

	s, err := newSocket(c, kind, c.cfg.HWM)
	if err != nil {
		return nil, err
	}
	c.sockets[s] = struct{}{}
	return s, nil
}

// Close closes every socket created by the context.
// Sockets closed this way become stale handles.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sockets := make([]*socket, 0, len(c.sockets))
	for s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.mu.Unlock()

	var firstErr error
	for _, s := range sockets {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseEndpoint(address string) (string, error) {
	name, ok := strings.CutPrefix(address, inprocScheme)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTransport, address)
	}
	if name == "" {
		return "", fmt.Errorf("zreactor: empty endpoint name in %q", address)
	}
	return name, nil
}

func (c *Context) bind(s *socket, address string) error {
	name, err := parseEndpoint(address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.endpoints[name]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, address)
	}
	c.endpoints[name] = s
	return nil
}

func (c *Context) unbind(s *socket, address string) bool {
	name, err := parseEndpoint(address)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints[name] != s {
		return false
	}
	delete(c.endpoints, name)
	return true
}

func (c *Context) lookup(address string) (*socket, error) {
	name, err := parseEndpoint(address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionRefused, address)
	}
	return s, nil
}

func (c *Context) forget(s *socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sockets, s)
	for name, bound := range c.endpoints {
		if bound == s {
			delete(c.endpoints, name)
		}
	}
}
