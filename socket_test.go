package zreactor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func recvAll(t *testing.T, recv func() ([]byte, error)) []string {
	t.Helper()
	var msgs []string
	for {
		msg, err := recv()
		if errors.Is(err, ErrWouldBlock) {
			return msgs
		} else if err != nil {
			t.Fatalf("Recv(): %v", err)
		}
		msgs = append(msgs, string(msg))
	}
}

func TestSocket_Endpoints(t *testing.T) {
	zctx := newTestContext(t)
	pull, err := zctx.NewPullSocket()
	if err != nil {
		t.Fatal(err)
	}
	push, err := zctx.NewPushSocket()
	if err != nil {
		t.Fatal(err)
	}
	sub, err := zctx.NewSubSocket()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{name: "bind", op: func() error { return pull.Bind("inproc://endpoints") }},
		{name: "bind twice", op: func() error { return push.Bind("inproc://endpoints") }, wantErr: ErrAddressInUse},
		{name: "tcp", op: func() error { return pull.Bind("tcp://127.0.0.1:5555") }, wantErr: ErrUnsupportedTransport},
		{name: "connect unbound", op: func() error { return push.Connect("inproc://nowhere") }, wantErr: ErrConnectionRefused},
		{name: "connect wrong kind", op: func() error { return sub.Connect("inproc://endpoints") }, wantErr: ErrIncompatibleSockets},
		{name: "connect", op: func() error { return push.Connect("inproc://endpoints") }},
		{name: "disconnect unknown", op: func() error { return push.Disconnect("inproc://nowhere") }, wantErr: errAny},
		{name: "disconnect", op: func() error { return push.Disconnect("inproc://endpoints") }},
		{name: "unbind", op: func() error { return pull.Unbind("inproc://endpoints") }},
		{name: "unbind twice", op: func() error { return pull.Unbind("inproc://endpoints") }, wantErr: errAny},
	}
	for _, tt := range tests {
		err := tt.op()
		switch {
		case tt.wantErr == nil && err != nil:
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		case tt.wantErr == errAny && err == nil:
			t.Errorf("%s: expected an error", tt.name)
		case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
			t.Errorf("%s: expected %v, got: %v", tt.name, tt.wantErr, err)
		}
	}

	if eps := pull.Endpoints(); len(eps) != 0 {
		t.Errorf("expected no endpoints after unbinding, got: %v", eps)
	}
	if err := push.Send([]byte("x")); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("expected ErrWouldBlock without peers, got: %v", err)
	}
}

func TestSocket_Pair(t *testing.T) {
	zctx := newTestContext(t)
	a, err := zctx.NewPairSocket()
	if err != nil {
		t.Fatal(err)
	}
	b, err := zctx.NewPairSocket()
	if err != nil {
		t.Fatal(err)
	}
	c, err := zctx.NewPairSocket()
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Bind("inproc://pair"); err != nil {
		t.Fatal(err)
	}
	if err := b.Connect("inproc://pair"); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect("inproc://pair"); !errors.Is(err, ErrAddressInUse) {
		t.Errorf("expected a second pair connection to fail, got: %v", err)
	}

	for _, msg := range []string{"one", "two"} {
		if err := b.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Send([]byte("back")); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"one", "two"}, recvAll(t, a.Recv)); diff != "" {
		t.Errorf("unexpected messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"back"}, recvAll(t, b.Recv)); diff != "" {
		t.Errorf("unexpected messages (-want +got):\n%s", diff)
	}

	state, err := a.ReadyState()
	if err != nil {
		t.Fatal(err)
	}
	if state != EventWritable {
		t.Errorf("expected drained pair to be writable only, got: %s", state)
	}
}

func TestSocket_PushPull(t *testing.T) {
	zctx := newTestContext(t)
	push, err := zctx.NewPushSocket()
	if err != nil {
		t.Fatal(err)
	}
	if err := push.Bind("inproc://pipeline"); err != nil {
		t.Fatal(err)
	}

	pulls := make([]*PullSocket, 2)
	for i := range pulls {
		if pulls[i], err = zctx.NewPullSocket(); err != nil {
			t.Fatal(err)
		}
		if err := pulls[i].Connect("inproc://pipeline"); err != nil {
			t.Fatal(err)
		}
	}

	for _, msg := range []string{"a", "b", "c", "d"} {
		if err := push.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}

	// round-robin across peers
	if diff := cmp.Diff([]string{"a", "c"}, recvAll(t, pulls[0].Recv)); diff != "" {
		t.Errorf("unexpected messages on first pull (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "d"}, recvAll(t, pulls[1].Recv)); diff != "" {
		t.Errorf("unexpected messages on second pull (-want +got):\n%s", diff)
	}

	if err := pulls[1].Close(); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"e", "f"} {
		if err := push.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]string{"e", "f"}, recvAll(t, pulls[0].Recv)); diff != "" {
		t.Errorf("expected closed peer to be skipped (-want +got):\n%s", diff)
	}
}

func TestSocket_PubSub(t *testing.T) {
	zctx := newTestContext(t)
	pub, err := zctx.NewPubSocket()
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Bind("inproc://news"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		subscriptions []string
		unsubscribe   string
		want          []string
	}{
		{name: "everything", subscriptions: []string{""}, want: []string{"weather.rain", "sports.goal", "weather.sun"}},
		{name: "prefix", subscriptions: []string{"weather."}, want: []string{"weather.rain", "weather.sun"}},
		{name: "none", want: nil},
		{name: "unsubscribed", subscriptions: []string{"sports.", "weather."}, unsubscribe: "weather.", want: []string{"sports.goal"}},
	}

	subs := make([]*SubSocket, len(tests))
	for i, tt := range tests {
		if subs[i], err = zctx.NewSubSocket(); err != nil {
			t.Fatal(err)
		}
		for _, prefix := range tt.subscriptions {
			subs[i].Subscribe([]byte(prefix))
		}
		if tt.unsubscribe != "" && !subs[i].Unsubscribe([]byte(tt.unsubscribe)) {
			t.Errorf("%s: expected Unsubscribe to find %q", tt.name, tt.unsubscribe)
		}
		if err := subs[i].Connect("inproc://news"); err != nil {
			t.Fatal(err)
		}
	}

	for _, msg := range []string{"weather.rain", "sports.goal", "weather.sun"} {
		if err := pub.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	for i, tt := range tests {
		if diff := cmp.Diff(tt.want, recvAll(t, subs[i].Recv)); diff != "" {
			t.Errorf("%s: unexpected messages (-want +got):\n%s", tt.name, diff)
		}
	}

	state, err := pub.ReadyState()
	if err != nil || state != EventWritable {
		t.Errorf("expected publisher to always be writable, got: %s, %v", state, err)
	}
}

func TestSocket_Close(t *testing.T) {
	zctx := newTestContext(t)
	pair, err := zctx.NewPairSocket()
	if err != nil {
		t.Fatal(err)
	}
	if err := pair.Bind("inproc://closing"); err != nil {
		t.Fatal(err)
	}

	if err := pair.Close(); err != nil {
		t.Fatal(err)
	}
	if err := pair.Close(); err != nil {
		t.Errorf("expected Close to be idempotent, got: %v", err)
	}
	if _, err := pair.Recv(); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("expected ErrSocketClosed, got: %v", err)
	}
	if err := pair.Send(nil); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected a stale handle error, got: %v", err)
	}
	if err := pair.Bind("inproc://closing-again"); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("expected ErrSocketClosed, got: %v", err)
	}
	var stale *StaleHandleError
	if _, err := pair.ReadyState(); !errors.As(err, &stale) || stale.Pollable != Pollable(pair) {
		t.Errorf("expected a stale handle error naming the socket, got: %#v", err)
	}

	// the endpoint is released for reuse
	other, err := zctx.NewPairSocket()
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Bind("inproc://closing"); err != nil {
		t.Errorf("expected endpoint to be free after Close, got: %v", err)
	}

	if err := zctx.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := other.ReadyState(); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("expected context Close to close its sockets, got: %v", err)
	}
	if _, err := zctx.NewPairSocket(); err == nil {
		t.Errorf("expected creating a socket on a closed context to fail")
	}
}

func TestKind_String(t *testing.T) {
	got := []string{KindPair.String(), KindPush.String(), KindPull.String(), KindPub.String(), KindSub.String()}
	if diff := cmp.Diff([]string{"PAIR", "PUSH", "PULL", "PUB", "SUB"}, got); diff != "" {
		t.Errorf("unexpected kind names (-want +got):\n%s", diff)
	}
}
