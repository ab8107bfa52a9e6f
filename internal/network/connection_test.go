package network

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
)

type fakeSession struct {
	role        protocol.Role
	msgs        chan protocol.Message
	disconnects atomic.Int32
	gone        chan struct{}
	once        sync.Once
}

func newFakeSession(role protocol.Role) *fakeSession {
	return &fakeSession{role: role, msgs: make(chan protocol.Message, 16), gone: make(chan struct{})}
}

func (s *fakeSession) Role() protocol.Role { return s.role }

func (s *fakeSession) HandleMessage(msg protocol.Message) { s.msgs <- msg }

func (s *fakeSession) Disconnected() {
	s.disconnects.Add(1)
	s.once.Do(func() { close(s.gone) })
}

type peer struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.FrameReader
}

func (p *peer) send(f protocol.Frame) {
	p.t.Helper()
	p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	require.NoError(p.t, protocol.WriteFrame(p.conn, f))
}

func (p *peer) sendMessage(msg protocol.Message) {
	p.t.Helper()
	payload, err := protocol.Seal(msg)
	require.NoError(p.t, err)
	p.send(protocol.Frame{Kind: protocol.FrameCustomData, Payload: payload})
}

func (p *peer) logOn() {
	p.t.Helper()
	payload, err := protocol.DefaultLogOn().MarshalBinary()
	require.NoError(p.t, err)
	p.send(protocol.Frame{Kind: protocol.FrameLogOn, Payload: payload})

	f := p.recv()
	require.Equal(p.t, protocol.FrameLogOnAccepted, f.Kind)
}

func (p *peer) recv() protocol.Frame {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := p.reader.ReadFrame()
	require.NoError(p.t, err)
	return f
}

func startConnection(t *testing.T, ctx context.Context, session Session, opts Options) (*Connection, *peer) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	c := NewConnection(ctx, 7, server, opts)
	require.NoError(t, c.Start(session))
	return c, &peer{t: t, conn: client, reader: protocol.NewFrameReader(client)}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestConnectionHandshake(t *testing.T) {
	t.Parallel()

	session := newFakeSession(protocol.RoleUnknown)
	c, p := startConnection(t, context.Background(), session, DefaultOptions())
	defer c.Stop()

	payload, err := protocol.DefaultLogOn().MarshalBinary()
	require.NoError(t, err)
	p.send(protocol.Frame{Kind: protocol.FrameLogOn, Payload: payload})

	f := p.recv()
	assert.Equal(t, protocol.FrameLogOnAccepted, f.Kind)
	assert.Equal(t, uint32(7), f.Destination)
	assert.Equal(t, protocol.LogOnAcceptedPayload(7), f.Payload)
	assert.True(t, c.LoggedOn())
}

func TestConnectionDropsDataBeforeLogOn(t *testing.T) {
	t.Parallel()

	session := newFakeSession(protocol.RoleUnknown)
	c, p := startConnection(t, context.Background(), session, DefaultOptions())
	defer c.Stop()

	p.sendMessage(&protocol.ClientLoginRequest{Name: "early"})
	p.logOn()
	p.sendMessage(&protocol.ClientLoginRequest{Name: "late"})

	select {
	case msg := <-session.msgs:
		assert.Equal(t, "late", msg.(*protocol.ClientLoginRequest).Name)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}
	assert.Empty(t, session.msgs)
}

func TestConnectionRejectsDisallowedRole(t *testing.T) {
	t.Parallel()

	collector := stats.New(true)
	opts := DefaultOptions()
	opts.Stats = collector

	session := newFakeSession(protocol.RoleUser)
	c, p := startConnection(t, context.Background(), session, opts)
	defer c.Stop()

	p.logOn()
	p.sendMessage(&protocol.ClientLoginRequest{Name: "again"})
	p.sendMessage(&protocol.ChannelJoinRequest{Channel: 0})

	select {
	case msg := <-session.msgs:
		assert.IsType(t, &protocol.ChannelJoinRequest{}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}
	assert.Equal(t, uint64(1), collector.Snapshot().MessagesRejected)
}

func TestConnectionSkipChecks(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.SkipSecurityChecks = true

	session := newFakeSession(protocol.RoleUnknown)
	c, p := startConnection(t, context.Background(), session, opts)
	defer c.Stop()

	p.logOn()
	p.sendMessage(&protocol.ChannelJoinRequest{Channel: 0})

	select {
	case msg := <-session.msgs:
		assert.IsType(t, &protocol.ChannelJoinRequest{}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}
}

func TestConnectionSurvivesBadFrame(t *testing.T) {
	t.Parallel()

	session := newFakeSession(protocol.RoleUnknown)
	c, p := startConnection(t, context.Background(), session, DefaultOptions())
	defer c.Stop()

	p.logOn()

	p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := p.conn.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00})
	require.NoError(t, err)

	p.sendMessage(&protocol.ClientLoginRequest{Name: "after"})

	select {
	case msg := <-session.msgs:
		assert.Equal(t, "after", msg.(*protocol.ClientLoginRequest).Name)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}
}

func TestConnectionLogOff(t *testing.T) {
	t.Parallel()

	session := newFakeSession(protocol.RoleUser)
	c, p := startConnection(t, context.Background(), session, DefaultOptions())

	p.logOn()
	p.send(protocol.Frame{Kind: protocol.FrameLogOff})

	f := p.recv()
	assert.Equal(t, protocol.FrameLogOffAccepted, f.Kind)

	waitClosed(t, c.Done())
	waitClosed(t, session.gone)
	assert.Equal(t, int32(1), session.disconnects.Load())
}

func TestConnectionStopOnce(t *testing.T) {
	t.Parallel()

	session := newFakeSession(protocol.RoleUser)
	c, _ := startConnection(t, context.Background(), session, DefaultOptions())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()

	waitClosed(t, c.Done())
	assert.Equal(t, int32(1), session.disconnects.Load())
	assert.ErrorIs(t, c.Enqueue(&protocol.ServerListRequest{}), ErrQueueClosed)
}

func TestConnectionStopRacingStart(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		server, client := net.Pipe()
		session := newFakeSession(protocol.RoleUnknown)
		c := NewConnection(context.Background(), uint32(i+1), server, DefaultOptions())

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			c.Stop()
		}()
		startErr := c.Start(session)
		<-stopped

		waitClosed(t, c.Done())
		if startErr == nil {
			waitClosed(t, session.gone)
			assert.Equal(t, int32(1), session.disconnects.Load())
		} else {
			assert.Equal(t, int32(0), session.disconnects.Load())
		}
		client.Close()
	}
}

func TestConnectionStartAfterStop(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()
	c := NewConnection(context.Background(), 9, server, DefaultOptions())
	c.Stop()

	assert.Error(t, c.Start(newFakeSession(protocol.RoleUnknown)))
	waitClosed(t, c.Done())
}

func TestConnectionStopsWithParentContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	session := newFakeSession(protocol.RoleUser)
	c, _ := startConnection(t, ctx, session, DefaultOptions())

	cancel()

	waitClosed(t, c.Done())
	waitClosed(t, session.gone)
}

func TestConnectionEnqueueOrder(t *testing.T) {
	t.Parallel()

	session := newFakeSession(protocol.RoleUser)
	c, p := startConnection(t, context.Background(), session, DefaultOptions())
	defer c.Stop()

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Enqueue(protocol.NewUserLeftChannel(uint32(i))))
	}

	for i := 0; i < 20; i++ {
		f := p.recv()
		msg, err := protocol.Open(f.Payload, protocol.RoleUnknown, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), msg.(*protocol.UserLeftChannel).ID)
	}
}

func TestConnectionRateLimit(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MessagesPerSecond = 0.001
	opts.MessageBurst = 2

	session := newFakeSession(protocol.RoleUnknown)
	c, p := startConnection(t, context.Background(), session, opts)
	defer c.Stop()

	p.logOn()
	for i := 0; i < 5; i++ {
		p.sendMessage(&protocol.ClientLoginRequest{Name: "spam"})
	}
	// The log-off reply proves every frame above was consumed.
	p.send(protocol.Frame{Kind: protocol.FrameLogOff})
	p.recv()
	waitClosed(t, c.Done())

	assert.Len(t, session.msgs, 2)
}
