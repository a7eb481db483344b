package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/k-laboratory/rovlink/internal/bridge/protocol"
	"github.com/k-laboratory/rovlink/pkg/log"
	"github.com/k-laboratory/rovlink/pkg/options"
)

var (
	// ErrLinkUnreachable reports that a connection attempt saw no heartbeat
	// from the vehicle within the connect timeout.
	ErrLinkUnreachable = errors.New("vehicle link unreachable")

	// ErrLinkUnavailable reports that a send was attempted while the link is
	// not in the Connected state.
	ErrLinkUnavailable = errors.New("vehicle link unavailable")
)

const readBufferSize = 64 * 1024

// Handler consumes link events and inbound traffic. All callbacks run on the
// manager's reader goroutine and must not block.
type Handler interface {
	// HandleDatagram is invoked for every datagram read from the vehicle.
	// The buffer is only valid for the duration of the call.
	HandleDatagram(data []byte)

	// LinkUp is invoked after a connection is established and the first
	// vehicle heartbeat has been observed.
	LinkUp()

	// LinkDown is invoked when an established connection degrades or the
	// manager shuts down, so held state can be marked stale.
	LinkDown()
}

// Status is a point-in-time view of the link for status reporting.
type Status struct {
	State   State  `json:"state"`
	Address string `json:"address"`
	Retries uint64 `json:"retries"`

	// Reconnects counts re-establishments after the initial connect; a
	// healthy never-lost link reads zero.
	Reconnects    uint64    `json:"reconnects"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
}

// connection wraps one established UDP socket.
type connection struct {
	conn          *net.UDPConn
	establishedAt time.Time
}

// Manager owns the UDP connection to the vehicle, keeps it alive with
// heartbeats, and reconnects with exponential backoff when it degrades.
type Manager struct {
	opts    *options.LinkOptions
	handler Handler
	log     log.Logger

	machine *fsm.FSM

	mu      sync.RWMutex
	current *connection

	seq           atomic.Uint32
	lastHeartbeat atomic.Int64 // unix nanos of last vehicle heartbeat
	retries       atomic.Uint64
	connects      atomic.Uint64
	reconnects    atomic.Uint64 // establishments after the first

	// OnState, when set, is invoked on every state transition. Used to keep
	// the link state gauge current.
	OnState func(State)
}

// NewManager builds a link manager for the vehicle at opts.Address().
func NewManager(opts *options.LinkOptions, handler Handler) *Manager {
	m := &Manager{
		opts:    opts,
		handler: handler,
		log:     log.WithName("link"),
	}
	m.machine = m.newMachine()
	return m
}

// NextSeq returns the next outbound frame sequence number.
func (m *Manager) NextSeq() uint8 {
	return uint8(m.seq.Add(1) - 1)
}

// Status reports the current link state.
func (m *Manager) Status() Status {
	s := Status{
		State:      m.State(),
		Address:    m.opts.Address(),
		Retries:    m.retries.Load(),
		Reconnects: m.reconnects.Load(),
	}
	if ns := m.lastHeartbeat.Load(); ns != 0 {
		s.LastHeartbeat = time.Unix(0, ns)
	}
	return s
}

// Send writes a frame to the vehicle. It fails with ErrLinkUnavailable unless
// the link is Connected.
func (m *Manager) Send(frame []byte) error {
	m.mu.RLock()
	c := m.current
	connected := m.State() == StateConnected
	m.mu.RUnlock()

	if !connected || c == nil {
		return ErrLinkUnavailable
	}
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	return nil
}

// Run connects to the vehicle and keeps the link alive until ctx is
// cancelled. Lost links are re-established with exponential backoff; the
// retry loop never gives up on its own.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		m.fire(context.Background(), eventStop)
		m.handler.LinkDown()
	}()

	backoff := m.opts.BackoffBase
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if m.State() != StateConnecting {
			m.fire(ctx, eventConnect)
		}
		c, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt := m.retries.Add(1)
			m.log.Warn("Connect attempt failed, backing off",
				"address", m.opts.Address(), "attempt", attempt, "backoff", backoff, "err", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, m.opts.BackoffMax)
			continue
		}

		backoff = m.opts.BackoffBase
		m.setCurrent(c)
		if m.connects.Add(1) > 1 {
			m.reconnects.Add(1)
		}
		m.fire(ctx, eventEstablished)
		m.log.Info("Vehicle link established", "address", m.opts.Address())
		m.handler.LinkUp()

		m.serve(ctx, c)

		m.setCurrent(nil)
		c.conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		m.fire(ctx, eventDegrade)
		m.log.Warn("Vehicle link lost", "address", m.opts.Address(),
			"uptime", time.Since(c.establishedAt))
		m.handler.LinkDown()
	}
}

// connect dials the vehicle and waits for its first heartbeat. The manager's
// own heartbeat is sent immediately so the vehicle learns our return address.
func (m *Manager) connect(ctx context.Context) (*connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", m.opts.Address())
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.opts.ConnectTimeout)
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			conn.Close()
			return nil, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			conn.Close()
			return nil, ErrLinkUnreachable
		}

		m.sendHeartbeat(conn)

		next := time.Now().Add(m.opts.HeartbeatInterval)
		if next.After(deadline) {
			next = deadline
		}
		conn.SetReadDeadline(next)
		n, err := conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			conn.Close()
			return nil, err
		}
		if protocol.ContainsHeartbeat(buf[:n]) {
			m.lastHeartbeat.Store(time.Now().UnixNano())
			return &connection{conn: conn, establishedAt: time.Now()}, nil
		}
	}
}

// serve pumps inbound datagrams to the handler until the liveness window
// expires, the socket errors out, or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, c *connection) {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.heartbeatLoop(hbCtx, c)

	poll := m.opts.HeartbeatInterval / 2
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(poll))
		n, err := c.conn.Read(buf)
		switch {
		case err == nil:
			if n > 0 {
				data := buf[:n]
				if protocol.ContainsHeartbeat(data) {
					m.lastHeartbeat.Store(time.Now().UnixNano())
				}
				m.handler.HandleDatagram(data)
			}
		case isTimeout(err):
			// fall through to liveness check
		default:
			m.log.Warn("Read failed on vehicle link", "err", err)
			return
		}

		if m.sinceHeartbeat() > m.opts.LivenessWindow {
			m.log.Warn("No vehicle heartbeat within liveness window",
				"window", m.opts.LivenessWindow)
			return
		}
	}
}

// heartbeatLoop announces the bridge to the vehicle once per interval.
func (m *Manager) heartbeatLoop(ctx context.Context, c *connection) {
	t := time.NewTicker(m.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sendHeartbeat(c.conn)
		}
	}
}

func (m *Manager) sendHeartbeat(conn *net.UDPConn) {
	frame := protocol.EncodeHeartbeat(m.NextSeq(), m.opts.SystemID, m.opts.ComponentID)
	if _, err := conn.Write(frame); err != nil {
		m.log.Debug("Heartbeat send failed", "err", err)
	}
}

func (m *Manager) sinceHeartbeat() time.Duration {
	ns := m.lastHeartbeat.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

func (m *Manager) setCurrent(c *connection) {
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
