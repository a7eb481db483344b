package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/hub"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
	"github.com/k-laboratory/rovlink/internal/bridge/notifier"
	"github.com/k-laboratory/rovlink/internal/bridge/protocol"
	"github.com/k-laboratory/rovlink/internal/bridge/server"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/internal/bridge/video"
	"github.com/k-laboratory/rovlink/internal/pkg/metrics"
	"github.com/k-laboratory/rovlink/pkg/log"
)

var allLinkStates = []string{
	string(link.StateDisconnected),
	string(link.StateConnecting),
	string(link.StateConnected),
	string(link.StateDegraded),
}

var _ link.Handler = (*Bridge)(nil)

// Bridge is the main application struct wiring the vehicle link to the
// shore-side APIs.
type Bridge struct {
	link          *link.Manager
	aggregator    *state.Aggregator
	hub           *hub.Hub
	dispatcher    *command.Dispatcher
	video         *video.Registry
	serverManager *server.Manager
	notifier      *notifier.MQTTNotifier // nil unless a broker is configured

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// FrameCounts reports the datagram decode totals since start.
func (b *Bridge) FrameCounts() (frames, dropped uint64) {
	return b.frames.Load(), b.dropped.Load()
}

// Run starts every component and blocks until the context is cancelled or a
// server fails.
func (b *Bridge) Run(ctx context.Context) error {
	log.Info("Starting rovlink bridge...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.link.Run(ctx) })
	g.Go(func() error { return b.hub.Run(ctx) })
	g.Go(func() error { return b.dispatcher.Run(ctx) })
	if b.notifier != nil {
		g.Go(func() error { return b.notifier.Run(ctx) })
	}
	g.Go(func() error { return b.serverManager.Start(ctx) })

	return g.Wait()
}

// HandleDatagram decodes one inbound datagram and routes its contents. Runs
// on the link reader goroutine.
func (b *Bridge) HandleDatagram(data []byte) {
	res := protocol.Decode(data, time.Now())

	b.frames.Add(uint64(res.Frames))
	b.dropped.Add(uint64(res.Dropped))
	metrics.FramesReceivedTotal.Add(float64(res.Frames))
	metrics.FramesDroppedTotal.Add(float64(res.Dropped))

	for _, ack := range res.Acks {
		b.dispatcher.HandleAck(ack)
	}
	for _, s := range res.Streams {
		b.video.Register(s.Name, s.URI, s.Running)
	}

	if len(res.Fields) > 0 && b.aggregator.Apply(res.Fields) {
		metrics.StateVersion.Set(float64(b.aggregator.Version()))
		b.hub.Notify()
	}
}

// LinkUp publishes the fresh link state.
func (b *Bridge) LinkUp() {
	if b.notifier != nil {
		b.notifier.NotifyLink(b.link.Status())
	}
}

// LinkDown marks all held state stale and pushes the degraded snapshot out
// immediately instead of waiting for the broadcast tick.
func (b *Bridge) LinkDown() {
	b.aggregator.MarkAllStale(time.Now())
	b.hub.Notify()
	if b.notifier != nil {
		b.notifier.NotifyLink(b.link.Status())
	}
}

func (b *Bridge) onLinkState(s link.State) {
	metrics.SetLinkState(string(s), allLinkStates)
	if s == link.StateConnected && b.link.Status().Reconnects > 0 {
		metrics.LinkReconnectsTotal.Inc()
	}
}

func (b *Bridge) onTerminalCommand(req command.Request) {
	metrics.CommandsTotal.WithLabelValues(string(req.Kind), string(req.Status)).Inc()
	if b.notifier != nil {
		b.notifier.NotifyCommand(req)
	}
}
