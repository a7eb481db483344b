package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/hub"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/pkg/log"
	pkgmqtt "github.com/k-laboratory/rovlink/pkg/mqtt"
	"github.com/k-laboratory/rovlink/pkg/mqtt/topic"
)

type publishRecord struct {
	topic   string
	qos     int
	retain  bool
	payload []byte
}

// fakeClient records every broker interaction and exposes registered
// subscription handlers for the test to invoke.
type fakeClient struct {
	mu           sync.Mutex
	started      bool
	disconnected bool
	handlers     map[string]pkgmqtt.MessageHandler
	unsubscribed []string

	published chan publishRecord
}

var _ pkgmqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers:  make(map[string]pkgmqtt.MessageHandler),
		published: make(chan publishRecord, 16),
	}
}

func (c *fakeClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeClient) Disconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	select {
	case c.published <- publishRecord{topic: topic, qos: qos, retain: retain, payload: payload}:
	default:
	}
	return nil
}

func (c *fakeClient) Subscribe(ctx context.Context, topic string, qos int, handler pkgmqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeClient) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	c.unsubscribed = append(c.unsubscribed, topic)
	return nil
}

func (c *fakeClient) AwaitConnection(ctx context.Context) error { return ctx.Err() }

func (c *fakeClient) handler(t *testing.T, topic string) pkgmqtt.MessageHandler {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		h, ok := c.handlers[topic]
		c.mu.Unlock()
		if ok {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscription on %q", topic)
	return nil
}

// fakeSubmitter records the payloads handed to it.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []command.Payload
}

func (s *fakeSubmitter) Submit(p command.Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return "id-1", nil
}

func (s *fakeSubmitter) submitted() []command.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Payload(nil), s.payloads...)
}

// fakeSource serves a snapshot whose version is bumped by the test.
type fakeSource struct {
	mu   sync.Mutex
	snap state.Snapshot
}

func (f *fakeSource) Current(now time.Time) state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.snap
	s.TakenAt = now
	return s
}

func (f *fakeSource) bump() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Version++
}

func newTestNotifier(client *fakeClient, h *hub.Hub, d Submitter) *MQTTNotifier {
	return &MQTTNotifier{
		client:     client,
		topics:     topic.NewBuilder("rov/v1"),
		vehicleID:  "rov-1",
		hub:        h,
		dispatcher: d,
		log:        log.WithName("notifier"),
	}
}

func TestRunRoutesBrokerCommands(t *testing.T) {
	client := newFakeClient()
	sub := &fakeSubmitter{}
	h := hub.New(&fakeSource{}, 50*time.Millisecond, 4)
	n := newTestNotifier(client, h, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	handler := client.handler(t, "rov/v1/command/rov-1")

	handler(ctx, "rov/v1/command/rov-1",
		[]byte(`{"kind":"set-lights-level","payload":{"level":60}}`))
	got := sub.submitted()
	if len(got) != 1 {
		t.Fatalf("submitted %d commands, want 1", len(got))
	}
	lights, ok := got[0].(command.SetLightsPayload)
	if !ok {
		t.Fatalf("submitted payload = %T, want SetLightsPayload", got[0])
	}
	if lights.Level != 60 {
		t.Errorf("level = %d, want 60", lights.Level)
	}

	// Malformed and invalid messages never reach the dispatcher.
	handler(ctx, "rov/v1/command/rov-1", []byte(`{not json`))
	handler(ctx, "rov/v1/command/rov-1", []byte(`{"kind":"warp-drive"}`))
	if got := sub.submitted(); len(got) != 1 {
		t.Errorf("submitted %d commands after bad input, want still 1", len(got))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.disconnected {
		t.Error("client not disconnected on shutdown")
	}
	if len(client.unsubscribed) != 1 || client.unsubscribed[0] != "rov/v1/command/rov-1" {
		t.Errorf("unsubscribed = %v, want the command topic", client.unsubscribed)
	}
}

func TestRunPublishesDeliveredSnapshots(t *testing.T) {
	client := newFakeClient()
	src := &fakeSource{}
	h := hub.New(src, 20*time.Millisecond, 4)
	n := newTestNotifier(client, h, &fakeSubmitter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	go n.Run(ctx)

	client.handler(t, "rov/v1/command/rov-1") // wait until Run is serving

	src.bump()
	h.Notify()

	select {
	case rec := <-client.published:
		if rec.topic != "rov/v1/telemetry/rov-1" {
			t.Errorf("topic = %q, want rov/v1/telemetry/rov-1", rec.topic)
		}
		var snap state.Snapshot
		if err := json.Unmarshal(rec.payload, &snap); err != nil {
			t.Fatalf("published payload is not a snapshot: %v", err)
		}
		if snap.Version < 1 {
			t.Errorf("published version = %d, want >= 1", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestNotifyCommandAndLinkTopics(t *testing.T) {
	client := newFakeClient()
	h := hub.New(&fakeSource{}, 50*time.Millisecond, 4)
	n := newTestNotifier(client, h, &fakeSubmitter{})

	n.NotifyCommand(command.Request{ID: "abc", Kind: command.KindArm, Status: command.StatusAcked})
	rec := <-client.published
	if rec.topic != "rov/v1/command/ack/rov-1" {
		t.Errorf("ack topic = %q, want rov/v1/command/ack/rov-1", rec.topic)
	}
	var req command.Request
	if err := json.Unmarshal(rec.payload, &req); err != nil || req.ID != "abc" {
		t.Errorf("ack payload = %s (err %v), want request abc", rec.payload, err)
	}

	n.NotifyLink(link.Status{State: link.StateConnected, Address: "192.168.2.2:14550"})
	rec = <-client.published
	if rec.topic != "rov/v1/link/rov-1" {
		t.Errorf("link topic = %q, want rov/v1/link/rov-1", rec.topic)
	}
	if !rec.retain || rec.qos != 1 {
		t.Errorf("link publish retain=%v qos=%d, want retained qos 1", rec.retain, rec.qos)
	}
}
