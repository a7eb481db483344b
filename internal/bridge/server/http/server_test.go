package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/hub"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/internal/bridge/video"
	"github.com/k-laboratory/rovlink/pkg/options"
)

// stubSender accepts every frame without a link.
type stubSender struct{ err error }

func (s *stubSender) Send([]byte) error { return s.err }
func (s *stubSender) NextSeq() uint8    { return 0 }

type fixture struct {
	agg *state.Aggregator
	hub *hub.Hub
	api *httptest.Server
}

// newFixture assembles a server over real components with a stubbed vehicle
// link. writeTimeout bounds each websocket write.
func newFixture(t *testing.T, tick, writeTimeout time.Duration) *fixture {
	t.Helper()

	agg := state.NewAggregator(time.Minute)
	h := hub.New(agg, tick, 4)
	disp := command.NewDispatcher(command.Config{
		Link:       &stubSender{},
		Sink:       agg,
		AckTimeout: time.Minute,
		Retention:  time.Minute,
	})

	s := NewServer(options.NewHttpOptions(), options.NewCommandOptions(), Backend{
		Link:     link.NewManager(options.NewLinkOptions(), nil),
		State:    agg,
		Hub:      h,
		Command:  disp,
		Video:    video.NewRegistry(time.Minute),
		Frames:   func() (uint64, uint64) { return 42, 3 },
		Deadline: writeTimeout,
	})

	api := httptest.NewServer(s.server.Handler)
	t.Cleanup(api.Close)

	return &fixture{agg: agg, hub: h, api: api}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond, time.Second)
	resp, err := http.Get(fx.api.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond, time.Second)

	resp, err := http.Get(fx.api.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got statusResponse
	decodeBody(t, resp, &got)
	if got.Link.State != link.StateDisconnected {
		t.Errorf("link state = %s, want Disconnected", got.Link.State)
	}
	if got.FramesDecoded != 42 || got.FramesDropped != 3 {
		t.Errorf("frames = %d/%d, want 42/3", got.FramesDecoded, got.FramesDropped)
	}
}

func TestTelemetryEndpoint(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond, time.Second)
	fx.agg.Apply([]state.Field{{Name: "depth", Value: 2.5, Unit: "m", UpdatedAt: time.Now()}})

	resp, err := http.Get(fx.api.URL + "/api/v1/telemetry")
	if err != nil {
		t.Fatal(err)
	}
	var snap state.Snapshot
	decodeBody(t, resp, &snap)
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1", snap.Version)
	}
	if f, ok := snap.Fields["depth"]; !ok || f.Value != 2.5 {
		t.Errorf("depth field = %+v, want value 2.5", snap.Fields["depth"])
	}
}

func TestSubmitAndPollCommand(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond, time.Second)

	body := `{"kind":"set-lights-level","payload":{"level":50}}`
	resp, err := http.Post(fx.api.URL+"/api/v1/commands", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	var rec command.Request
	decodeBody(t, resp, &rec)
	if rec.ID == "" {
		t.Fatal("submit returned no id")
	}
	if rec.Status != command.StatusSent {
		t.Errorf("status = %s, want Sent", rec.Status)
	}

	resp, err = http.Get(fx.api.URL + "/api/v1/commands/" + rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	var polled command.Request
	decodeBody(t, resp, &polled)
	if polled.ID != rec.ID {
		t.Errorf("polled id = %q, want %q", polled.ID, rec.ID)
	}

	resp, err = http.Get(fx.api.URL + "/api/v1/commands/no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitCommandRejectsBadRequests(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond, time.Second)

	tests := []struct {
		name string
		body string
	}{
		{"unknown kind", `{"kind":"warp-drive"}`},
		{"payload out of range", `{"kind":"set-lights-level","payload":{"level":250}}`},
		{"unknown envelope field", `{"kind":"arm","extra":true}`},
		{"not json", `{nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(fx.api.URL+"/api/v1/commands", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestStreamRegistrationAndListing(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond, time.Second)

	body := `{"name":"main","url":"rtsp://192.168.2.2:8554/main","live":true}`
	resp, err := http.Post(fx.api.URL+"/api/v1/streams", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}

	resp, err = http.Post(fx.api.URL+"/api/v1/streams", "application/json", strings.NewReader(`{"name":"","url":"rtsp://x/y"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("nameless register status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(fx.api.URL + "/api/v1/streams")
	if err != nil {
		t.Fatal(err)
	}
	var streams []video.Stream
	decodeBody(t, resp, &streams)
	if len(streams) != 1 || streams[0].Name != "main" {
		t.Errorf("streams = %+v, want one named main", streams)
	}
}

func dialWS(t *testing.T, apiURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(apiURL, "http") + "/api/v1/telemetry/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTelemetryWebsocketDeliversSnapshots(t *testing.T) {
	fx := newFixture(t, 20*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.hub.Run(ctx)

	conn := dialWS(t, fx.api.URL)

	fx.agg.Apply([]state.Field{{Name: "depth", Value: 1.0, UpdatedAt: time.Now()}})
	fx.hub.Notify()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap state.Snapshot
	for snap.Version < 1 {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
	}
	if _, ok := snap.Fields["depth"]; !ok {
		t.Errorf("snapshot fields = %v, want depth present", snap.Fields)
	}
}

// TestTelemetryWebsocketEvictsStalledClient covers the transport half of
// subscriber isolation: a client that stops reading is dropped once a write
// stalls past the deadline, while a healthy client keeps receiving.
func TestTelemetryWebsocketEvictsStalledClient(t *testing.T) {
	fx := newFixture(t, 10*time.Millisecond, 150*time.Millisecond)

	var mu sync.Mutex
	subscribers := 0
	fx.hub.OnSubscribers = func(n int) {
		mu.Lock()
		subscribers = n
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.hub.Run(ctx)

	// Bulk fields make every snapshot heavy enough to fill the socket
	// buffers of a client that stops reading.
	bulk := make([]state.Field, 4000)
	for i := range bulk {
		bulk[i] = state.Field{
			Name:      fmt.Sprintf("sensor_%04d_reading", i),
			Value:     float64(i),
			UpdatedAt: time.Now(),
		}
	}
	fx.agg.Apply(bulk)

	reader := dialWS(t, fx.api.URL)
	versions := make(chan uint64, 256)
	go func() {
		for {
			var snap state.Snapshot
			if err := reader.ReadJSON(&snap); err != nil {
				return
			}
			select {
			case versions <- snap.Version:
			default:
			}
		}
	}()

	dialWS(t, fx.api.URL) // the stalled client: never reads

	waitForSubscribers := func(want int, timeout time.Duration) {
		t.Helper()
		deadline := time.After(timeout)
		for {
			mu.Lock()
			n := subscribers
			mu.Unlock()
			if n == want {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("subscribers = %d, want %d", n, want)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	waitForSubscribers(2, 2*time.Second)

	// Keep producing updates so the stalled connection's buffers fill and
	// a write finally blocks past the deadline.
	producerDone := make(chan struct{})
	defer close(producerDone)
	go func() {
		tickVal := 0.0
		for {
			select {
			case <-producerDone:
				return
			case <-time.After(2 * time.Millisecond):
				tickVal++
				fx.agg.Apply([]state.Field{{Name: "depth", Value: tickVal, UpdatedAt: time.Now()}})
				fx.hub.Notify()
			}
		}
	}()

	waitForSubscribers(1, 10*time.Second)

	// The surviving client still receives fresh snapshots.
	var before uint64
	select {
	case before = <-versions:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy client received nothing")
	}
	after := before
	deadline := time.After(2 * time.Second)
	for after <= before {
		select {
		case after = <-versions:
		case <-deadline:
			t.Fatalf("healthy client stuck at version %d after eviction", before)
		}
	}
}
