package command

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/k-laboratory/rovlink/internal/bridge/protocol"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
)

// fakeLink records sent frames and can be switched to reject sends.
type fakeLink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	seq    uint8
}

func (f *fakeLink) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeLink) NextSeq() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq - 1
}

func (f *fakeLink) lastTag(t *testing.T) uint16 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		t.Fatal("no frame sent")
	}
	frame := f.frames[len(f.frames)-1]
	// COMMAND_LONG tag sits at payload offset 30, after the 6-byte header.
	return binary.LittleEndian.Uint16(frame[6+30:])
}

func newTestDispatcher(link *fakeLink, sink StateSink, timeout time.Duration) *Dispatcher {
	return NewDispatcher(Config{
		Link:            link,
		Sink:            sink,
		AckTimeout:      timeout,
		Retention:       time.Minute,
		TargetSystem:    1,
		TargetComponent: 1,
		SystemID:        255,
	})
}

func TestSubmitLifecycleAcked(t *testing.T) {
	link := &fakeLink{}
	d := newTestDispatcher(link, nil, time.Minute)

	id, err := d.Submit(SetLightsPayload{Level: 50})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	req, ok := d.Get(id)
	if !ok {
		t.Fatal("request not tracked")
	}
	if req.Status != StatusSent {
		t.Fatalf("status = %s, want Sent", req.Status)
	}

	d.HandleAck(protocol.Ack{Command: protocol.CmdDoSetServo, Tag: link.lastTag(t), Result: protocol.ResultAccepted})

	req, _ = d.Get(id)
	if req.Status != StatusAcked {
		t.Fatalf("status = %s, want Acked", req.Status)
	}
	if req.Result == nil || *req.Result != protocol.ResultAccepted {
		t.Errorf("result = %v, want accepted", req.Result)
	}
}

func TestSubmitInvalidPayload(t *testing.T) {
	d := newTestDispatcher(&fakeLink{}, nil, time.Minute)

	tests := []struct {
		name    string
		payload Payload
	}{
		{"lights out of range", SetLightsPayload{Level: 101}},
		{"unknown mode", SetModePayload{Mode: "WARP"}},
		{"pwm out of range", RCOverridePayload{Throttle: 2500}},
		{"nil payload", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Submit(tt.payload); !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("err = %v, want ErrInvalidCommand", err)
			}
		})
	}
}

func TestSubmitLinkDownFailsImmediately(t *testing.T) {
	link := &fakeLink{err: errors.New("link unavailable")}
	d := newTestDispatcher(link, nil, time.Minute)

	id, err := d.Submit(ArmPayload{arm: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	req, _ := d.Get(id)
	if req.Status != StatusFailed {
		t.Fatalf("status = %s, want Failed", req.Status)
	}
	if req.Error == "" {
		t.Error("failed request carries no error text")
	}
}

func TestAckTimeout(t *testing.T) {
	link := &fakeLink{}
	d := newTestDispatcher(link, nil, 20*time.Millisecond)

	id, _ := d.Submit(SetModePayload{Mode: "MANUAL"})

	deadline := time.Now().Add(time.Second)
	for {
		req, _ := d.Get(id)
		if req.Status == StatusTimedOut {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want TimedOut", req.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A late ack must not resurrect the request.
	d.HandleAck(protocol.Ack{Tag: link.lastTag(t), Result: protocol.ResultAccepted})
	req, _ := d.Get(id)
	if req.Status != StatusTimedOut {
		t.Errorf("late ack overwrote terminal status: %s", req.Status)
	}
}

func TestRCOverrideAckedOnSend(t *testing.T) {
	link := &fakeLink{}
	d := newTestDispatcher(link, nil, time.Minute)

	id, err := d.Submit(RCOverridePayload{Forward: 1600})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	req, _ := d.Get(id)
	if req.Status != StatusAcked {
		t.Fatalf("status = %s, want Acked right after send", req.Status)
	}
}

func TestUnknownAckIgnored(t *testing.T) {
	d := newTestDispatcher(&fakeLink{}, nil, time.Minute)
	// Must not panic or create state.
	d.HandleAck(protocol.Ack{Tag: 0xBEEF, Result: protocol.ResultFailed})
}

func TestTerminalOutcomeFoldedIntoState(t *testing.T) {
	link := &fakeLink{}
	agg := state.NewAggregator(time.Hour)
	bumped := false

	d := NewDispatcher(Config{
		Link:       link,
		Sink:       agg,
		OnBump:     func() { bumped = true },
		AckTimeout: time.Minute,
		Retention:  time.Minute,
	})

	id, _ := d.Submit(SetLightsPayload{Level: 10})
	d.HandleAck(protocol.Ack{Tag: link.lastTag(t), Result: protocol.ResultAccepted})

	snap := agg.Current(time.Now())
	status, ok := snap.Fields[state.FieldLastCommandStatus]
	if !ok {
		t.Fatal("last_command_status not folded into snapshot")
	}
	if status.Text != string(StatusAcked) {
		t.Errorf("status text = %q, want Acked", status.Text)
	}
	if got := snap.Fields[state.FieldLastCommandID].Text; got != id {
		t.Errorf("last_command_id = %q, want %q", got, id)
	}
	if !bumped {
		t.Error("terminal fold did not bump the hub")
	}
}

func TestGCReclaimsTerminalRequests(t *testing.T) {
	link := &fakeLink{}
	d := newTestDispatcher(link, nil, time.Minute)
	d.cfg.Retention = 10 * time.Millisecond

	id, _ := d.Submit(SetLightsPayload{Level: 1})
	d.HandleAck(protocol.Ack{Tag: link.lastTag(t), Result: protocol.ResultAccepted})

	d.gc(time.Now().Add(time.Second))

	if _, ok := d.Get(id); ok {
		t.Error("terminal request survived gc past retention")
	}
}

func TestTagsNotReusedWhileInFlight(t *testing.T) {
	link := &fakeLink{}
	d := newTestDispatcher(link, nil, time.Hour)

	seen := make(map[uint16]bool)
	for i := 0; i < 50; i++ {
		if _, err := d.Submit(SetLightsPayload{Level: i % 100}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		tag := link.lastTag(t)
		if seen[tag] {
			t.Fatalf("tag %d reused while in flight", tag)
		}
		seen[tag] = true
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		raw     string
		wantErr bool
	}{
		{"lights", KindSetLightsLevel, `{"level":75}`, false},
		{"arm no payload", KindArm, ``, false},
		{"mode", KindSetMode, `{"mode":"ALT_HOLD"}`, false},
		{"rc override", KindRCOverride, `{"forward":1600,"yaw":1500}`, false},
		{"unknown field rejected", KindSetLightsLevel, `{"level":5,"bogus":1}`, true},
		{"unknown kind", Kind("self-destruct"), `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload(tt.kind, []byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParsePayload(%q) accepted %q", tt.kind, tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload(%q): %v", tt.kind, err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("kind = %q, want %q", p.Kind(), tt.kind)
			}
		})
	}
}
