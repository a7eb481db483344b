package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k-laboratory/rovlink/internal/bridge/protocol"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/pkg/log"
)

// ErrInvalidCommand rejects a submission whose kind or payload fails schema
// validation. Nothing is sent and nothing is recorded for such requests.
var ErrInvalidCommand = errors.New("invalid command")

// Sender is the slice of the link manager the dispatcher needs.
type Sender interface {
	// Send transmits one serialized frame, failing immediately when no link
	// is connected.
	Send(frame []byte) error

	// NextSeq hands out the next outbound frame sequence number.
	NextSeq() uint8
}

// StateSink receives the command-status pseudo-fields folded into the
// telemetry snapshot.
type StateSink interface {
	Apply(fields []state.Field) bool
}

// Config carries the dispatcher's collaborators and tuning.
type Config struct {
	Link Sender
	Sink StateSink

	// OnBump is invoked after a pseudo-field fold so the hub can push the
	// outcome to subscribers without waiting for the next tick.
	OnBump func()

	// OnTerminal observes every request reaching a terminal state. Optional.
	OnTerminal func(Request)

	AckTimeout time.Duration
	Retention  time.Duration

	TargetSystem    uint8
	TargetComponent uint8
	SystemID        uint8
	ComponentID     uint8
}

// Dispatcher validates, serializes and tracks outbound commands. It is the
// single logical owner of the command table; submits, acks and timeouts all
// serialize on its lock, and the first terminal transition wins.
type Dispatcher struct {
	cfg Config
	log log.Logger

	mu      sync.Mutex
	byID    map[string]*Request
	byTag   map[uint16]*Request
	nextTag uint16
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:   cfg,
		log:   log.WithName("dispatcher"),
		byID:  make(map[string]*Request),
		byTag: make(map[uint16]*Request),
	}
}

// Submit validates and sends one command, returning its request id
// immediately. Validation failures return ErrInvalidCommand before any
// network interaction. A link rejection marks the request Failed rather than
// retrying: commands are not safe to replay blindly.
func (d *Dispatcher) Submit(payload Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: missing payload", ErrInvalidCommand)
	}
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	req := &Request{
		ID:          uuid.NewString(),
		Kind:        payload.Kind(),
		Status:      StatusPending,
		SubmittedAt: time.Now(),
	}

	d.mu.Lock()
	req.tag = d.allocTag()
	d.byID[req.ID] = req
	d.byTag[req.tag] = req
	d.mu.Unlock()

	frame, acked := d.encode(payload, req.tag)

	if err := d.cfg.Link.Send(frame); err != nil {
		d.log.Warn("Command send rejected", "id", req.ID, "kind", req.Kind, "err", err)
		d.finish(req.ID, StatusFailed, nil, err.Error())
		return req.ID, nil
	}

	d.mu.Lock()
	if req.Status == StatusPending {
		req.Status = StatusSent
	}
	d.mu.Unlock()

	d.log.Debug("Command sent", "id", req.ID, "kind", req.Kind, "tag", req.tag)

	if !acked {
		// Fire-and-forget frames have no ack on the wire; a successful
		// send is as good as it gets.
		zero := uint8(protocol.ResultAccepted)
		d.finish(req.ID, StatusAcked, &zero, "")
		return req.ID, nil
	}

	time.AfterFunc(d.cfg.AckTimeout, func() { d.expire(req.ID) })
	return req.ID, nil
}

// HandleAck folds a vehicle acknowledgment into the matching request. The
// correlation tag, not arrival order, decides which request is updated;
// acks for unknown or already-terminal requests are ignored.
func (d *Dispatcher) HandleAck(ack protocol.Ack) {
	d.mu.Lock()
	req, ok := d.byTag[ack.Tag]
	d.mu.Unlock()

	if !ok {
		d.log.Debug("Ack without matching request", "tag", ack.Tag, "command", ack.Command)
		return
	}

	result := ack.Result
	d.finish(req.ID, StatusAcked, &result, "")
}

// Get returns a copy of the request with the given id.
func (d *Dispatcher) Get(id string) (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	req, ok := d.byID[id]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// Run garbage-collects terminal requests past the retention window until the
// context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	sweep := d.cfg.Retention / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.gc(time.Now())
		}
	}
}

// gc removes terminal requests older than the retention window.
func (d *Dispatcher) gc(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, req := range d.byID {
		if req.Status.Terminal() && now.Sub(req.finishedAt) > d.cfg.Retention {
			delete(d.byID, id)
			delete(d.byTag, req.tag)
		}
	}
}

// expire times out a request that never got its ack. Racing against a late
// ack is benign: whichever terminal transition runs first wins and the other
// becomes a no-op.
func (d *Dispatcher) expire(id string) {
	d.finish(id, StatusTimedOut, nil, "")
}

// finish moves a request to a terminal state exactly once, folds the outcome
// into the snapshot and notifies observers. Subsequent calls for the same
// request are no-ops.
func (d *Dispatcher) finish(id string, status Status, result *uint8, errText string) {
	d.mu.Lock()
	req, ok := d.byID[id]
	if !ok || req.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	req.Status = status
	req.Result = result
	req.Error = errText
	req.finishedAt = time.Now()
	delete(d.byTag, req.tag)
	snapshot := *req
	d.mu.Unlock()

	d.log.Info("Command finished", "id", snapshot.ID, "kind", snapshot.Kind, "status", snapshot.Status)

	d.fold(snapshot)
	if d.cfg.OnTerminal != nil {
		d.cfg.OnTerminal(snapshot)
	}
}

// fold publishes the outcome as pseudo-fields so subscribers see command
// results on the normal telemetry channel.
func (d *Dispatcher) fold(req Request) {
	if d.cfg.Sink == nil {
		return
	}

	value := 0.0
	if req.Result != nil {
		value = float64(*req.Result)
	}
	now := time.Now()

	bumped := d.cfg.Sink.Apply([]state.Field{
		{Name: state.FieldLastCommandStatus, Value: value, Text: string(req.Status), UpdatedAt: now},
		{Name: state.FieldLastCommandID, Text: req.ID, UpdatedAt: now},
	})
	if bumped && d.cfg.OnBump != nil {
		d.cfg.OnBump()
	}
}

// encode serializes the payload to its wire frame. The second return value
// is false for frames that have no acknowledgment defined on the wire.
func (d *Dispatcher) encode(payload Payload, tag uint16) ([]byte, bool) {
	seq := d.cfg.Link.NextSeq()

	switch p := payload.(type) {
	case SetLightsPayload:
		return protocol.EncodeCommandLong(seq, d.cfg.SystemID, d.cfg.ComponentID,
			d.cfg.TargetSystem, d.cfg.TargetComponent, protocol.CmdDoSetServo, tag,
			[7]float32{protocol.LightsServoChannel, protocol.LightsPWM(p.Level)}), true

	case ArmPayload:
		arm := float32(0)
		if p.arm {
			arm = 1
		}
		return protocol.EncodeCommandLong(seq, d.cfg.SystemID, d.cfg.ComponentID,
			d.cfg.TargetSystem, d.cfg.TargetComponent, protocol.CmdComponentArmDisarm, tag,
			[7]float32{arm}), true

	case SetModePayload:
		mode, _ := protocol.ModeNumber(p.Mode)
		return protocol.EncodeCommandLong(seq, d.cfg.SystemID, d.cfg.ComponentID,
			d.cfg.TargetSystem, d.cfg.TargetComponent, protocol.CmdDoSetMode, tag,
			[7]float32{1, float32(mode)}), true

	case RCOverridePayload:
		return protocol.EncodeRCOverride(seq, d.cfg.SystemID, d.cfg.ComponentID,
			d.cfg.TargetSystem, d.cfg.TargetComponent,
			[8]uint16{p.Pitch, p.Roll, p.Throttle, p.Yaw, p.Forward, p.Lateral, 0, 0}), false
	}

	// Unreachable while ParsePayload and encode stay in sync.
	return nil, false
}

// allocTag hands out the next correlation tag, skipping zero. Caller holds
// the lock.
func (d *Dispatcher) allocTag() uint16 {
	for {
		d.nextTag++
		if d.nextTag == 0 {
			continue
		}
		if _, used := d.byTag[d.nextTag]; !used {
			return d.nextTag
		}
	}
}
