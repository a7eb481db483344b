package notifier

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/hub"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
	"github.com/k-laboratory/rovlink/pkg/log"
	pkgmqtt "github.com/k-laboratory/rovlink/pkg/mqtt"
	"github.com/k-laboratory/rovlink/pkg/mqtt/topic"
	"github.com/k-laboratory/rovlink/pkg/options"
)

// Submitter is the slice of the command dispatcher broker-originated
// commands are handed to.
type Submitter interface {
	Submit(p command.Payload) (string, error)
}

// MQTTNotifier mirrors bridge events onto an MQTT broker so shore-side
// consumers can follow the vehicle without holding a websocket open, and
// accepts command submissions on the broker as an alternative to the REST
// endpoint. It is a plain hub subscriber for telemetry; command outcomes
// and link transitions are pushed to it directly.
type MQTTNotifier struct {
	client     pkgmqtt.Client
	topics     *topic.Builder
	vehicleID  string
	hub        *hub.Hub
	dispatcher Submitter
	log        log.Logger
}

// NewMQTTNotifier builds a notifier with its own dedicated client.
func NewMQTTNotifier(opts *options.MqttOptions, h *hub.Hub, d Submitter) (*MQTTNotifier, error) {
	cfg := opts.ToClientConfig()
	cfg.ClientID = cfg.ClientID + "-notifier"

	client, err := pkgmqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &MQTTNotifier{
		client:     client,
		topics:     topic.NewBuilder(opts.TopicRoot),
		vehicleID:  opts.VehicleID,
		hub:        h,
		dispatcher: d,
		log:        log.WithName("notifier"),
	}, nil
}

// Run connects to the broker, subscribes to the command topic and
// republishes every delivered snapshot until ctx is cancelled. Publish
// failures are logged and skipped; the broker is an observer, never a
// dependency of the vehicle loop.
func (n *MQTTNotifier) Run(ctx context.Context) error {
	if err := n.client.Start(ctx); err != nil {
		return err
	}
	defer n.client.Disconnect(context.Background())

	n.log.Info("Waiting for MQTT connection...")
	if err := n.client.AwaitConnection(ctx); err != nil {
		// Only fails when ctx is cancelled while the broker is still
		// unreachable; autopaho retries on its own otherwise.
		return nil
	}

	cmdTopic := n.topics.Command(n.vehicleID)
	if err := n.client.Subscribe(ctx, cmdTopic, 1, n.handleCommand); err != nil {
		return err
	}
	defer n.client.Unsubscribe(context.Background(), cmdTopic)

	sub := n.hub.Subscribe()
	defer n.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case snap := <-sub.Updates():
			n.publish(ctx, n.topics.Telemetry(n.vehicleID), snap)
			sub.MarkDelivered(snap.Version)
		}
	}
}

// commandEnvelope mirrors the REST submission body so shore tooling can use
// either transport interchangeably.
type commandEnvelope struct {
	Kind    command.Kind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// handleCommand parses one broker-submitted command and hands it to the
// dispatcher. The outcome reaches the submitter on the command/ack topic
// like any other terminal command.
func (n *MQTTNotifier) handleCommand(ctx context.Context, topic string, payload []byte) {
	var env commandEnvelope
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		n.log.Warn("Malformed command message", "topic", topic, "err", err)
		return
	}

	p, err := command.ParsePayload(env.Kind, env.Payload)
	if err != nil {
		n.log.Warn("Rejected command message", "topic", topic, "err", err)
		return
	}

	id, err := n.dispatcher.Submit(p)
	if err != nil {
		n.log.Warn("Command submit failed", "topic", topic, "kind", env.Kind, "err", err)
		return
	}
	n.log.Info("Command accepted from broker", "id", id, "kind", env.Kind)
}

// NotifyCommand publishes a terminal command outcome.
func (n *MQTTNotifier) NotifyCommand(req command.Request) {
	n.publish(context.Background(), n.topics.CommandAck(n.vehicleID), req)
}

// NotifyLink publishes a link state transition, retained so late joiners see
// the current state immediately.
func (n *MQTTNotifier) NotifyLink(status link.Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	topic := n.topics.Link(n.vehicleID)
	if err := n.client.Publish(context.Background(), topic, 1, true, payload); err != nil {
		n.log.Debug("Link publish failed", "topic", topic, "err", err)
	}
}

func (n *MQTTNotifier) publish(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.log.Warn("Marshal failed for MQTT publish", "topic", topic, "err", err)
		return
	}
	if err := n.client.Publish(ctx, topic, 0, false, payload); err != nil {
		n.log.Debug("Publish failed", "topic", topic, "err", err)
	}
}
