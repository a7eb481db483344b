package bridge

import (
	"fmt"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/hub"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
	"github.com/k-laboratory/rovlink/internal/bridge/notifier"
	"github.com/k-laboratory/rovlink/internal/bridge/server"
	"github.com/k-laboratory/rovlink/internal/bridge/server/http"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/internal/bridge/video"
	"github.com/k-laboratory/rovlink/internal/pkg/metrics"
	"github.com/k-laboratory/rovlink/pkg/options"
)

// The autopilot end of the link. ArduSub runs as system 1, component 1.
const (
	vehicleSystemID    = 1
	vehicleComponentID = 1
)

type Config struct {
	LinkOptions    *options.LinkOptions
	HubOptions     *options.HubOptions
	CommandOptions *options.CommandOptions
	VideoOptions   *options.VideoOptions
	HttpOptions    *options.HttpOptions
	MqttOptions    *options.MqttOptions
}

// NewBridge assembles the full pipeline: link manager feeding the decoder,
// decoder feeding the aggregator and dispatcher, hub fanning snapshots out to
// the API servers and the optional MQTT notifier.
func (cfg *Config) NewBridge() (*Bridge, error) {
	agg := state.NewAggregator(cfg.HubOptions.StalenessThreshold)

	h := hub.New(agg, cfg.HubOptions.BroadcastTick, cfg.HubOptions.QueueDepth)
	h.OnSubscribers = func(n int) {
		metrics.Subscribers.Set(float64(n))
	}
	h.OnBroadcast = metrics.BroadcastsTotal.Inc

	b := &Bridge{
		aggregator: agg,
		hub:        h,
		video:      video.NewRegistry(cfg.VideoOptions.Expiry),
	}

	b.link = link.NewManager(cfg.LinkOptions, b)
	b.link.OnState = b.onLinkState

	b.dispatcher = command.NewDispatcher(command.Config{
		Link:            b.link,
		Sink:            agg,
		OnBump:          h.Notify,
		OnTerminal:      b.onTerminalCommand,
		AckTimeout:      cfg.CommandOptions.AckTimeout,
		Retention:       cfg.CommandOptions.Retention,
		TargetSystem:    vehicleSystemID,
		TargetComponent: vehicleComponentID,
		SystemID:        cfg.LinkOptions.SystemID,
		ComponentID:     cfg.LinkOptions.ComponentID,
	})

	if cfg.MqttOptions.Enabled() {
		n, err := notifier.NewMQTTNotifier(cfg.MqttOptions, h, b.dispatcher)
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt notifier: %w", err)
		}
		b.notifier = n
	}

	b.serverManager = server.NewManager(cfg.HttpOptions, cfg.CommandOptions, http.Backend{
		Link:     b.link,
		State:    agg,
		Hub:      h,
		Command:  b.dispatcher,
		Video:    b.video,
		Frames:   b.FrameCounts,
		Deadline: cfg.HubOptions.WriteTimeout,
	})

	return b, nil
}
