package link

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	fsmutil "github.com/k-laboratory/rovlink/internal/pkg/util/fsm"
)

// State is the connection state of the vehicle link.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
	StateDegraded     State = "Degraded"
)

// Events driving the link state machine.
const (
	eventConnect     = "event_connect"
	eventEstablished = "event_established"
	eventDegrade     = "event_degrade"
	eventStop        = "event_stop"
)

// newMachine builds the link connection state machine. Transitions:
//
//	Disconnected/Degraded --connect--> Connecting
//	Connecting --established--> Connected
//	Connected --degrade--> Degraded
//	any --stop--> Disconnected
func (m *Manager) newMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: eventConnect, Src: []string{string(StateDisconnected), string(StateDegraded)}, Dst: string(StateConnecting)},
		{Name: eventEstablished, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
		{Name: eventDegrade, Src: []string{string(StateConnected), string(StateConnecting)}, Dst: string(StateDegraded)},
		{Name: eventStop, Src: []string{string(StateDisconnected), string(StateConnecting), string(StateConnected), string(StateDegraded)}, Dst: string(StateDisconnected)},
	}

	callbacks := fsm.Callbacks{
		// Guard: a link can only be established around a live socket.
		"before_" + eventEstablished: fsmutil.WrapEvent(m.guardEstablished),

		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.log.Info("Link state changed", "from", e.Src, "to", e.Dst)
			if m.OnState != nil {
				m.OnState(State(e.Dst))
			}
		},
	}

	return fsm.NewFSM(string(StateDisconnected), events, callbacks)
}

// guardEstablished cancels the transition to Connected when no socket is
// attached, which would be a programming error in the run loop.
func (m *Manager) guardEstablished(ctx context.Context, e *fsm.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return fmt.Errorf("no active connection")
	}
	return nil
}

// fire drives the machine, tolerating no-op transitions.
func (m *Manager) fire(ctx context.Context, event string) {
	if err := m.machine.Event(ctx, event); err != nil {
		if _, ok := err.(fsm.NoTransitionError); ok {
			return
		}
		m.log.Warn("Link state transition rejected", "event", event, "err", err)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.machine.Current())
}
