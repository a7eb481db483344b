package topic

import "testing"

func TestBuilderLayout(t *testing.T) {
	b := NewBuilder("rov/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", b.Telemetry("rov-1"), "rov/v1/telemetry/rov-1"},
		{"command", b.Command("rov-1"), "rov/v1/command/rov-1"},
		{"command ack", b.CommandAck("rov-1"), "rov/v1/command/ack/rov-1"},
		{"link", b.Link("rov-1"), "rov/v1/link/rov-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
