package gateway

import (
	"errors"
	"testing"
)

func TestTransitions(t *testing.T) {
	all := []Status{StatusIdle, StatusConnecting, StatusResuming, StatusReady}
	legal := map[[2]Status]bool{
		{StatusIdle, StatusConnecting}:     true,
		{StatusConnecting, StatusResuming}: true,
		{StatusConnecting, StatusReady}:    true,
		{StatusConnecting, StatusIdle}:     true,
		{StatusResuming, StatusReady}:      true,
		{StatusResuming, StatusIdle}:       true,
		{StatusReady, StatusIdle}:          true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Status{from, to}]
			err := checkTransition(from, to)
			if want && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: error = %v, want ErrInvalidTransition", from, to, err)
			}
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusIdle, "idle"},
		{StatusConnecting, "connecting"},
		{StatusResuming, "resuming"},
		{StatusReady, "ready"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
		text, _ := tt.s.MarshalText()
		if string(text) != tt.want {
			t.Errorf("MarshalText() = %q, want %q", text, tt.want)
		}
	}
}
