package domain

import (
	"errors"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		data string
		want Action
	}{
		{"accept+-1001234", AcceptAction(-1001234)},
		{"decline+-1001234", DeclineAction(-1001234)},
		{"release+-1001234", ReleaseAction(-1001234)},
		{" ok ", NoopAction()},
	}

	for _, tt := range tests {
		got, err := ParseAction(tt.data)
		if err != nil {
			t.Fatalf("ParseAction(%q) returned error: %v", tt.data, err)
		}
		if got != tt.want {
			t.Fatalf("ParseAction(%q) = %+v, want %+v", tt.data, got, tt.want)
		}
		if tt.want.Kind != ActionNoop && got.Encode() != tt.data {
			t.Fatalf("Encode() = %q, want %q", got.Encode(), tt.data)
		}
	}
}

func TestParseActionRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "accept", "accept+", "accept+abc", "accept+0", "promote+-1"} {
		if _, err := ParseAction(data); !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("ParseAction(%q) error = %v, want ErrInvalidAction", data, err)
		}
	}
}

func TestNoopEncodesAsOK(t *testing.T) {
	if got := NoopAction().Encode(); got != "ok" {
		t.Fatalf("expected noop payload ok, got %q", got)
	}
}
