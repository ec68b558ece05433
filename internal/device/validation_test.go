package device

import (
	"errors"
	"strings"
	"testing"
)

func TestParseModuleID(t *testing.T) {
	tests := []struct {
		id      string
		want    Type
		wantErr bool
	}{
		{"MC-0001-STN", TypeStation, false},
		{"MC-A1B2-ST", TypeSwitchTrack, false},
		{"MC-0001-LFX", TypeLightFX, false},
		{"MC-0001-LT", TypeLaunchTrack, false},
		{"MC-0001-SM", TypeSmokeMachine, false},
		{"MC-0001-AP", TypeAudioPlayer, false},
		{"MC-0001-XYZ", "", true},
		{"MC-001-ST", "", true},
		{"mc-0001-st", "", true},
		{"MC-0001-ST ", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := ParseModuleID(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidModuleID) {
					t.Errorf("ParseModuleID(%q) error = %v, want ErrInvalidModuleID", tt.id, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseModuleID(%q) = %q, %v; want %q", tt.id, got, err, tt.want)
			}
		})
	}
}

func TestValidateModule(t *testing.T) {
	m := &Module{ID: "MC-0001-AP", Name: "  Lobby speaker  "}
	if err := ValidateModule(m); err != nil {
		t.Fatalf("ValidateModule() error = %v", err)
	}
	if m.Type != TypeAudioPlayer {
		t.Errorf("Type = %q, want derived %q", m.Type, TypeAudioPlayer)
	}
	if m.Name != "Lobby speaker" {
		t.Errorf("Name = %q, want trimmed", m.Name)
	}

	long := &Module{ID: "MC-0001-AP", Name: strings.Repeat("x", maxNameLength+1)}
	if err := ValidateModule(long); !errors.Is(err, ErrInvalidName) {
		t.Errorf("ValidateModule(long name) error = %v, want ErrInvalidName", err)
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusOffline, StatusUnknown} {
		if !s.IsValid() {
			t.Errorf("%q.IsValid() = false", s)
		}
	}
	if Status("idle").IsValid() {
		t.Error(`"idle".IsValid() = true`)
	}
}
