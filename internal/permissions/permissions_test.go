package permissions

import (
	"errors"
	"strings"
	"testing"
)

func TestMicrophoneError(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		requested bool
		wantErr   bool
		contains  string
	}{
		{"authorized", Authorized, false, false, ""},
		{"prompt shown", NotDetermined, true, true, "system prompt"},
		{"not asked", NotDetermined, false, true, ""},
		{"denied", Denied, false, true, "System Settings"},
		{"restricted", Restricted, false, true, "restricted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := microphoneError(tt.status, tt.requested)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, ErrMicrophoneDenied) {
				t.Fatalf("expected ErrMicrophoneDenied, got %v", err)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, err.Error())
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if Denied.String() != "denied" {
		t.Errorf("unexpected %q", Denied.String())
	}
	if Status(9).String() != "Status(9)" {
		t.Errorf("unexpected %q", Status(9).String())
	}
}
