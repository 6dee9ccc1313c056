package audio

import (
	"errors"
	"testing"
)

type fakeSource struct {
	kind    Kind
	devices []Device
	err     error
}

func (f *fakeSource) Kind() Kind                 { return f.kind }
func (f *fakeSource) Devices() ([]Device, error) { return f.devices, f.err }
func (f *fakeSource) Open(string, StreamOptions) (Stream, error) {
	return nil, ErrUnsupported
}

func TestDirectoryNilSources(t *testing.T) {
	d := Directory{}

	in, err := d.InputDevices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in) != 1 || in[0].Name != "Default Microphone" {
		t.Fatalf("unexpected input devices %+v", in)
	}

	out, err := d.OutputDevices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Name != "Default System Audio" {
		t.Fatalf("unexpected output devices %+v", out)
	}
}

func TestDirectoryDefaultEntryFirst(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
		want    []string
	}{
		{
			name:    "source already lists default",
			devices: []Device{defaultEntry(Microphone), {ID: "usb", Name: "USB Mic"}},
			want:    []string{DefaultDeviceID, "usb"},
		},
		{
			name:    "source omits default",
			devices: []Device{{ID: "usb", Name: "USB Mic"}},
			want:    []string{DefaultDeviceID, "usb"},
		},
		{
			name: "empty source",
			want: []string{DefaultDeviceID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Directory{Input: &fakeSource{kind: Microphone, devices: tt.devices}}
			got, err := d.InputDevices()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d devices, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("device %d: expected id %q, got %q", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestDirectoryPropagatesError(t *testing.T) {
	want := errors.New("enumeration failed")
	d := Directory{Output: &fakeSource{kind: SystemAudio, err: want}}

	if _, err := d.OutputDevices(); err != want {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
