package audio

// Directory enumerates capture devices of both kinds. A nil source lists
// only its synthetic default entry.
type Directory struct {
	Input  Source
	Output Source
}

// InputDevices lists microphones, default entry first.
func (d Directory) InputDevices() ([]Device, error) {
	return list(d.Input, Microphone)
}

// OutputDevices lists devices whose output can be captured, default entry first.
func (d Directory) OutputDevices() ([]Device, error) {
	return list(d.Output, SystemAudio)
}

func list(src Source, kind Kind) ([]Device, error) {
	if src == nil {
		return []Device{defaultEntry(kind)}, nil
	}
	devices, err := src.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 || devices[0].ID != DefaultDeviceID {
		devices = append([]Device{defaultEntry(kind)}, devices...)
	}
	return devices, nil
}
