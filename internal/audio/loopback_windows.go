//go:build windows

package audio

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

// WASAPILoopbackSource captures the mix of a render endpoint through WASAPI
// loopback. The whole COM lifetime lives on one locked OS thread.
type WASAPILoopbackSource struct {
	log zerolog.Logger
}

// NewSystemSource returns the loopback source for this platform.
func NewSystemSource(log zerolog.Logger) (Source, error) {
	return &WASAPILoopbackSource{
		log: log.With().Str("source", string(SystemAudio)).Logger(),
	}, nil
}

func (w *WASAPILoopbackSource) Kind() Kind {
	return SystemAudio
}

func (w *WASAPILoopbackSource) Devices() ([]Device, error) {
	devices, err := listRenderDevices()
	if err != nil {
		return nil, err
	}
	return append([]Device{defaultEntry(SystemAudio)}, devices...), nil
}

func (w *WASAPILoopbackSource) Open(deviceID string, opts StreamOptions) (Stream, error) {
	opts = opts.withDefaults()

	stopEvent, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}

	state := newStreamState(opts.QueueCapacity)
	state.prod = newProducer(state.ring, opts.OverflowLimit, w.log, state.fail)

	s := &wasapiStream{
		streamState: state,
		stopEvent:   stopEvent,
		log:         w.log,
	}

	ready := make(chan initResult[int], 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(deviceID, opts.ReadTimeout, ready)
	}()

	rate, err := awaitInit(ready, opts.InitTimeout, nil)
	if err != nil {
		w.log.Error().Err(err).Str("device", deviceID).Msg("Loopback initialization failed")
		s.Close()
		return nil, err
	}
	state.rate = rate

	w.log.Info().Str("device", deviceID).Int("sample_rate", rate).Msg("Loopback stream started")
	return s, nil
}

type wasapiStream struct {
	*streamState
	stopEvent windows.Handle
	wg        sync.WaitGroup
	log       zerolog.Logger

	closeOnce sync.Once
}

func (s *wasapiStream) Close() error {
	s.closeOnce.Do(func() {
		windows.SetEvent(s.stopEvent)
		s.wg.Wait()
		windows.CloseHandle(s.stopEvent)
		s.log.Info().Msg("Loopback stream closed")
	})
	return nil
}

// wasapiSession holds the COM objects of one loopback capture.
type wasapiSession struct {
	enumerator uintptr
	device     uintptr
	client     uintptr
	capture    uintptr
	dataEvent  windows.Handle
	rate       int
	started    bool
}

func (ws *wasapiSession) release() {
	if ws.started {
		comCall(ws.client, clientStop)
	}
	comRelease(ws.capture)
	comRelease(ws.client)
	comRelease(ws.device)
	comRelease(ws.enumerator)
	if ws.dataEvent != 0 {
		windows.CloseHandle(ws.dataEvent)
	}
}

// openLoopback activates the device in shared loopback mode requesting mono
// float32 at the mix rate; the engine converts channel layout and format.
func (s *wasapiStream) openLoopback(deviceID string) (*wasapiSession, error) {
	ws := &wasapiSession{}
	ok := false
	defer func() {
		if !ok {
			ws.release()
		}
	}()

	var err error
	if ws.enumerator, err = newDeviceEnumerator(); err != nil {
		return nil, err
	}

	if !IsDefaultID(deviceID) {
		ws.device, err = deviceByID(ws.enumerator, deviceID)
		if err != nil {
			s.log.Warn().Err(err).Str("device", deviceID).Msg("Requested output device not found, using default")
		}
	}
	if ws.device == 0 {
		if ws.device, err = defaultRenderDevice(ws.enumerator); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	if err := comCall(ws.device, devActivate,
		uintptr(unsafe.Pointer(iidIAudioClient)), clsctxAll, 0,
		uintptr(unsafe.Pointer(&ws.client))); err != nil {
		return nil, fmt.Errorf("Activate IAudioClient: %w", err)
	}

	var mix *waveFormatEx
	if err := comCall(ws.client, clientGetMixFormat, uintptr(unsafe.Pointer(&mix))); err != nil {
		return nil, fmt.Errorf("GetMixFormat: %w", err)
	}
	ws.rate = int(mix.SamplesPerSec)
	ole.CoTaskMemFree(uintptr(unsafe.Pointer(mix)))
	if ws.rate <= 0 {
		return nil, fmt.Errorf("invalid mix format rate %d", ws.rate)
	}

	want := waveFormatEx{
		FormatTag:      waveFormatIEEEFloat,
		Channels:       1,
		SamplesPerSec:  uint32(ws.rate),
		AvgBytesPerSec: uint32(ws.rate) * 4,
		BlockAlign:     4,
		BitsPerSample:  32,
	}
	flags := uintptr(audclntStreamFlagsLoopback | audclntStreamFlagsEventCallback |
		audclntStreamFlagsAutoConvert | audclntStreamFlagsSrcDefaultQ)
	if err := comCall(ws.client, clientInitialize,
		audclntShareModeShared, flags, loopbackBufferDuration, 0,
		uintptr(unsafe.Pointer(&want)), 0); err != nil {
		return nil, fmt.Errorf("IAudioClient Initialize: %w", err)
	}

	if ws.dataEvent, err = windows.CreateEvent(nil, 0, 0, nil); err != nil {
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}
	if err := comCall(ws.client, clientSetEventHandle, uintptr(ws.dataEvent)); err != nil {
		return nil, fmt.Errorf("SetEventHandle: %w", err)
	}
	if err := comCall(ws.client, clientGetService,
		uintptr(unsafe.Pointer(iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&ws.capture))); err != nil {
		return nil, fmt.Errorf("GetService IAudioCaptureClient: %w", err)
	}
	if err := comCall(ws.client, clientStart); err != nil {
		return nil, fmt.Errorf("IAudioClient Start: %w", err)
	}
	ws.started = true

	ok = true
	return ws, nil
}

// run owns the COM apartment for the stream's lifetime. It reports the mix
// rate, or the setup error, on ready exactly once.
func (s *wasapiStream) run(deviceID string, readTimeout time.Duration, ready chan<- initResult[int]) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := comInit(); err != nil {
		ready <- initResult[int]{err: err}
		return
	}
	defer ole.CoUninitialize()

	ws, err := s.openLoopback(deviceID)
	if err != nil {
		ready <- initResult[int]{err: err}
		return
	}
	defer ws.release()
	ready <- initResult[int]{val: ws.rate}

	var dec sampleDecoder
	buf := make([]float32, 0, ws.rate/10)
	waitMS := uint32(readTimeout / time.Millisecond)
	handles := []windows.Handle{ws.dataEvent, s.stopEvent}

	for {
		ev, err := windows.WaitForMultipleObjects(handles, false, waitMS)
		if err != nil {
			s.fatal(fmt.Errorf("WaitForMultipleObjects: %w", err))
			return
		}
		switch ev {
		case waitObject0:
		case waitObject0 + 1:
			return
		case waitTimeout:
			s.fatal(fmt.Errorf("%w after %s", ErrReadTimeout, readTimeout))
			return
		default:
			s.fatal(fmt.Errorf("unexpected wait result 0x%x", ev))
			return
		}

		for {
			var packet uint32
			if err := comCall(ws.capture, captureGetNextPacketSize, uintptr(unsafe.Pointer(&packet))); err != nil {
				s.fatal(fmt.Errorf("GetNextPacketSize: %w", err))
				return
			}
			if packet == 0 {
				break
			}

			var (
				data   *byte
				frames uint32
				flags  uint32
			)
			if err := comCall(ws.capture, captureGetBuffer,
				uintptr(unsafe.Pointer(&data)), uintptr(unsafe.Pointer(&frames)),
				uintptr(unsafe.Pointer(&flags)), 0, 0); err != nil {
				s.fatal(fmt.Errorf("GetBuffer: %w", err))
				return
			}

			buf = buf[:0]
			if flags&audclntBufferFlagsSilent != 0 || data == nil {
				for i := uint32(0); i < frames; i++ {
					buf = append(buf, 0)
				}
			} else {
				raw := unsafe.Slice(data, int(frames)*4)
				buf = dec.decode(buf, raw)
			}
			comCall(ws.capture, captureReleaseBuffer, uintptr(frames))

			s.prod.push(buf)
			if s.prod.tripped {
				return
			}
		}
	}
}

func (s *wasapiStream) fatal(err error) {
	s.log.Error().Err(err).Msg("Loopback capture failed")
	s.fail(err)
}
