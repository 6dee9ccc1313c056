//go:build windows

package audio

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

// Core Audio COM identifiers.
var (
	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	iidIAudioClient         = ole.NewGUID("{1CB9AD4C-DBFA-4C32-B178-C2F568A703B2}")
	iidIAudioCaptureClient  = ole.NewGUID("{C8ADBD64-E71E-48A0-A4DE-185C395CD317}")

	pkeyDeviceFriendlyName = propertyKey{
		fmtID: *ole.NewGUID("{A45C254E-DF1C-4EFD-8020-67D146A850E0}"),
		pid:   14,
	}
)

const (
	eRender  = 0
	eConsole = 0

	deviceStateActive = 0x1
	stgmRead          = 0x0
	clsctxAll         = 0x1 | 0x2 | 0x4 | 0x10
	vtLPWSTR          = 31

	audclntShareModeShared          = 0
	audclntStreamFlagsLoopback      = 0x00020000
	audclntStreamFlagsEventCallback = 0x00040000
	audclntStreamFlagsSrcDefaultQ   = 0x08000000
	audclntStreamFlagsAutoConvert   = 0x80000000
	audclntBufferFlagsSilent        = 0x2

	waveFormatIEEEFloat = 0x0003

	waitObject0 = 0x00000000
	waitTimeout = 0x00000102

	// 200 ms shared buffer, in 100 ns units.
	loopbackBufferDuration = 200 * 10000
)

// vtable indices; IUnknown occupies 0-2.
const (
	enumEnumAudioEndpoints      = 3
	enumGetDefaultAudioEndpoint = 4
	enumGetDevice               = 5

	collGetCount = 3
	collItem     = 4

	devActivate          = 3
	devOpenPropertyStore = 4
	devGetID             = 5

	propGetValue = 5

	clientInitialize     = 3
	clientGetMixFormat   = 8
	clientStart          = 10
	clientStop           = 11
	clientSetEventHandle = 13
	clientGetService     = 14

	captureGetBuffer         = 3
	captureReleaseBuffer     = 4
	captureGetNextPacketSize = 5
)

var (
	modOle32             = windows.NewLazySystemDLL("ole32.dll")
	procPropVariantClear = modOle32.NewProc("PropVariantClear")
)

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

type propertyKey struct {
	fmtID ole.GUID
	pid   uint32
}

// propVariant mirrors PROPVARIANT for the string case only.
type propVariant struct {
	vt       uint16
	reserved [3]uint16
	val      uintptr
	pad      uintptr
}

// comCall invokes the COM method at vtable index idx on obj.
func comCall(obj uintptr, idx int, args ...uintptr) error {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
	all := make([]uintptr, 0, len(args)+1)
	all = append(all, obj)
	all = append(all, args...)
	hr, _, _ := syscall.SyscallN(fn, all...)
	if int32(hr) < 0 {
		return fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", idx, uint32(hr))
	}
	return nil
}

// comRelease calls IUnknown::Release.
func comRelease(obj uintptr) {
	if obj == 0 {
		return
	}
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + 2*unsafe.Sizeof(uintptr(0))))
	syscall.SyscallN(fn, obj)
}

// comInit joins the calling OS thread to the multithreaded apartment.
// S_FALSE means the thread already was, which is fine.
func comInit() error {
	err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	if err == nil {
		return nil
	}
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) && oleErr.Code() == 1 {
		return nil
	}
	return fmt.Errorf("CoInitializeEx: %w", err)
}

// newDeviceEnumerator creates an IMMDeviceEnumerator. The caller releases it.
func newDeviceEnumerator() (uintptr, error) {
	unk, err := ole.CreateInstance(clsidMMDeviceEnumerator, iidIMMDeviceEnumerator)
	if err != nil {
		return 0, fmt.Errorf("create device enumerator: %w", err)
	}
	return uintptr(unsafe.Pointer(unk)), nil
}

func defaultRenderDevice(enumerator uintptr) (uintptr, error) {
	var device uintptr
	if err := comCall(enumerator, enumGetDefaultAudioEndpoint,
		eRender, eConsole, uintptr(unsafe.Pointer(&device))); err != nil {
		return 0, fmt.Errorf("GetDefaultAudioEndpoint: %w", err)
	}
	return device, nil
}

func deviceByID(enumerator uintptr, id string) (uintptr, error) {
	wid, err := windows.UTF16PtrFromString(id)
	if err != nil {
		return 0, err
	}
	var device uintptr
	if err := comCall(enumerator, enumGetDevice,
		uintptr(unsafe.Pointer(wid)), uintptr(unsafe.Pointer(&device))); err != nil {
		return 0, fmt.Errorf("GetDevice: %w", err)
	}
	return device, nil
}

func deviceID(device uintptr) (string, error) {
	var p *uint16
	if err := comCall(device, devGetID, uintptr(unsafe.Pointer(&p))); err != nil {
		return "", fmt.Errorf("GetId: %w", err)
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(p)))
	return windows.UTF16PtrToString(p), nil
}

func deviceFriendlyName(device uintptr) (string, error) {
	var store uintptr
	if err := comCall(device, devOpenPropertyStore, stgmRead, uintptr(unsafe.Pointer(&store))); err != nil {
		return "", fmt.Errorf("OpenPropertyStore: %w", err)
	}
	defer comRelease(store)

	var pv propVariant
	if err := comCall(store, propGetValue,
		uintptr(unsafe.Pointer(&pkeyDeviceFriendlyName)), uintptr(unsafe.Pointer(&pv))); err != nil {
		return "", fmt.Errorf("GetValue: %w", err)
	}
	defer procPropVariantClear.Call(uintptr(unsafe.Pointer(&pv)))

	if pv.vt != vtLPWSTR || pv.val == 0 {
		return "", nil
	}
	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(pv.val))), nil
}

// listRenderDevices enumerates active render endpoints. COM is initialized
// per OS thread, so the goroutine stays on one thread until it uninitializes.
func listRenderDevices() ([]Device, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := comInit(); err != nil {
		return nil, err
	}
	defer ole.CoUninitialize()

	enumerator, err := newDeviceEnumerator()
	if err != nil {
		return nil, err
	}
	defer comRelease(enumerator)

	defaultID := ""
	if def, err := defaultRenderDevice(enumerator); err == nil {
		defaultID, _ = deviceID(def)
		comRelease(def)
	}

	var coll uintptr
	if err := comCall(enumerator, enumEnumAudioEndpoints,
		eRender, deviceStateActive, uintptr(unsafe.Pointer(&coll))); err != nil {
		return nil, fmt.Errorf("EnumAudioEndpoints: %w", err)
	}
	defer comRelease(coll)

	var count uint32
	if err := comCall(coll, collGetCount, uintptr(unsafe.Pointer(&count))); err != nil {
		return nil, fmt.Errorf("GetCount: %w", err)
	}

	devices := make([]Device, 0, count)
	for i := uint32(0); i < count; i++ {
		var dev uintptr
		if err := comCall(coll, collItem, uintptr(i), uintptr(unsafe.Pointer(&dev))); err != nil {
			continue
		}
		id, err := deviceID(dev)
		if err != nil || id == "" {
			comRelease(dev)
			continue
		}
		name, _ := deviceFriendlyName(dev)
		if name == "" {
			name = id
		}
		comRelease(dev)
		devices = append(devices, Device{ID: id, Name: name, Default: id == defaultID})
	}
	return devices, nil
}
