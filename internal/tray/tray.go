package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/app"
	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/logging"
)

const statsRefresh = 2 * time.Second

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger

	mu     sync.Mutex
	status string

	// Menu items
	mStartStop  *systray.MenuItem
	mStats      *systray.MenuItem
	mMicEnabled *systray.MenuItem
	mSysEnabled *systray.MenuItem
	mMicDevices *systray.MenuItem
	mSysDevices *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetSpeech() {
	u.updateStatus("speech")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Speech capture")

	// Build menu
	u.mStartStop = systray.AddMenuItem(startStopTitle(false), "Start or stop audio capture")
	u.mStats = systray.AddMenuItem(statsTitle(nil), "Chunks forwarded since capture started")
	u.mStats.Disable()
	systray.AddSeparator()

	u.mMicEnabled = systray.AddMenuItemCheckbox("Capture Microphone", "Capture the microphone", u.app.Enabled(audio.Microphone))
	u.mSysEnabled = systray.AddMenuItemCheckbox("Capture System Audio", "Capture what the computer plays", u.app.Enabled(audio.SystemAudio))
	systray.AddSeparator()

	u.mMicDevices = systray.AddMenuItem("Microphone", "Select input device")
	u.buildDeviceMenu(audio.Microphone, u.mMicDevices)
	u.mSysDevices = systray.AddMenuItem("System Audio", "Select output device to capture")
	u.buildDeviceMenu(audio.SystemAudio, u.mSysDevices)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About SpeechGate")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
	go u.refreshStats()
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleCapture()
		case <-u.mMicEnabled.ClickedCh:
			u.toggleSource(audio.Microphone, u.mMicEnabled)
		case <-u.mSysEnabled.ClickedCh:
			u.toggleSource(audio.SystemAudio, u.mSysEnabled)
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) toggleCapture() {
	if err := u.app.Toggle(); err != nil {
		u.log.Error().Err(err).Msg("Failed to toggle capture")
	}
	u.mStartStop.SetTitle(startStopTitle(u.app.IsCapturing()))
}

func (u *UI) toggleSource(kind audio.Kind, item *systray.MenuItem) {
	on := !item.Checked()
	if err := u.app.SetEnabled(kind, on); err != nil {
		u.log.Warn().Err(err).Str("source", string(kind)).Msg("Cannot change source")
		return
	}
	if on {
		item.Check()
	} else {
		item.Uncheck()
	}
	u.log.Info().Str("source", string(kind)).Bool("enabled", on).Msg("Changed capture source")
}

func (u *UI) buildDeviceMenu(kind audio.Kind, parent *systray.MenuItem) {
	// Get devices from app
	devices, err := u.app.ListDevices(kind)
	if err != nil {
		u.log.Error().Err(err).Str("source", string(kind)).Msg("Failed to list audio devices")
		return
	}

	selected := selectedDevice(devices, u.app.DeviceID(kind))
	var mu sync.Mutex
	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := parent.AddSubMenuItem(dev.Name, "")
		if dev.ID == selected {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(kind, deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Cannot change device")
					continue
				}
				mu.Lock()
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				mu.Unlock()
				// Check this item
				menuItem.Check()
				u.log.Info().Str("source", string(kind)).Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) refreshStats() {
	ticker := time.NewTicker(statsRefresh)
	defer ticker.Stop()
	for range ticker.C {
		u.mStats.SetTitle(statsTitle(u.app.Stats()))
		u.mStartStop.SetTitle(startStopTitle(u.app.IsCapturing()))
	}
}

func (u *UI) openLogs() {
	path := logging.Path()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("SpeechGate: voice-gated audio capture")
	systray.SetTooltip(fmt.Sprintf("SpeechGate %s (%s)", u.version, u.commit))
}

func (u *UI) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.app.Shutdown(ctx); err != nil {
		u.log.Error().Err(err).Msg("Shutdown failed")
	}
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()
	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForStatus(status)))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🟡" // Yellow - listening, gate closed
	case "speech":
		return "🔴" // Red - forwarding speech
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func startStopTitle(capturing bool) string {
	if capturing {
		return "Stop Capture"
	}
	return "Start Capture"
}

// statsTitle summarizes forwarded and suppressed chunks across sessions.
func statsTitle(stats []capture.Stats) string {
	if len(stats) == 0 {
		return "Not capturing"
	}
	parts := make([]string, 0, len(stats))
	for _, st := range stats {
		name := "Mic"
		if st.Kind == audio.SystemAudio {
			name = "System"
		}
		state := st.GateState.String()
		if !st.Running {
			state = "stopped"
		}
		parts = append(parts, fmt.Sprintf("%s: %d sent, %d muted (%s)", name, st.ChunksEmitted, st.ChunksSuppressed, state))
	}
	return strings.Join(parts, " | ")
}

// selectedDevice returns the id to check in a device menu. Unknown ids fall
// back to the default entry, as the capture source does.
func selectedDevice(devices []audio.Device, configured string) string {
	if audio.IsDefaultID(configured) {
		return audio.DefaultDeviceID
	}
	for _, d := range devices {
		if d.ID == configured {
			return configured
		}
	}
	return audio.DefaultDeviceID
}
