// Package audio defines the engine-facing types shared by every samplechan
// package: voice handles, channel attributes, activity states, the [Engine]
// capability and the [Sample] asset interface.
//
// The engine is treated as an opaque, process-wide voice namespace. Voices are
// cheap and ephemeral: the engine may invalidate any [Handle] at any time
// (voice stealing, device switch, explicit stop). Every [Engine] method
// therefore accepts stale or zero handles and reports them through its
// boolean result instead of an error.
//
// This package lives under pkg/ because alternative engines (a hardware
// mixer binding, a test double) are expected to implement [Engine].
package audio

// Handle identifies a playback voice inside an [Engine]. The zero value,
// [HandleNone], always means "no voice".
type Handle uint32

// HandleNone is the handle value that never refers to a voice.
const HandleNone Handle = 0

// Valid reports whether h could refer to a voice. A valid handle may still be
// stale; only the engine can tell.
func (h Handle) Valid() bool { return h != HandleNone }

// Activity is the transport state an [Engine] reports for a voice.
type Activity int

const (
	// ActivityStopped means the voice is not producing output, has finished,
	// or no longer exists.
	ActivityStopped Activity = iota

	// ActivityPlaying means the voice is producing output.
	ActivityPlaying

	// ActivityPaused means the voice holds its position silently.
	ActivityPaused
)

// String returns the human-readable name of the activity.
func (a Activity) String() string {
	switch a {
	case ActivityStopped:
		return "STOPPED"
	case ActivityPlaying:
		return "PLAYING"
	case ActivityPaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Attribute selects a numeric per-voice parameter.
type Attribute int

const (
	// AttrVolume is the linear gain in [0, 1].
	AttrVolume Attribute = iota

	// AttrPan is the stereo balance in [-1, 1]; 0 is centred.
	AttrPan

	// AttrFrequency is the playback rate in Hz. A voice starts at the sample's
	// native rate.
	AttrFrequency

	// AttrNoRamp disables the engine's gain ramping on parameter changes when
	// non-zero.
	AttrNoRamp
)

// String returns the human-readable name of the attribute.
func (a Attribute) String() string {
	switch a {
	case AttrVolume:
		return "VOLUME"
	case AttrPan:
		return "PAN"
	case AttrFrequency:
		return "FREQUENCY"
	case AttrNoRamp:
		return "NO_RAMP"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bit set of boolean voice options, applied with a mask via
// [Engine.SetFlags].
type Flags uint32

const (
	// FlagLoop restarts the voice from the beginning when it reaches the end.
	FlagLoop Flags = 1 << iota
)

// Levels is the instantaneous peak level of a voice's left and right output,
// each in [0, 1].
type Levels struct {
	Left  float32
	Right float32
}

// Engine is the low-level voice capability a channel drives.
//
// All methods must be safe to call with [HandleNone] or a stale handle; in
// that case they do nothing and return false (or a zero value). A false
// result is expected steady-state behaviour, not a failure.
//
// Implementations must be safe for concurrent use, although samplechan only
// mutates voices from its control goroutine.
type Engine interface {
	// SetAttribute writes attr on the voice.
	SetAttribute(h Handle, attr Attribute, value float64) bool

	// Attribute reads attr from the voice.
	Attribute(h Handle, attr Attribute) (float64, bool)

	// Activity reports the voice's transport state. Unknown handles report
	// [ActivityStopped].
	Activity(h Handle) Activity

	// Play starts or resumes the voice. When restart is true playback starts
	// from the beginning.
	Play(h Handle, restart bool) bool

	// Pause holds the voice at its current position.
	Pause(h Handle) bool

	// Stop stops the voice and frees it. The handle is stale afterwards.
	Stop(h Handle) bool

	// SetFlags sets the bits of flags selected by mask.
	SetFlags(h Handle, flags, mask Flags) bool

	// Level returns the voice's most recent output peak levels.
	Level(h Handle) (Levels, bool)

	// Data copies the voice's most recent mono output into dst and returns
	// the number of samples written.
	Data(h Handle, dst []float32) int
}

// Sample is a preloaded, immutable audio asset that can spawn voices.
type Sample interface {
	// IsLoaded reports whether the asset finished loading. CreateChannel
	// must not be called before it returns true.
	IsLoaded() bool

	// CreateChannel spawns a new, stopped voice for this sample. It returns
	// [HandleNone] when the engine cannot allocate a voice.
	CreateChannel() Handle
}

// DeviceInfo describes one output device known to a [DeviceSwitcher].
type DeviceInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// DeviceSwitcher is implemented by engines that can move their output to
// another device. Switching invalidates every voice; hosts must notify each
// live channel afterwards.
type DeviceSwitcher interface {
	// Devices lists the available output devices.
	Devices() []DeviceInfo

	// Device returns the index of the active device.
	Device() int

	// SetDevice moves output to the device at index.
	SetDevice(index int) error
}
