package voxbooth

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefault         bool
	HostAPI           string
}

// ListDevices enumerates the available audio devices. PortAudio must be
// initialized by the caller.
func ListDevices() ([]AudioDevice, error) {
	defaultInput, _ := portaudio.DefaultInputDevice()
	defaultOutput, _ := portaudio.DefaultOutputDevice()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}

	devices := make([]AudioDevice, 0, len(infos))
	for i, info := range infos {
		hostAPI := "Unknown"
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		devices = append(devices, AudioDevice{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefault:         info == defaultInput || info == defaultOutput,
			HostAPI:           hostAPI,
		})
	}
	return devices, nil
}

// ResolutionStatus tags the outcome of device and mapping validation, so
// "try the configured value, fall back on mismatch" is an explicit result
// instead of exception-driven control flow.
type ResolutionStatus int

const (
	ResolutionOK ResolutionStatus = iota
	ResolutionFallback
	ResolutionRejected
)

func (s ResolutionStatus) String() string {
	switch s {
	case ResolutionOK:
		return "ok"
	case ResolutionFallback:
		return "fallback"
	default:
		return "rejected"
	}
}

// DeviceResolution is the outcome of resolving a configured device index.
type DeviceResolution struct {
	Status ResolutionStatus
	Device *portaudio.DeviceInfo
	Reason string
}

func deviceByIndex(index int) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", index, len(infos))
	}
	return infos[index], nil
}

// resolveInputDevice maps a configured index to a usable input device,
// falling back to the system default when the index is stale or the
// device has no inputs.
func resolveInputDevice(index *int) DeviceResolution {
	if index != nil {
		info, err := deviceByIndex(*index)
		if err == nil && info.MaxInputChannels > 0 {
			return DeviceResolution{Status: ResolutionOK, Device: info}
		}
		reason := fmt.Sprintf("input device %d unavailable", *index)
		if err != nil {
			reason = err.Error()
		}
		if def, derr := portaudio.DefaultInputDevice(); derr == nil {
			return DeviceResolution{Status: ResolutionFallback, Device: def, Reason: reason}
		}
		return DeviceResolution{Status: ResolutionRejected, Reason: reason}
	}
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return DeviceResolution{Status: ResolutionRejected, Reason: err.Error()}
	}
	return DeviceResolution{Status: ResolutionOK, Device: def}
}

// resolveOutputDevice is the output-side counterpart of
// resolveInputDevice.
func resolveOutputDevice(index *int) DeviceResolution {
	if index != nil {
		info, err := deviceByIndex(*index)
		if err == nil && info.MaxOutputChannels > 0 {
			return DeviceResolution{Status: ResolutionOK, Device: info}
		}
		reason := fmt.Sprintf("output device %d unavailable", *index)
		if err != nil {
			reason = err.Error()
		}
		if def, derr := portaudio.DefaultOutputDevice(); derr == nil {
			return DeviceResolution{Status: ResolutionFallback, Device: def, Reason: reason}
		}
		return DeviceResolution{Status: ResolutionRejected, Reason: reason}
	}
	def, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return DeviceResolution{Status: ResolutionRejected, Reason: err.Error()}
	}
	return DeviceResolution{Status: ResolutionOK, Device: def}
}

// validateInputMapping filters a capture channel mapping against the
// channels the device actually delivers. An empty result means the
// mapping is no longer valid for the (possibly changed) device and the
// engine must fall back to its default channel selection.
func validateInputMapping(mapping ChannelMapping, available int) ([]int, ResolutionStatus) {
	if len(mapping) == 0 {
		return nil, ResolutionOK
	}
	picked := make([]int, 0, len(mapping))
	for _, idx := range mapping {
		if idx >= 0 && idx < available {
			picked = append(picked, idx)
		}
	}
	switch {
	case len(picked) == len(mapping):
		return picked, ResolutionOK
	case len(picked) > 0:
		return picked, ResolutionFallback
	default:
		return nil, ResolutionRejected
	}
}

// validateOutputMapping resolves a playback routing mapping to a single
// target channel index, or -1 for plain mono output.
func validateOutputMapping(mapping ChannelMapping) (int, ResolutionStatus) {
	if len(mapping) == 0 {
		return -1, ResolutionOK
	}
	if len(mapping) != 1 || mapping[0] < 0 {
		return -1, ResolutionRejected
	}
	return mapping[0], ResolutionOK
}
