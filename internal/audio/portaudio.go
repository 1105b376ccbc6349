package audio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	paInitOnce  sync.Once
	paTermOnce  sync.Once
	paInitErr   error
	paInitiated bool
)

// InitializePortAudio wraps portaudio.Initialize with sync.Once so live sources and
// device listing can both call it.
func InitializePortAudio() error {
	paInitOnce.Do(func() {
		paInitErr = portaudio.Initialize()
		paInitiated = paInitErr == nil
	})
	return paInitErr
}

// TerminatePortAudio balances InitializePortAudio. It is a no-op when init failed or never ran.
func TerminatePortAudio() {
	if !paInitiated {
		return
	}
	paTermOnce.Do(func() {
		_ = portaudio.Terminate()
	})
}

// Device describes a PortAudio device in a Go-friendly way.
type Device struct {
	Name            string
	MaxInput        int
	MaxOutput       int
	DefaultSampleHz float64
	HostAPI         string
	IsDefaultInput  bool
}

// ListInputDevices returns devices that can record, sorted by host API and name.
func ListInputDevices() ([]Device, error) {
	if err := InitializePortAudio(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}

	defaultInputIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInputIndex = def.Index
	}

	var devices []Device
	for _, host := range hosts {
		for _, d := range host.Devices {
			if d.MaxInputChannels <= 0 {
				continue
			}
			devices = append(devices, Device{
				Name:            d.Name,
				MaxInput:        d.MaxInputChannels,
				MaxOutput:       d.MaxOutputChannels,
				DefaultSampleHz: d.DefaultSampleRate,
				HostAPI:         host.Name,
				IsDefaultInput:  d.Index == defaultInputIndex,
			})
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HostAPI == devices[j].HostAPI {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].HostAPI < devices[j].HostAPI
	})
	return devices, nil
}
