package audio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/guidoenr/partivision/internal/pcm"
)

// Capture wraps a PortAudio input stream as a live Input.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo

	history *ring
	hub     pcm.Hub
}

// CaptureConfig controls how a Capture instance is created.
type CaptureConfig struct {
	DeviceName string
	BufferSize int
	Channels   int
}

const defaultHistorySize = MaxHistory

// OpenCapture opens and starts a PortAudio input stream.
func OpenCapture(cfg CaptureConfig) (*Capture, error) {
	if err := InitializePortAudio(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		cfg.Channels = device.MaxInputChannels
	}

	c := &Capture{
		sampleRate: device.DefaultSampleRate,
		channels:   cfg.Channels,
		device:     device,
		history:    newRing(defaultHistorySize),
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      c.sampleRate,
		FramesPerBuffer: cfg.BufferSize,
	}, c.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	c.stream = stream

	if err := c.stream.Start(); err != nil {
		_ = c.stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return c, nil
}

// Name returns the device name.
func (c *Capture) Name() string {
	if c.device == nil {
		return "live"
	}
	return c.device.Name
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 { return c.sampleRate }

// Samples returns the newest n mono samples.
func (c *Capture) Samples(n int) []float32 { return c.history.latest(n) }

// Subscribe registers a recording listener for interleaved PCM.
func (c *Capture) Subscribe() *pcm.Listener { return c.hub.Subscribe() }

// Unsubscribe removes a listener.
func (c *Capture) Unsubscribe(l *pcm.Listener) { c.hub.Unsubscribe(l) }

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	c.hub.CloseAll()
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	return c.stream.Close()
}

func (c *Capture) process(in []float32) {
	c.history.write(downmix(in, c.channels))
	c.hub.Publish(in, c.channels, c.sampleRate)
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}
	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if candidate := pickBestDevice(devices); candidate != nil {
		return candidate, nil
	}
	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

// pickBestDevice prefers loopback/monitor inputs so the visualizer follows what is playing.
func pickBestDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}
	keywords := []string{"monitor", "loopback", "stereo mix", "what u hear"}

	var results []scored
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		score := d.MaxInputChannels
		lower := strings.ToLower(d.Name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score += 20
				break
			}
		}
		if strings.Contains(lower, "default") {
			score += 10
		}
		results = append(results, scored{dev: d, score: score})
	}
	if len(results) == 0 {
		return nil
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})
	return results[0].dev
}

// errorsIsInvalidStreamState checks if the error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "PaErrorCode -9986")
}
