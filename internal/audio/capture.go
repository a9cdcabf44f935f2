package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Device source kinds.
const (
	SourceSystem = "system"
	SourceUser   = "user"
)

// DeviceConfig configures a DeviceSource.
type DeviceConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	SystemAudio     bool // prefer loopback devices carrying the remote party
	ExcludedDevices []string
	Logger          *slog.Logger
}

// DeviceSource reads fixed-duration blocks from one PortAudio input device.
type DeviceSource struct {
	cfg      DeviceConfig
	log      *slog.Logger
	stream   *portaudio.Stream
	buf      []float32
	device   string
	kind     string
	mu       sync.Mutex
	stopOnce sync.Once
}

// OpenDevice initializes PortAudio and opens the best matching input device.
func OpenDevice(cfg DeviceConfig) (*DeviceSource, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	s := &DeviceSource{cfg: cfg, log: log}

	dev, kind, err := s.pickDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: min(cfg.Channels, dev.MaxInputChannels),
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	s.cfg.Channels = params.Input.Channels
	s.buf = make([]float32, cfg.FramesPerBuffer*params.Input.Channels)

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start stream on %q: %w", dev.Name, err)
	}

	s.stream, s.device, s.kind = stream, dev.Name, kind
	log.Info("started audio capture", "device", dev.Name, "source", kind, "rate", cfg.SampleRate, "channels", s.cfg.Channels)
	return s, nil
}

// Device returns the opened device name and its source kind.
func (s *DeviceSource) Device() (name, kind string) { return s.device, s.kind }

// Read blocks until d of audio has been captured or ctx ends.
func (s *DeviceSource) Read(ctx context.Context, d time.Duration) (Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return Buffer{}, errors.New("audio source closed")
	}

	want := int(d.Seconds() * float64(s.cfg.SampleRate))
	out := make([]float32, 0, want*s.cfg.Channels)
	for frames := 0; frames < want; frames += s.cfg.FramesPerBuffer {
		if err := ctx.Err(); err != nil {
			return Buffer{}, err
		}
		if err := s.stream.Read(); err != nil {
			return Buffer{}, fmt.Errorf("read %q: %w", s.device, err)
		}
		out = append(out, s.buf...)
	}
	return FromFloat32(out, s.cfg.SampleRate, s.cfg.Channels), nil
}

// Close stops the stream and releases PortAudio.
func (s *DeviceSource) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stream != nil {
			_ = s.stream.Stop()
			_ = s.stream.Close()
			s.stream = nil
		}
		_ = portaudio.Terminate()
	})
}

func (s *DeviceSource) pickDevice() (*portaudio.DeviceInfo, string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, "", fmt.Errorf("list devices: %w", err)
	}

	var userMic, systemDev *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || s.isExcluded(dev.Name) {
			continue
		}
		switch classifyDevice(dev.Name) {
		case SourceSystem:
			if systemDev == nil {
				systemDev = dev
			}
		case SourceUser:
			if userMic == nil || preferDevice(dev.Name, userMic.Name) {
				userMic = dev
			}
		}
	}

	switch {
	case s.cfg.SystemAudio && systemDev != nil:
		return systemDev, SourceSystem, nil
	case userMic != nil:
		if s.cfg.SystemAudio {
			s.log.Warn("no loopback device found, falling back to microphone", "device", userMic.Name)
		}
		return userMic, SourceUser, nil
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, "", fmt.Errorf("no usable input device: %w", err)
	}
	return dev, SourceUser, nil
}

func classifyDevice(name string) string {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "stereo mix"} {
		if containsIgnoreCase(name, kw) {
			return SourceSystem
		}
	}
	for _, kw := range []string{"microphone", "input", "mic", "built-in"} {
		if containsIgnoreCase(name, kw) {
			return SourceUser
		}
	}
	return ""
}

func (s *DeviceSource) isExcluded(name string) bool {
	for _, ex := range s.cfg.ExcludedDevices {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice prefers built-in mics over external or virtual ones.
func preferDevice(name, current string) bool {
	for _, p := range []string{"macbook", "built-in"} {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
