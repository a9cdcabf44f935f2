package audio

import (
	"testing"
)

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		name     string
		device   string
		expected string
	}{
		// System audio loopback devices
		{"blackhole lowercase", "BlackHole 2ch", SourceSystem},
		{"blackhole uppercase", "BLACKHOLE", SourceSystem},
		{"vb-cable", "VB-Cable", SourceSystem},
		{"loopback", "Loopback Audio", SourceSystem},
		{"monitor", "Monitor of Built-in Audio", SourceSystem},
		{"stereo mix", "Stereo Mix (Realtek)", SourceSystem},

		// Microphone devices
		{"microphone", "Built-in Microphone", SourceUser},
		{"mic short", "External Mic", SourceUser},
		{"input", "Line Input", SourceUser},

		// Unknown devices
		{"speakers", "External Speakers", ""},
		{"hdmi", "HDMI Output", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyDevice(tt.device); got != tt.expected {
				t.Errorf("classifyDevice(%q) = %q, want %q", tt.device, got, tt.expected)
			}
		})
	}
}

func TestContainsIgnoreCase(t *testing.T) {
	tests := []struct {
		s        string
		substr   string
		expected bool
	}{
		{"BlackHole 2ch", "blackhole", true},
		{"blackhole", "BLACKHOLE", true},
		{"Built-in Microphone", "MICROPHONE", true},
		{"External Speakers", "blackhole", false},
		{"", "test", false},
		{"test", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.s+"_"+tt.substr, func(t *testing.T) {
			if got := containsIgnoreCase(tt.s, tt.substr); got != tt.expected {
				t.Errorf("containsIgnoreCase(%q, %q) = %v, want %v", tt.s, tt.substr, got, tt.expected)
			}
		})
	}
}

func TestPreferDevice(t *testing.T) {
	if !preferDevice("MacBook Pro Microphone", "USB Mic") {
		t.Error("built-in mic should be preferred over USB mic")
	}
	if preferDevice("USB Mic", "MacBook Pro Microphone") {
		t.Error("USB mic should not replace built-in mic")
	}
}

func TestIsExcluded(t *testing.T) {
	s := &DeviceSource{cfg: DeviceConfig{ExcludedDevices: []string{"iphone", "teams"}}}
	if !s.isExcluded("Jane's iPhone Microphone") {
		t.Error("iPhone device should be excluded")
	}
	if s.isExcluded("Built-in Microphone") {
		t.Error("built-in device should not be excluded")
	}
}
