// Package browser manages stealth Chrome sessions: consistent
// fingerprint profiles, an init-script based evasion layer, humanized
// interaction, and a hard cap on concurrent sessions.
package browser

import (
	mathrand "math/rand"
)

// Fingerprint is one internally consistent browser identity. Every
// field is applied together so the user agent, platform, viewport, and
// WebGL strings never contradict each other.
type Fingerprint struct {
	UserAgent           string
	Platform            string
	ViewportWidth       int
	ViewportHeight      int
	Timezone            string
	Locale              string
	WebGLVendor         string
	WebGLRenderer       string
	HardwareConcurrency int
	DeviceMemory        int
}

// fingerprintProfiles are curated from real browser populations. The
// viewport and WebGL strings match what the named platform actually
// reports.
var fingerprintProfiles = []Fingerprint{
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "Win32",
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		Timezone:            "America/New_York",
		Locale:              "en-US",
		WebGLVendor:         "Google Inc. (NVIDIA)",
		WebGLRenderer:       "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		HardwareConcurrency: 12,
		DeviceMemory:        16,
	},
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		Platform:            "Win32",
		ViewportWidth:       1536,
		ViewportHeight:      864,
		Timezone:            "America/Chicago",
		Locale:              "en-US",
		WebGLVendor:         "Google Inc. (Intel)",
		WebGLRenderer:       "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
	},
	{
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		ViewportWidth:       1440,
		ViewportHeight:      900,
		Timezone:            "America/Los_Angeles",
		Locale:              "en-US",
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, Apple M2, OpenGL 4.1)",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
	},
	{
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		ViewportWidth:       1680,
		ViewportHeight:      1050,
		Timezone:            "America/Denver",
		Locale:              "en-US",
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, Apple M1 Pro, OpenGL 4.1)",
		HardwareConcurrency: 10,
		DeviceMemory:        16,
	},
	{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "Linux x86_64",
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		Timezone:            "America/New_York",
		Locale:              "en-US",
		WebGLVendor:         "Google Inc. (AMD)",
		WebGLRenderer:       "ANGLE (AMD, AMD Radeon RX 6600 (radeonsi), OpenGL 4.6)",
		HardwareConcurrency: 16,
		DeviceMemory:        32,
	},
}

// RandomFingerprint picks one of the curated profiles.
func RandomFingerprint() Fingerprint {
	return fingerprintProfiles[mathrand.Intn(len(fingerprintProfiles))]
}
