package qlc

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ipv4", Config{Host: "192.168.1.20"}, false},
		{"ipv6", Config{Host: "::1", Port: 9999}, false},
		{"hostname", Config{Host: "qlc-desk.local"}, false},
		{"custom path", Config{Host: "qlc", Path: "/ws"}, false},
		{"empty host", Config{}, true},
		{"whitespace host", Config{Host: "   "}, true},
		{"host with scheme", Config{Host: "ws://qlc"}, true},
		{"host with leading hyphen", Config{Host: "-qlc"}, true},
		{"port too large", Config{Host: "qlc", Port: 70000}, true},
		{"negative port", Config{Host: "qlc", Port: -1}, true},
		{"relative path", Config{Host: "qlc", Path: "qlcplusWS"}, true},
		{"negative timeout", Config{Host: "qlc", RequestTimeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	err := Config{Port: 70000, Path: "x"}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"host is required", "port 70000", "path \"x\""} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestConfigEndpoint(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Host: "192.168.1.20"}, "ws://192.168.1.20:9999/qlcplusWS"},
		{Config{Host: "qlc.local", Port: 8080, Path: "/custom"}, "ws://qlc.local:8080/custom"},
		{Config{Host: "::1"}, "ws://[::1]:9999/qlcplusWS"},
		{Config{Host: " qlc "}, "ws://qlc:9999/qlcplusWS"},
	}
	for _, tt := range tests {
		if got := tt.cfg.Endpoint(); got != tt.want {
			t.Errorf("Endpoint(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "qlc"}.withDefaults()
	if cfg.ReconnectInterval != 2*time.Second {
		t.Errorf("ReconnectInterval = %v, want 2s", cfg.ReconnectInterval)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.ReconnectJitter != 0 {
		t.Errorf("ReconnectJitter = %v, want 0", cfg.ReconnectJitter)
	}
	if cfg.Port != DefaultPort || cfg.Path != DefaultPath {
		t.Errorf("Port/Path = %d %q", cfg.Port, cfg.Path)
	}
}
