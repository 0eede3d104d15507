package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no origin", "meter.local:8080", "", true},
		{"same host", "meter.local:8080", "http://meter.local:8080", true},
		{"localhost", "meter.local:8080", "http://localhost:3000", true},
		{"private ip", "meter.local:8080", "http://192.168.1.20", true},
		{"loopback ip", "meter.local:8080", "http://127.0.0.1:8080", true},
		{"foreign", "meter.local:8080", "https://evil.example.com", false},
		{"invalid", "meter.local:8080", "://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}
