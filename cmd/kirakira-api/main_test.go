package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOpenCache(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantWarns int
	}{
		{name: "no redis configured", url: ""},
		// Nothing listens on port 1.
		{name: "redis unreachable", url: "redis://127.0.0.1:1/0", wantWarns: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c := openCache(ctx, tt.url, zap.New(core).Sugar())
			defer c.Close()

			if c.Backend() != "memory" {
				t.Errorf("Backend() = %s, want memory", c.Backend())
			}
			if n := logs.FilterMessage("redis unavailable, falling back to in-memory cache").Len(); n != tt.wantWarns {
				t.Errorf("fallback warnings = %d, want %d", n, tt.wantWarns)
			}
			if err := c.SetJSON(ctx, "k", 1, time.Minute); err != nil {
				t.Errorf("SetJSON() error = %v", err)
			}
		})
	}
}
