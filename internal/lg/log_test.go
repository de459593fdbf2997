package lg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))

	assert.Equal(t, defaultLogger{}, FromContext(context.Background()))
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
		want   string
	}{
		{name: "empty", fields: nil, want: ""},
		{name: "string and int", fields: []Field{String("host", "10.0.0.1:22"), Int("index", 3)}, want: `{"host": "10.0.0.1:22", "index": 3}`},
		{name: "duration", fields: []Field{Duration("elapsed", 2 * time.Second)}, want: `{"elapsed": "2s"}`},
		{name: "error", fields: []Field{Err(errors.New("boom"))}, want: `{"error": "boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flatten(tt.fields...))
		})
	}
}

func TestNewConfigDefaultsToConsole(t *testing.T) {
	cfg := NewConfig("pssh", false, "")
	assert.Equal(t, "console", cfg.Format)
	assert.NotNil(t, New(cfg))
}
