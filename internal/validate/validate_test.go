package validate

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel/internal/model"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	v, err := New(logger)
	require.NoError(t, err)
	return v
}

func validEvent() *model.ActivityEvent {
	return &model.ActivityEvent{
		ActorID:    "u1",
		Kind:       model.KindLogin,
		Timestamp:  time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
		SourceAddr: "10.1.2.3",
		Outcome:    model.OutcomeSuccess,
	}
}

func TestValidator_Event(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name   string
		mutate func(*model.ActivityEvent)
		wantOK bool
	}{
		{
			name:   "valid event",
			mutate: func(e *model.ActivityEvent) {},
			wantOK: true,
		},
		{
			name:   "empty actor id",
			mutate: func(e *model.ActivityEvent) { e.ActorID = "" },
			wantOK: false,
		},
		{
			name:   "unknown kind",
			mutate: func(e *model.ActivityEvent) { e.Kind = "keystroke" },
			wantOK: false,
		},
		{
			name:   "missing timestamp",
			mutate: func(e *model.ActivityEvent) { e.Timestamp = time.Time{} },
			wantOK: false,
		},
		{
			name:   "bad source address",
			mutate: func(e *model.ActivityEvent) { e.SourceAddr = "not-an-ip" },
			wantOK: false,
		},
		{
			name:   "unparsable dest address passes through",
			mutate: func(e *model.ActivityEvent) { e.DestAddr = "999.999.1.1" },
			wantOK: true,
		},
		{
			name:   "unknown outcome",
			mutate: func(e *model.ActivityEvent) { e.Outcome = "maybe" },
			wantOK: false,
		},
		{
			name:   "ipv6 source address",
			mutate: func(e *model.ActivityEvent) { e.SourceAddr = "2001:db8::1" },
			wantOK: true,
		},
		{
			name: "no source address at all",
			mutate: func(e *model.ActivityEvent) {
				e.SourceAddr = ""
			},
			wantOK: true,
		},
		{
			name: "attributes and session id pass through",
			mutate: func(e *model.ActivityEvent) {
				e.Attributes = map[string]string{"bytes": "1024"}
				e.SessionID = "s1"
			},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(ev)
			ok, reason := v.Event(ev)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestValidator_NilEvent(t *testing.T) {
	v := newValidator(t)
	ok, reason := v.Event(nil)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}
