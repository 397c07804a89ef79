package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tunejam/tunejam/internal/domain/session"
)

func TestEnvelope_NewerThan(t *testing.T) {
	rec := session.New("host-1", "Alice")

	tests := []struct {
		name    string
		env     envelope
		lastRev int64
		forward bool
	}{
		{
			name:    "newer snapshot passes",
			env:     envelope{Exists: true, Rev: 5, Record: rec},
			lastRev: 4,
			forward: true,
		},
		{
			name:    "snapshot at the delivered revision is dropped",
			env:     envelope{Exists: true, Rev: 4, Record: rec},
			lastRev: 4,
			forward: false,
		},
		{
			name:    "publish that raced the initial read is dropped",
			env:     envelope{Exists: true, Rev: 3, Record: rec},
			lastRev: 4,
			forward: false,
		},
		{
			name:    "tombstone always passes",
			env:     envelope{Exists: false},
			lastRev: 4,
			forward: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.forward, tt.env.newerThan(tt.lastRev))
		})
	}
}

func TestDecode(t *testing.T) {
	doc, err := decode([]byte(`{"rev":7,"record":{"id":"s1","hostId":"host-1"}}`))
	assert.NoError(t, err)
	assert.Equal(t, int64(7), doc.Rev)
	assert.Equal(t, "host-1", doc.Record.HostID)

	_, err = decode([]byte(`{"rev":7}`))
	assert.Error(t, err, "a document without a body is malformed")

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewFromSettings_Validation(t *testing.T) {
	_, err := NewFromSettings(context.Background(), map[string]any{})
	assert.Error(t, err, "addr is required")

	_, err = NewFromSettings(context.Background(), map[string]any{"addr": 42, "db": "zero"})
	assert.Error(t, err, "settings must decode into the typed config")
}
