package peersync

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bluetime/go/internal/timer"
)

func TestEncode_FlatMapping(t *testing.T) {
	startedAt := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	data, err := Encode(StartMessage(300*time.Second, startedAt))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"start","duration":300,"startTime":1792152000}`, string(data))

	data, err = Encode(CancelMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"cancel"}`, string(data))

	_, err = Encode(Message{})
	assert.ErrorIs(t, err, ErrMissingAction)
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"action":"pause","duration":42.5}`))
	require.NoError(t, err)
	assert.Equal(t, ActionPause, m.Action)
	require.NotNil(t, m.Duration)
	assert.Equal(t, 42500*time.Millisecond, FromSeconds(*m.Duration))

	m, err = Decode([]byte(`{"action":"somethingNew","x":1}`))
	require.NoError(t, err)
	assert.Equal(t, Action("somethingNew"), m.Action)
	assert.NoError(t, m.Validate())

	_, err = Decode([]byte(`{"duration":1}`))
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Decode([]byte(`{"action":"start","duration":"five"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"start complete", `{"action":"start","duration":300,"startTime":10}`, false},
		{"start without startTime", `{"action":"start","duration":300}`, true},
		{"pause without duration", `{"action":"pause"}`, true},
		{"cancel bare", `{"action":"cancel"}`, false},
		{"initialData bare", `{"action":"initialData"}`, false},
		{"selectDuration without duration", `{"action":"selectDuration"}`, true},
		{"dataDump without flags", `{"action":"dataDump","duration":300,"startTime":-1}`, true},
		{"dataDump without displayTime", `{"action":"dataDump","duration":300,"startTime":-1,"timerCancelled":true,"timerFinished":false,"timerIsRunning":false}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			require.NoError(t, err)

			err = m.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDataDumpMessage(t *testing.T) {
	startedAt := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	msg := DataDumpMessage(timer.Snapshot{
		State: timer.State{
			Status:    timer.StatusPaused,
			Duration:  300 * time.Second,
			Elapsed:   120 * time.Second,
			StartedAt: startedAt,
		},
		Remaining: 180 * time.Second,
	})

	require.NoError(t, msg.Validate())
	assert.False(t, *msg.TimerCancelled)
	assert.False(t, *msg.TimerFinished)
	assert.False(t, *msg.TimerIsRunning)
	assert.Equal(t, 180.0, *msg.DisplayTime)

	dump, err := msg.Dump()
	require.NoError(t, err)
	assert.True(t, dump.StartedAt.Equal(startedAt))
	assert.Equal(t, 300*time.Second, dump.Duration)
	require.NotNil(t, dump.DisplayTime)
	assert.Equal(t, 180*time.Second, *dump.DisplayTime)
}

func TestDataDumpMessage_NeverStarted(t *testing.T) {
	msg := DataDumpMessage(timer.Snapshot{
		State:     timer.State{Status: timer.StatusIdle, Duration: 300 * time.Second},
		Remaining: 300 * time.Second,
	})

	assert.Equal(t, float64(-1), *msg.StartTime)
	assert.True(t, *msg.TimerCancelled)

	dump, err := msg.Dump()
	require.NoError(t, err)
	assert.True(t, dump.StartedAt.IsZero())
	assert.True(t, dump.Cancelled)
}

func TestUnixSecondsPrecision(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 123456789, time.UTC)

	back := FromUnixSeconds(UnixSeconds(at))
	assert.Equal(t, at.Truncate(time.Microsecond).UnixMicro(), back.UnixMicro())
	assert.True(t, FromUnixSeconds(-1).IsZero())
}

func TestFromSeconds_Saturates(t *testing.T) {
	assert.Equal(t, time.Duration(math.MaxInt64), FromSeconds(1e11))
	assert.Equal(t, time.Duration(-math.MaxInt64), FromSeconds(-1e11))
	assert.Equal(t, time.Duration(math.MaxInt64), FromSeconds(math.Inf(1)))

	// re-encoding a saturated duration decodes to the same value
	d := FromSeconds(1e11)
	assert.Equal(t, d, FromSeconds(Seconds(d)))
	d = FromSeconds(-1e11)
	assert.Equal(t, d, FromSeconds(Seconds(d)))
}

func TestFromUnixSeconds_Saturates(t *testing.T) {
	far := FromUnixSeconds(1e300)
	assert.Equal(t, int64(math.MaxInt64), far.UnixMicro())
}
