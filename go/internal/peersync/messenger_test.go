package peersync

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bluetime/go/internal/timer"
)

type countingPresenter struct {
	mu       sync.Mutex
	finished int
}

func (p *countingPresenter) Render(v timer.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.Status == timer.StatusFinished {
		p.finished++
	}
}

func (p *countingPresenter) finishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

type pair struct {
	clock     *clockwork.FakeClock
	watch     *Messenger
	phone     *Messenger
	watchM    *timer.Machine
	phoneM    *timer.Machine
	watchView *countingPresenter
	watchEnd  *PipeEnd
	phoneEnd  *PipeEnd
}

func newPair(t *testing.T) *pair {
	t.Helper()

	clock := clockwork.NewFakeClock()
	watchView := &countingPresenter{}
	watchM := timer.NewMachine(clock, watchView)
	phoneM := timer.NewMachine(clock, nil)
	t.Cleanup(watchM.Close)
	t.Cleanup(phoneM.Close)

	watchEnd, phoneEnd := Pipe()

	phoneCfg := DefaultConfig()
	phoneCfg.ServeSnapshots = true

	return &pair{
		clock:     clock,
		watch:     NewMessenger(watchM, watchEnd, DefaultConfig()),
		phone:     NewMessenger(phoneM, phoneEnd, phoneCfg),
		watchM:    watchM,
		phoneM:    phoneM,
		watchView: watchView,
		watchEnd:  watchEnd,
		phoneEnd:  phoneEnd,
	}
}

func TestMessenger_StartMirrorsToPeer(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	local, err := p.watch.Start(ctx)
	require.NoError(t, err)

	remote := p.phoneM.Snapshot()
	assert.Equal(t, timer.StatusRunning, remote.Status)
	assert.Equal(t, local.Duration, remote.Duration)
	assert.WithinDuration(t, local.StartedAt, remote.StartedAt, time.Microsecond)

	localDeadline, ok := p.watchM.PendingExpiration()
	require.True(t, ok)
	remoteDeadline, ok := p.phoneM.PendingExpiration()
	require.True(t, ok)
	assert.WithinDuration(t, localDeadline, remoteDeadline, time.Microsecond)
}

func TestMessenger_EchoedStartIsHarmless(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	local, err := p.watch.Start(ctx)
	require.NoError(t, err)
	before, ok := p.watchM.PendingExpiration()
	require.True(t, ok)

	// the phone reflects the start back with the parameters it received
	remote := p.phoneM.Snapshot()
	require.NoError(t, p.phoneEnd.Send(ctx, StartMessage(remote.Duration, remote.StartedAt)))

	after := p.watchM.Snapshot()
	assert.Equal(t, timer.StatusRunning, after.Status)
	assert.Equal(t, local.StartedAt, after.StartedAt)
	assert.Equal(t, time.Duration(0), after.Elapsed)

	deadline, ok := p.watchM.PendingExpiration()
	require.True(t, ok)
	assert.Equal(t, before, deadline)

	p.clock.Advance(local.Duration)
	require.Eventually(t, func() bool {
		return p.watchM.Status() == timer.StatusFinished
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return p.watchView.finishedCount() > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestMessenger_PauseAndCancelMirror(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.watch.Start(ctx)
	require.NoError(t, err)
	p.clock.Advance(120 * time.Second)

	_, err = p.watch.Pause(ctx)
	require.NoError(t, err)

	remote := p.phoneM.Snapshot()
	assert.Equal(t, timer.StatusPaused, remote.Status)
	assert.Equal(t, 120*time.Second, remote.Elapsed)
	assert.Equal(t, 180*time.Second, remote.Remaining)

	p.watch.Cancel(ctx)
	remote = p.phoneM.Snapshot()
	assert.Equal(t, timer.StatusIdle, remote.Status)
	assert.Equal(t, time.Duration(0), remote.Elapsed)
}

func TestMessenger_Toggle(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	s, err := p.watch.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, timer.StatusRunning, s.Status)

	s, err = p.watch.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, timer.StatusPaused, s.Status)
	assert.Equal(t, timer.StatusPaused, p.phoneM.Status())
}

func TestMessenger_SelectDuration(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	assert.True(t, p.phone.SelectDuration(ctx, 90*time.Second))
	assert.Equal(t, 90*time.Second, p.watchM.Snapshot().Duration)

	_, err := p.watch.Start(ctx)
	require.NoError(t, err)

	// a late proposal must not change a running countdown
	p.watch.HandleMessage(ctx, SelectDurationMessage(30*time.Second))
	assert.Equal(t, 90*time.Second, p.watchM.Snapshot().Duration)
}

func TestMessenger_InitialDataRestoresFromPeer(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.phone.Start(ctx)
	require.NoError(t, err)
	p.clock.Advance(100 * time.Second)

	// the watch view reappears with fresh local state
	p.watchM.Cancel()
	p.watch.RequestSnapshot(ctx)

	s := p.watchM.Snapshot()
	assert.Equal(t, timer.StatusRunning, s.Status)
	assert.Equal(t, 200*time.Second, s.Remaining)

	deadline, ok := p.watchM.PendingExpiration()
	require.True(t, ok)
	assert.Equal(t, p.clock.Now().Add(200*time.Second), deadline)
}

func TestMessenger_InitialDataPausedPeer(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.phone.Start(ctx)
	require.NoError(t, err)
	p.clock.Advance(120 * time.Second)
	_, err = p.phone.Pause(ctx)
	require.NoError(t, err)

	p.watchM.Cancel()
	p.watch.RequestSnapshot(ctx)

	s := p.watchM.Snapshot()
	assert.Equal(t, timer.StatusPaused, s.Status)
	assert.Equal(t, 120*time.Second, s.Elapsed)
	assert.Equal(t, 180*time.Second, s.Remaining)
}

func TestMessenger_WatchDoesNotServeSnapshots(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.watch.Start(ctx)
	require.NoError(t, err)
	p.phoneM.Cancel()

	p.phone.RequestSnapshot(ctx)
	assert.Equal(t, timer.StatusIdle, p.phoneM.Status())
}

func TestMessenger_DropsMalformedAndUnknown(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	before := p.watchM.Snapshot()

	p.watch.HandleMessage(ctx, Message{Action: ActionStart, Duration: float(10)})
	p.watch.HandleMessage(ctx, Message{Action: ActionDataDump, Duration: float(10)})
	p.watch.HandleMessage(ctx, Message{Action: "vibrate"})
	p.watch.HandleMessage(ctx, Message{})

	assert.Equal(t, before.State, p.watchM.Snapshot().State)
}

func TestMessenger_SendFailureIsOnlyLogged(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	require.NoError(t, p.watchEnd.Close())

	s, err := p.watch.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, timer.StatusRunning, s.Status)
	assert.Equal(t, timer.StatusIdle, p.phoneM.Status())
}

func TestMessenger_HugeDurationKeepsPeersInStep(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	p.watch.HandleMessage(ctx, Message{Action: ActionSelectDuration, Duration: float(1e11)})
	require.Equal(t, time.Duration(math.MaxInt64), p.watchM.Snapshot().Duration)

	local, err := p.watch.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, timer.StatusRunning, local.Status)

	remote := p.phoneM.Snapshot()
	assert.Equal(t, timer.StatusRunning, remote.Status)
	assert.Equal(t, local.Duration, remote.Duration)

	_, pending := p.watchM.PendingExpiration()
	assert.True(t, pending)
	_, pending = p.phoneM.PendingExpiration()
	assert.True(t, pending)
}
