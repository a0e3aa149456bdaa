package typing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oppen/gptrelay/clock"
)

type fakeSignaler struct {
	mx    sync.Mutex
	chats []int64
	err   error
}

func (f *fakeSignaler) SendTyping(_ context.Context, chatID int64) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.chats = append(f.chats, chatID)
	return f.err
}

func (f *fakeSignaler) count() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.chats)
}

func TestIndicatorStopsEmitting(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sig := &fakeSignaler{}
	log, _ := test.NewNullLogger()

	ind := Start(context.Background(), sig, 42, 4*time.Second, fc, log)

	asleep := func() bool { return fc.Waiters() == 1 }
	require.Eventually(t, asleep, time.Second, time.Millisecond)
	assert.Equal(t, 1, sig.count())

	fc.Advance(3 * time.Second)
	assert.Equal(t, 1, sig.count())

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return sig.count() == 2 && asleep() }, time.Second, time.Millisecond)

	fc.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return sig.count() == 3 && asleep() }, time.Second, time.Millisecond)

	ind.Stop()
	stopped := sig.count()
	for i := 0; i < 5; i++ {
		fc.Advance(4 * time.Second)
	}
	assert.Never(t, func() bool { return sig.count() != stopped }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, []int64{42, 42, 42}, sig.chats)

	// Second Stop is a no-op.
	ind.Stop()
}

func TestIndicatorStopMidSleep(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sig := &fakeSignaler{}

	ind := Start(context.Background(), sig, 1, time.Second, fc, nil)
	require.Eventually(t, func() bool { return fc.Waiters() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		ind.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while the indicator slept")
	}
	assert.Equal(t, 1, sig.count())
}

func TestIndicatorParentCancel(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sig := &fakeSignaler{}
	ctx, cancel := context.WithCancel(context.Background())

	ind := Start(ctx, sig, 1, time.Second, fc, nil)
	require.Eventually(t, func() bool { return fc.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	ind.Stop()

	assert.Equal(t, 1, sig.count())
}

func TestIndicatorKeepsGoingOnError(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sig := &fakeSignaler{err: errors.New("flood")}
	log, hook := test.NewNullLogger()

	ind := Start(context.Background(), sig, 1, time.Second, fc, log)
	require.Eventually(t, func() bool { return fc.Waiters() == 1 }, time.Second, time.Millisecond)
	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return sig.count() == 2 }, time.Second, time.Millisecond)
	ind.Stop()

	assert.NotEmpty(t, hook.AllEntries())
}
