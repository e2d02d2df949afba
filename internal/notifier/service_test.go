package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"genwatch/internal/state"
	kit "genwatch/internal/transport"
	"genwatch/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  map[int64]int
	fails map[int64]int // remaining failures per chat
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sent: map[int64]int{}, fails: map[int64]int{}}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[to.ChatID] > 0 {
		f.fails[to.ChatID]--
		return errors.New("send failed")
	}
	f.sent[to.ChatID]++
	return nil
}

func (f *fakeAdapter) sentTo(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[id]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestBroadcastFansOutToEnabledChannels(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.SetChannelEnabled(1, true)
	st.SetChannelEnabled(2, true)
	st.SetChannelEnabled(3, false)

	ad := newFakeAdapter()
	s := New(Config{Workers: 2, QueueSize: 16, RatePerSec: 1000}, ad, st, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Broadcast(context.Background(), "hello"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return ad.sentTo(1) == 1 && ad.sentTo(2) == 1 })
	if ad.sentTo(3) != 0 {
		t.Fatal("disabled channel received a broadcast")
	}
}

func TestBroadcastNoChannels(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeAdapter(), state.New(), logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Broadcast(context.Background(), "into the void"); err != nil {
		t.Fatalf("Broadcast with no channels: %v", err)
	}
}

func TestBroadcastAfterStop(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.SetChannelEnabled(1, true)
	s := New(Config{}, newFakeAdapter(), st, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())

	if err := s.Broadcast(context.Background(), "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestDeliveryRetries(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.SetChannelEnabled(1, true)

	ad := newFakeAdapter()
	ad.fails[1] = 2 // first two attempts fail, third lands

	s := New(Config{
		Workers:    1,
		RatePerSec: 1000,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, ad, st, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Broadcast(context.Background(), "retry me"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ad.sentTo(1) == 1 })
}

func TestPerChannelFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.SetChannelEnabled(1, true)
	st.SetChannelEnabled(2, true)

	ad := newFakeAdapter()
	ad.fails[1] = 100 // channel 1 fails every attempt

	s := New(Config{
		Workers:    2,
		RatePerSec: 1000,
		RetryMax:   1,
		RetryBase:  time.Millisecond,
	}, ad, st, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Broadcast(context.Background(), "partial"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ad.sentTo(2) == 1 })
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	st := state.New()
	for i := int64(1); i <= 8; i++ {
		st.SetChannelEnabled(i, true)
	}
	s := New(Config{Workers: 1, QueueSize: 2, RatePerSec: 1}, newFakeAdapter(), st, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	// With a 2-slot queue, one slow worker and 8 targets per broadcast, some
	// enqueues must fail eventually.
	var sawFull bool
	for i := 0; i < 10 && !sawFull; i++ {
		if err := s.Broadcast(context.Background(), "burst"); errors.Is(err, ErrQueueFull) {
			sawFull = true
		}
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}
}
