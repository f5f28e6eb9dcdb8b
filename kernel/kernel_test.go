package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wafer/kernel"
)

// TestPriorityPreemption: a higher-priority thread created by a
// lower-priority caller runs to completion before Create returns.
func TestPriorityPreemption(t *testing.T) {
	k, main := kernel.New(kernel.Config{})
	require.Equal(t, 31, main.EffectivePriority())

	ran := false
	_, errt := k.Create("A", 40, func(self *kernel.Thread) {
		ran = true
	}, nil)
	require.Equal(t, kernel.Running, main.Status())
	require.Zero(t, errt)
	require.True(t, ran, "higher priority thread A must run before Create returns")
}

// TestAlarm: sleep_until wakes no earlier than the requested tick.
// sleeper runs at a priority above main's so it
// registers its wake time and blocks before main's tick loop starts,
// making the 10-tick offset exact.
func TestAlarm(t *testing.T) {
	k, main := kernel.New(kernel.Config{})
	woke := make(chan uint64, 1)

	_, errt := k.Create("sleeper", main.EffectivePriority()+5, func(self *kernel.Thread) {
		k.SleepUntil(k.Ticks() + 10)
		woke <- k.Ticks()
	}, nil)
	require.Zero(t, errt)

	for i := 0; i < 9; i++ {
		k.Tick()
		// Nothing but the idle thread is runnable while the sleeper
		// waits out its alarm.
		require.Equal(t, 1, k.ReadyLen())
		select {
		case <-woke:
			t.Fatalf("sleeper woke too early at tick %d", k.Ticks())
		default:
		}
	}
	k.Tick()
	got := <-woke
	require.GreaterOrEqual(t, got, uint64(10))
}

// TestLockDonation: L held by low (10); high (40) blocks on L and
// donates, raising low's effective priority to 40 until low releases;
// completion order is high, then medium, then low.
func TestLockDonation(t *testing.T) {
	k, _ := kernel.New(kernel.Config{})
	l := kernel.NewLock(k)

	acquired := kernel.NewSema(k, 0)
	release := kernel.NewSema(k, 0)
	done := kernel.NewSema(k, 0)
	order := make(chan string, 3)

	_, errt := k.Create("low", 10, func(self *kernel.Thread) {
		l.Acquire()
		acquired.Up()
		release.Down()
		l.Release()
		order <- "low"
		done.Up()
	}, nil)
	require.Zero(t, errt)

	// Block main until low has actually taken the lock, so donation
	// below targets a real holder rather than a not-yet-run thread.
	acquired.Down()

	_, errt = k.Create("medium", 20, func(self *kernel.Thread) {
		order <- "medium"
		done.Up()
	}, nil)
	require.Zero(t, errt)

	_, errt = k.Create("high", 40, func(self *kernel.Thread) {
		l.Acquire()
		l.Release()
		order <- "high"
		done.Up()
	}, nil)
	require.Zero(t, errt)

	// high has already blocked on l and donated by the time Create
	// returns (Create yields immediately to a higher-priority thread).
	release.Up()

	done.Down()
	done.Down()
	done.Down()

	got := []string{<-order, <-order, <-order}
	require.Equal(t, []string{"high", "medium", "low"}, got)
}

// TestSetPriorityRoundTrip: set_priority followed by get_priority
// returns the value set, provided no donation is active.
func TestSetPriorityRoundTrip(t *testing.T) {
	k, main := kernel.New(kernel.Config{})
	require.Zero(t, k.SetPriority(main, 45))
	require.Equal(t, 45, k.GetPriority(main))

	require.Zero(t, k.SetPriority(main, 12))
	require.Equal(t, 12, k.GetPriority(main))

	require.NotZero(t, k.SetPriority(main, kernel.PriMax+1))
}

// TestSemaTryDown: TryDown never blocks; it only succeeds while the
// counter is positive.
func TestSemaTryDown(t *testing.T) {
	k, _ := kernel.New(kernel.Config{})
	s := kernel.NewSema(k, 1)
	require.True(t, s.TryDown())
	require.False(t, s.TryDown())
	s.Up()
	require.True(t, s.TryDown())
}

// TestCondvarSignalWakesHighestPriority: two waiters at different
// priorities; each signal releases the highest-priority one first.
func TestCondvarSignalWakesHighestPriority(t *testing.T) {
	k, _ := kernel.New(kernel.Config{})
	lock := kernel.NewLock(k)
	cond := kernel.NewCond(k)
	order := make(chan string, 2)

	waiter := func(name string) func(*kernel.Thread) {
		return func(self *kernel.Thread) {
			lock.Acquire()
			cond.Wait(lock)
			order <- name
			lock.Release()
		}
	}

	// Both outrank main (31), so each runs to its Wait before Create
	// returns, parking in the condvar's waiter list.
	_, errt := k.Create("mid", 35, waiter("mid"), nil)
	require.Zero(t, errt)
	_, errt = k.Create("high", 40, waiter("high"), nil)
	require.Zero(t, errt)

	cond.Signal()
	cond.Signal()

	require.Equal(t, "high", <-order)
	require.Equal(t, "mid", <-order)
}

// TestCondvarBroadcast wakes every waiter.
func TestCondvarBroadcast(t *testing.T) {
	k, _ := kernel.New(kernel.Config{})
	lock := kernel.NewLock(k)
	cond := kernel.NewCond(k)
	woken := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		_, errt := k.Create("w", 40, func(self *kernel.Thread) {
			lock.Acquire()
			cond.Wait(lock)
			woken <- struct{}{}
			lock.Release()
		}, nil)
		require.Zero(t, errt)
	}

	cond.Broadcast()
	for i := 0; i < 3; i++ {
		<-woken
	}
}

// TestMLFQRecomputesPriorityFromRecentCPU: in MLFQ mode a running
// thread accumulates recent_cpu, and the every-fourth-tick recompute
// replaces its set priority with PRI_MAX - recent_cpu/4 - 2*nice.
func TestMLFQRecomputesPriorityFromRecentCPU(t *testing.T) {
	k, main := kernel.New(kernel.Config{Mode: kernel.MLFQ, TicksPerSecond: 4})

	for i := 0; i < 4; i++ {
		k.Tick()
	}

	// main ran every tick, so its recent_cpu is positive and its
	// recomputed priority sits near PRI_MAX, far above the default 31.
	require.Greater(t, k.GetRecentCPU(main), int64(0))
	require.Greater(t, k.GetPriority(main), 31)
	require.LessOrEqual(t, k.GetPriority(main), kernel.PriMax)

	// One "second" elapsed with one runnable thread, so load_avg moved
	// off zero: 100 * (1/60) rounds to 2.
	require.Equal(t, int64(2), k.GetLoadAvg())
}

// TestMLFQNicePushesPriorityDown: raising nice lowers the recomputed
// priority relative to a zero-nice thread with the same history.
func TestMLFQNicePushesPriorityDown(t *testing.T) {
	k, main := kernel.New(kernel.Config{Mode: kernel.MLFQ})

	k.SetNice(main, 10)
	require.Equal(t, 10, k.GetNice(main))

	for i := 0; i < 4; i++ {
		k.Tick()
	}
	withNice := k.GetPriority(main)

	k2, main2 := kernel.New(kernel.Config{Mode: kernel.MLFQ})
	for i := 0; i < 4; i++ {
		k2.Tick()
	}
	require.Less(t, withNice, k2.GetPriority(main2))
}
