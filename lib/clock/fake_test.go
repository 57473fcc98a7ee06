// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fakeClock := Fake(epoch)
	channel := fakeClock.After(500 * time.Millisecond)

	fakeClock.Advance(499 * time.Millisecond)
	select {
	case <-channel:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	fakeClock.Advance(time.Millisecond)
	select {
	case fired := <-channel:
		if want := epoch.Add(500 * time.Millisecond); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
	if fakeClock.Pending() != 0 {
		t.Errorf("Pending() = %d after firing, want 0", fakeClock.Pending())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fakeClock := Fake(epoch)
	select {
	case <-fakeClock.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
	if fakeClock.Pending() != 0 {
		t.Errorf("After(0) registered a waiter")
	}
}

func TestFakeWaitForWaiters(t *testing.T) {
	fakeClock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fakeClock.After(time.Second)
		close(done)
	}()

	fakeClock.WaitForWaiters(1)
	fakeClock.Advance(time.Second)
	<-done

	if got := fakeClock.Now(); !got.Equal(epoch.Add(time.Second)) {
		t.Errorf("Now() = %v, want %v", got, epoch.Add(time.Second))
	}
}
