package ratecalc

import (
	"testing"
	"time"
)

func TestCounterSmoothing(t *testing.T) {
	var c Counter
	c.Tick(1000)
	if c.Rate() != 500 {
		t.Fatalf("rate after first tick = %d, want 500", c.Rate())
	}
	c.Tick(1000)
	if c.Rate() != 750 {
		t.Fatalf("rate after second tick = %d, want 750", c.Rate())
	}
	c.Tick(0)
	if c.Rate() != 375 {
		t.Fatalf("rate after drop to 0 = %d, want 375", c.Rate())
	}
}

func TestBudgetRechargeAndCeiling(t *testing.T) {
	b := NewBudget(ClassDownload, 1000, 100, nil)
	t0 := time.Unix(0, 0)

	if got := b.Grant(t0, 1000); got != 1000 {
		t.Fatalf("initial grant = %d, want 1000 (starts full)", got)
	}
	if got := b.Grant(t0, 1); got != 0 {
		t.Fatalf("grant with no elapsed time = %d, want 0", got)
	}

	t1 := t0.Add(5 * time.Second)
	if got := b.Available(t1); got != 500 {
		t.Fatalf("available after 5s at 100/s = %d, want 500", got)
	}

	t2 := t1.Add(20 * time.Second)
	if got := b.Available(t2); got != 1000 {
		t.Fatalf("available after long idle = %d, want capped at 1000", got)
	}
}
