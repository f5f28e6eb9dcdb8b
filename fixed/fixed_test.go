package fixed

import "testing"

func TestRoundTrip(t *testing.T) {
	x := FromInt(5)
	if x.ToIntRound() != 5 {
		t.Fatalf("got %d, want 5", x.ToIntRound())
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	half := T(f / 2)
	x := FromInt(3).Add(half)
	if got := x.ToIntRound(); got != 4 {
		t.Fatalf("3.5 rounds to %d, want 4", got)
	}
	neg := FromInt(-3).Sub(half)
	if got := neg.ToIntRound(); got != -4 {
		t.Fatalf("-3.5 rounds to %d, want -4", got)
	}
}

func TestMulDiv(t *testing.T) {
	a := FromInt(6)
	b := FromInt(2)
	if got := a.Div(b).ToIntTrunc(); got != 3 {
		t.Fatalf("6/2=%d, want 3", got)
	}
	if got := a.Mul(b).ToIntTrunc(); got != 12 {
		t.Fatalf("6*2=%d, want 12", got)
	}
}

func TestLoadAvgFormulaShape(t *testing.T) {
	// load_avg = (59/60)*load_avg + (1/60)*ready_count, staying in
	// fixed-point throughout as the scheduler does.
	loadAvg := FromInt(0)
	readyCount := int64(1)
	coeffA := FromInt(59).Div(FromInt(60))
	coeffB := FromInt(1).Div(FromInt(60))
	next := coeffA.Mul(loadAvg).Add(coeffB.MulInt(readyCount))
	if next.ToIntRound() != 0 {
		t.Fatalf("expected a small fraction rounding to 0, got %d", next.ToIntRound())
	}
}
