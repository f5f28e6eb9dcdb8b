package kernel

import (
	"wafer/fixed"
	"wafer/klist"
)

// recomputeOnePriority applies priority = PRI_MAX - recent_cpu/4 -
// 2*nice, clamped to the legal range.
func (k *Kernel) recomputeOnePriority(t *Thread) {
	p := fixed.FromInt(PriMax).
		Sub(t.recentCPU.DivInt(4)).
		SubInt(int64(2 * t.nice)).
		ToIntRound()
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	t.originPriority = int(p)
}

// recomputeMLFQPriorities recomputes every thread's priority, called
// every fourth tick in MLFQ mode. The idle thread is exempt: it must
// stay at PRI_MIN or it would outrank real work the moment its
// recent_cpu decays. The ready list must be re-sorted since
// priorities changed under it.
func (k *Kernel) recomputeMLFQPriorities() {
	for _, t := range k.all {
		if t == k.idle || t.status == Dying {
			continue
		}
		k.recomputeOnePriority(t)
	}
	k.resortReady()
}

func (k *Kernel) resortReady() {
	all := k.ready.ToSlice()
	k.ready = klist.New[*Thread](byPriority)
	for _, t := range all {
		k.ready.Insert(t)
	}
}

// recomputeLoadAndRecentCPU updates load_avg and every thread's
// recent_cpu, called once per second in MLFQ mode.
func (k *Kernel) recomputeLoadAndRecentCPU() {
	// ready_count is threads ready or running, not counting idle
	// (which is parked in the ready list whenever anything else runs).
	readyCount := int64(k.ready.Len())
	if k.idle.status == Ready {
		readyCount--
	}
	if k.current != k.idle {
		readyCount++
	}

	coeff59 := fixed.FromInt(59).Div(fixed.FromInt(60))
	coeff1 := fixed.FromInt(1).Div(fixed.FromInt(60))
	k.loadAvg = coeff59.Mul(k.loadAvg).Add(coeff1.MulInt(readyCount))

	twoLoad := k.loadAvg.MulInt(2)
	coeff := twoLoad.Div(twoLoad.AddInt(1))
	for _, t := range k.all {
		if t == k.idle || t.status == Dying {
			continue
		}
		t.recentCPU = coeff.Mul(t.recentCPU).AddInt(int64(t.nice))
	}
}
