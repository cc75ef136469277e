package engine

import (
	"testing"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

func daysAgo(now time.Time, d float64) int64 {
	return now.Add(-time.Duration(d * 24 * float64(time.Hour))).UnixMilli()
}

func TestActivationUnretrievable(t *testing.T) {
	p := config.DefaultMemoryParams()
	now := time.Now()

	m := &store.Memory{Content: "x", Importance: 0.5}
	if _, ok := Activation(m, nil, now, p); ok {
		t.Error("memory with no access history must be unretrievable")
	}
}

func TestActivationRecency(t *testing.T) {
	p := config.DefaultMemoryParams()
	now := time.Now()

	fresh := &store.Memory{Content: "x", AccessTimes: []int64{daysAgo(now, 1)}}
	stale := &store.Memory{Content: "x", AccessTimes: []int64{daysAgo(now, 30)}}

	a1, ok := Activation(fresh, nil, now, p)
	if !ok {
		t.Fatal("fresh should be retrievable")
	}
	a2, ok := Activation(stale, nil, now, p)
	if !ok {
		t.Fatal("stale should be retrievable")
	}
	if a1 <= a2 {
		t.Errorf("recent access must score higher: fresh=%g stale=%g", a1, a2)
	}
}

func TestActivationFrequency(t *testing.T) {
	p := config.DefaultMemoryParams()
	now := time.Now()

	once := &store.Memory{Content: "x", AccessTimes: []int64{daysAgo(now, 5)}}
	often := &store.Memory{Content: "x", AccessTimes: []int64{
		daysAgo(now, 5), daysAgo(now, 4), daysAgo(now, 3),
	}}

	a1, _ := Activation(once, nil, now, p)
	a2, _ := Activation(often, nil, now, p)
	if a2 <= a1 {
		t.Errorf("more accesses must score higher: once=%g often=%g", a1, a2)
	}
}

func TestActivationSameInstantAccess(t *testing.T) {
	p := config.DefaultMemoryParams()
	now := time.Now()

	// An access at exactly "now" must not produce Inf or NaN.
	m := &store.Memory{Content: "x", AccessTimes: []int64{now.UnixMilli()}}
	a, ok := Activation(m, nil, now, p)
	if !ok {
		t.Fatal("should be retrievable")
	}
	if a != a || a > 1e6 {
		t.Errorf("activation = %g, want finite", a)
	}
}

func TestActivationSpreading(t *testing.T) {
	p := config.DefaultMemoryParams()
	now := time.Now()
	access := []int64{daysAgo(now, 2)}

	m := &store.Memory{Content: "The deploy pipeline failed on Kubernetes", AccessTimes: access}

	base, _ := Activation(m, nil, now, p)
	boosted, _ := Activation(m, []string{"KUBERNETES", "deploy"}, now, p)
	if boosted-base < 2*p.SpreadBoost-1e-9 {
		t.Errorf("expected +%g from two keyword matches, got %g", 2*p.SpreadBoost, boosted-base)
	}

	// Whole-word only: "pipe" must not match "pipeline".
	partial, _ := Activation(m, []string{"pipe"}, now, p)
	if partial != base {
		t.Errorf("substring must not match: base=%g partial=%g", base, partial)
	}
}

func TestActivationImportance(t *testing.T) {
	p := config.DefaultMemoryParams()
	now := time.Now()
	access := []int64{daysAgo(now, 2)}

	plain := &store.Memory{Content: "x", AccessTimes: access, Importance: 0.2}
	vital := &store.Memory{Content: "x", AccessTimes: access, Importance: 0.9}

	a1, _ := Activation(plain, nil, now, p)
	a2, _ := Activation(vital, nil, now, p)
	diff := a2 - a1
	want := p.ImportanceWeight * 0.7
	if diff < want-1e-9 || diff > want+1e-9 {
		t.Errorf("importance delta = %g, want %g", diff, want)
	}
}
