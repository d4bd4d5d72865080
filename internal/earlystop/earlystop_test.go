package earlystop

import (
	"testing"

	"github.com/danielpatrickdp/vulnharness/internal/metrics"
)

func TestStopsAfterPatienceFromPeak(t *testing.T) {
	p := New(Config{Direction: Maximize, MaxPatience: 3})
	scores := []float64{1, 2, 3, 2, 2, 2}
	bestCycle := 0
	stoppedAt := 0
	for i, s := range scores {
		d := p.Observe(s)
		if d.Improved {
			bestCycle = i + 1
		}
		if d.State == Stopped {
			stoppedAt = i + 1
			break
		}
	}
	if stoppedAt != 6 {
		t.Fatalf("expected stop at cycle 6, got %d", stoppedAt)
	}
	if bestCycle != 3 {
		t.Fatalf("expected best at cycle 3, got %d", bestCycle)
	}
	if best, _ := p.Best(); best != 3 {
		t.Fatalf("expected best score 3, got %v", best)
	}
}

func TestFirstObservationImproves(t *testing.T) {
	p := New(Config{Direction: Minimize, MaxPatience: 2})
	d := p.Observe(100)
	if !d.Improved || d.State != Improving {
		t.Fatalf("first observation should improve, got %+v", d)
	}
	if _, ok := p.Best(); !ok {
		t.Fatal("expected an observed best")
	}
}

func TestMinimizeDirection(t *testing.T) {
	p := New(Config{Direction: Minimize, MaxPatience: 2})
	p.Observe(1.0)
	if d := p.Observe(0.5); !d.Improved {
		t.Fatalf("lower loss should improve, got %+v", d)
	}
	d := p.Observe(0.7)
	if d.State != Waiting || d.Patience != 1 {
		t.Fatalf("expected waiting with patience 1, got %+v", d)
	}
	if d := p.Observe(0.9); d.State != Stopped {
		t.Fatalf("expected stopped, got %+v", d)
	}
}

func TestStoppedIsSticky(t *testing.T) {
	p := New(Config{Direction: Maximize, MaxPatience: 1})
	p.Observe(0.5)
	p.Observe(0.4)
	if !p.Stopped() {
		t.Fatal("expected stopped")
	}
	d := p.Observe(0.99)
	if d.State != Stopped || d.Improved || d.Best != 0.5 {
		t.Fatalf("stopped policy should ignore observations, got %+v", d)
	}
}

func TestEqualScoreIsNotImprovement(t *testing.T) {
	p := New(Config{Direction: Maximize, MaxPatience: 3})
	p.Observe(0.5)
	if d := p.Observe(0.5); d.Improved {
		t.Fatal("equal score should not improve")
	}
}

func TestMinDelta(t *testing.T) {
	p := New(Config{Direction: Maximize, MaxPatience: 3, MinDelta: 0.1})
	p.Observe(0.5)
	if d := p.Observe(0.55); d.Improved {
		t.Fatal("gain below MinDelta should not improve")
	}
	if d := p.Observe(0.7); !d.Improved || d.Patience != 0 {
		t.Fatalf("gain above MinDelta should improve and reset patience, got %+v", d)
	}
}

func TestReset(t *testing.T) {
	p := New(Config{Direction: Maximize, MaxPatience: 1})
	p.Observe(1)
	p.Observe(0)
	p.Reset()
	if p.Stopped() || p.Patience() != 0 {
		t.Fatal("reset should clear state")
	}
	if d := p.Observe(0.1); !d.Improved {
		t.Fatal("first observation after reset should improve")
	}
}

func TestMonitorScore(t *testing.T) {
	v := ValidationView{Loss: 0.3, Metrics: metrics.Result{F1: 0.8}}
	f1, err := MonitorF1.Score(v)
	if err != nil || f1 != 0.8 {
		t.Fatalf("expected f1 0.8, got %v %v", f1, err)
	}
	loss, err := MonitorLoss.Score(v)
	if err != nil || loss != 0.3 {
		t.Fatalf("expected loss 0.3, got %v %v", loss, err)
	}
	if MonitorLoss.Direction() != Minimize || MonitorF1.Direction() != Maximize {
		t.Fatal("unexpected monitor directions")
	}
	if _, err := Monitor("auc").Score(v); err == nil {
		t.Fatal("expected error for unknown monitor")
	}
}
