package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teslashibe/go-swarm/pkg/geom"
	"github.com/teslashibe/go-swarm/pkg/track"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// testConfig drops the start-up gate so thresholds can be checked from t0.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Warmup = 0
	return cfg
}

// jitter returns a position wobbling within a few pixels of (100,100).
func jitter(i int) geom.Point {
	return geom.Pt(100+float64(i%5), 100+float64(i%3))
}

// feed observes the track at 30Hz over [from, to) and evaluates the
// detector every 100ms. It returns the time of the first Stuck verdict.
func feed(d *Detector, tr *track.Track, from, to time.Duration, at func(i int, ts time.Duration) geom.Point) (time.Duration, bool) {
	const frame = time.Second / 30
	next := from
	i := 0
	for ts := from; ts < to; ts += frame {
		tr.Observe(at(i, ts), t0.Add(ts))
		i++
		if ts >= next {
			next += 100 * time.Millisecond
			v := d.Evaluate(Input{Now: t0.Add(ts), Track: tr.Snapshot(), Since: t0, Patrolling: true})
			if v == Stuck {
				return ts, true
			}
		}
	}
	return 0, false
}

func TestStuck_TriggersAfterSustainedLowSpread(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, nil)
	tr := track.New("1", cfg.Window)

	at, ok := feed(d, tr, 0, 15*time.Second, func(i int, _ time.Duration) geom.Point { return jitter(i) })

	assert.True(t, ok, "expected stuck verdict")
	// The window qualifies at MinSpan, then the timer must exceed StuckTime.
	assert.Greater(t, at, cfg.MinSpan+cfg.StuckTime)
	assert.Less(t, at, cfg.MinSpan+cfg.StuckTime+time.Second)

	_, running := d.StuckSince()
	assert.False(t, running, "timer clears on trigger")
}

func TestStuck_FarSampleResetsTimer(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, nil)
	tr := track.New("1", cfg.Window)

	_, ok := feed(d, tr, 0, 12*time.Second, func(i int, ts time.Duration) geom.Point {
		if ts >= 5*time.Second && ts < 5*time.Second+time.Second/30 {
			return geom.Pt(100+cfg.StuckDistance+5, 100)
		}
		return jitter(i)
	})

	assert.False(t, ok, "one far sample must reset the stuck timer")
}

func TestStuck_RequiresPatrolling(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, nil)
	tr := track.New("1", cfg.Window)

	for i := 0; i < 400; i++ {
		ts := time.Duration(i) * time.Second / 30
		tr.Observe(jitter(i), t0.Add(ts))
		v := d.Evaluate(Input{Now: t0.Add(ts), Track: tr.Snapshot(), Since: t0, Patrolling: false})
		assert.Equal(t, None, v)
	}
}

func TestLost(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name string
		gap  time.Duration
		want Verdict
	}{
		{"short gap", 500 * time.Millisecond, None},
		{"at threshold", 3 * time.Second, None},
		{"beyond threshold", 3500 * time.Millisecond, Lost},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(cfg, nil)
			tr := track.New("2", cfg.Window)
			tr.Observe(geom.Pt(0, 0), t0)
			tr.MarkMissing()

			v := d.Evaluate(Input{Now: t0.Add(tc.gap), Track: tr.Snapshot(), Since: t0, Patrolling: true})
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestLost_NeverSeenUsesSince(t *testing.T) {
	d := New(testConfig(), nil)
	snap := track.New("2", time.Second).Snapshot()

	in := Input{Now: t0.Add(2 * time.Second), Track: snap, Since: t0}
	assert.Equal(t, 2*time.Second, in.Gap())
	assert.False(t, d.NeedsRecovery(in))

	in.Now = t0.Add(4 * time.Second)
	assert.True(t, d.NeedsRecovery(in))
}

func TestCooldownGate(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, nil)
	tr := track.New("2", cfg.Window)
	tr.Observe(geom.Pt(0, 0), t0)
	tr.MarkMissing()

	now := t0.Add(10 * time.Second)
	in := Input{Now: now, Track: tr.Snapshot(), Since: t0, LastRecovery: now.Add(-5 * time.Second)}
	assert.Equal(t, None, d.Evaluate(in), "inside cooldown")

	in.LastRecovery = now.Add(-cfg.Cooldown)
	assert.Equal(t, Lost, d.Evaluate(in), "cooldown elapsed")
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "lost", Lost.String())
	assert.Equal(t, "stuck", Stuck.String())
}

func TestWarmupGate(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg, nil)
	tr := track.New("2", cfg.Window)
	tr.Observe(geom.Pt(0, 0), t0)
	tr.MarkMissing()

	in := Input{Now: t0.Add(cfg.LostThreshold + time.Second), Track: tr.Snapshot(), Since: t0}
	assert.Equal(t, None, d.Evaluate(in), "lost during warm-up is held")

	in.Now = t0.Add(cfg.Warmup)
	assert.Equal(t, Lost, d.Evaluate(in), "warm-up over")
}
