package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestManual_Advance(t *testing.T) {
	c := NewManual(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), c.Now())
}

func TestManual_TickerFiresOnAdvance(t *testing.T) {
	c := NewManual(epoch)
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C():
		assert.Equal(t, epoch.Add(time.Minute), got)
	default:
		t.Fatal("expected ticker to fire")
	}
}

func TestManual_TickerDropsUnconsumedTicks(t *testing.T) {
	c := NewManual(epoch)
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(time.Minute)
	c.Advance(time.Minute)
	c.Advance(time.Minute)

	require.Len(t, tk.C(), 1)
	<-tk.C()
	assert.Len(t, tk.C(), 0)
}

func TestManual_StoppedTickerIsSilent(t *testing.T) {
	c := NewManual(epoch)
	tk := c.NewTicker(time.Minute)
	tk.Stop()

	c.Advance(5 * time.Minute)
	assert.Len(t, tk.C(), 0)
}

func TestManual_SetBackwardsDoesNotFire(t *testing.T) {
	c := NewManual(epoch)
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Set(epoch.Add(-time.Hour))
	assert.Len(t, tk.C(), 0)
	assert.Equal(t, epoch.Add(-time.Hour), c.Now())
}

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	assert.False(t, got.Before(before))
}
