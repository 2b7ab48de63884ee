// Package termstat implements a rdk.Statter which reports message and
// frame counts to a terminal while a conversion runs.
package termstat

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Collector accumulates named counters and rewrites one status line every
// couple of seconds.
type Collector struct {
	lock    sync.Mutex
	indexes map[string]int
	names   []string
	stats   []int64
	changed bool
	out     io.Writer
}

// NewCollector starts a Collector writing to out.
func NewCollector(out io.Writer) *Collector {
	ts := &Collector{
		indexes: make(map[string]int),
		out:     out,
	}
	go func() {
		tick := time.NewTicker(time.Second * 2)
		for ; ; <-tick.C {
			ts.write()
		}
	}()
	return ts
}

// Count adds value to the named counter, sampled at rate.
func (t *Collector) Count(name string, value int64, rate float64, tags ...string) {
	t.lock.Lock()
	t.changed = true
	defer t.lock.Unlock()

	idx, ok := t.indexes[name]
	if !ok {
		idx = len(t.stats)
		t.stats = append(t.stats, 0)
		t.names = append(t.names, name)
		t.indexes[name] = idx
	}
	if rate < 1 {
		if rand.Float64() > rate {
			return
		}
	}
	t.stats[idx] += value
}

func (t *Collector) write() {
	sb := strings.Builder{}
	t.lock.Lock()
	if !t.changed {
		t.lock.Unlock()
		return
	}
	for i := 0; i < len(t.stats); i++ {
		_, _ = sb.WriteString(fmt.Sprintf("%s: %d ", t.names[i], t.stats[i]))
	}
	t.changed = false
	fmt.Fprintf(t.out, "\r"+sb.String())
	t.lock.Unlock()
}

// Gauge is a no-op for the terminal collector.
func (t *Collector) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram is a no-op for the terminal collector.
func (t *Collector) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set is a no-op for the terminal collector.
func (t *Collector) Set(name string, value string, rate float64, tags ...string) {}

// Timing is a no-op for the terminal collector.
func (t *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {}
