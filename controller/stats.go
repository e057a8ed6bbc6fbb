package controller

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mwandt/qcxctl/device"
)

// AnswerLatency is one aggregated bucket: how long devices took to answer
// messages opened by one command type.
type AnswerLatency struct {
	Samples int64
	Min     time.Duration
	Mean    time.Duration
	Max     time.Duration
}

// AnswerStats aggregates answer round-trip times, bucketed by the command
// type that opened the exchange. Only answered messages contribute; an
// expired or failed message has no round trip to measure.
type AnswerStats struct {
	mu      sync.RWMutex
	buckets map[string]*answerBucket
}

type answerBucket struct {
	samples int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
}

// NewAnswerStats returns an empty aggregate.
func NewAnswerStats() *AnswerStats {
	return &AnswerStats{buckets: make(map[string]*answerBucket)}
}

// Observe folds an answered message into the bucket of its first command.
// Unanswered messages are ignored.
func (s *AnswerStats) Observe(m *Message) {
	if m == nil || len(m.Commands) == 0 || m.State() != MessageAnswered {
		return
	}
	latency := m.AnsweredAt().Sub(m.Started)
	name := commandName(m.Commands[0])

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = &answerBucket{}
		s.buckets[name] = b
	}
	b.samples++
	b.total += latency
	if b.min == 0 || latency < b.min {
		b.min = latency
	}
	if latency > b.max {
		b.max = latency
	}
}

// Snapshot returns a copy of every bucket.
func (s *AnswerStats) Snapshot() map[string]AnswerLatency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]AnswerLatency, len(s.buckets))
	for name, b := range s.buckets {
		out[name] = AnswerLatency{
			Samples: b.samples,
			Min:     b.min,
			Mean:    time.Duration(b.total.Nanoseconds() / b.samples),
			Max:     b.max,
		}
	}
	return out
}

// Report renders the buckets for human consumption, one line per command
// type, sorted by name.
func (s *AnswerStats) Report() string {
	snapshot := s.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		lat := snapshot[name]
		fmt.Fprintf(&b, "%s: samples=%d min=%v mean=%v max=%v\n",
			name, lat.Samples, lat.Min, lat.Mean, lat.Max)
	}
	return b.String()
}

// commandName names a bucket after the command's concrete type.
func commandName(cmd device.Command) string {
	t := reflect.TypeOf(cmd)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
