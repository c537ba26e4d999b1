package benchmark

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// timeUnitToNs maps the time units reported by the measurement program to
// nanosecond multipliers.
var timeUnitToNs = map[string]float64{
	"ns": 1,
	"us": 1e3,
	"ms": 1e6,
	"s":  1e9,

	"nanosecond":   1,
	"nanoseconds":  1,
	"microsecond":  1e3,
	"microseconds": 1e3,
	"millisecond":  1e6,
	"milliseconds": 1e6,
	"second":       1e9,
	"seconds":      1e9,
}

var errFrozen = errors.New("sample store is frozen")

// NormalizeToNs converts value from unit to nanoseconds.
func NormalizeToNs(value float64, unit string) (float64, error) {
	factor, ok := timeUnitToNs[strings.ToLower(unit)]
	if !ok {
		return 0, &UnitError{Unit: unit}
	}
	return value * factor, nil
}

// SampleStore accumulates per-case timing samples in nanoseconds.
// Samples are only ever appended. It is not safe for concurrent use;
// the controller is its only writer.
type SampleStore struct {
	series map[string][]float64
	frozen bool
}

// NewSampleStore returns an empty store.
func NewSampleStore() *SampleStore {
	return &SampleStore{series: make(map[string][]float64)}
}

// Record normalizes value to nanoseconds and appends it to the case's series.
func (s *SampleStore) Record(caseID string, value float64, unit string) error {
	ns, err := normalizeSample(caseID, value, unit)
	if err != nil {
		return err
	}
	if s.frozen {
		return errFrozen
	}
	s.series[caseID] = append(s.series[caseID], ns)
	return nil
}

// Merge records a whole batch. Every observation is converted before any is
// appended, so a bad unit leaves the store untouched. It returns the number
// of samples added.
func (s *SampleStore) Merge(batch []Observation) (int, error) {
	if s.frozen {
		return 0, errFrozen
	}
	converted := make([]float64, len(batch))
	for i, o := range batch {
		ns, err := normalizeSample(o.Case, o.Value, o.Unit)
		if err != nil {
			return 0, err
		}
		converted[i] = ns
	}
	for i, o := range batch {
		s.series[o.Case] = append(s.series[o.Case], converted[i])
	}
	return len(batch), nil
}

func normalizeSample(caseID string, value float64, unit string) (float64, error) {
	ns, err := NormalizeToNs(value, unit)
	if err != nil {
		var ue *UnitError
		if errors.As(err, &ue) {
			ue.Case = caseID
		}
		return 0, err
	}
	if math.IsNaN(ns) || math.IsInf(ns, 0) || ns < 0 {
		return 0, fmt.Errorf("%w: %v %s for case %q", ErrInvalidSample, value, unit, caseID)
	}
	return ns, nil
}

// Series returns a copy of the samples recorded for caseID, oldest first.
func (s *SampleStore) Series(caseID string) []float64 {
	src := s.series[caseID]
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// Count returns the number of samples recorded for caseID.
func (s *SampleStore) Count(caseID string) int {
	return len(s.series[caseID])
}

// CaseIDs returns every case with at least one sample, sorted.
func (s *SampleStore) CaseIDs() []string {
	ids := make([]string, 0, len(s.series))
	for id, v := range s.series {
		if len(v) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known cases.
func (s *SampleStore) Len() int {
	return len(s.series)
}

// Total returns the number of samples across all cases.
func (s *SampleStore) Total() int {
	n := 0
	for _, v := range s.series {
		n += len(v)
	}
	return n
}

// MaxCount returns the largest per-case sample count.
func (s *SampleStore) MaxCount() int {
	m := 0
	for _, v := range s.series {
		if len(v) > m {
			m = len(v)
		}
	}
	return m
}

// Freeze returns an immutable deep copy of the store.
func (s *SampleStore) Freeze() *SampleStore {
	cp := &SampleStore{
		series: make(map[string][]float64, len(s.series)),
		frozen: true,
	}
	for id, v := range s.series {
		cp.series[id] = append([]float64(nil), v...)
	}
	return cp
}

// Frozen reports whether the store rejects writes.
func (s *SampleStore) Frozen() bool {
	return s.frozen
}
