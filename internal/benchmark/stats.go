package benchmark

import (
	"math"
	"sort"
)

// tCritical95 holds two-tailed Student-t critical values at 95% confidence,
// indexed by degrees of freedom. Index 0 is unused.
var tCritical95 = [...]float64{
	0,
	12.706, 4.303, 3.182, 2.776, 2.571,
	2.447, 2.365, 2.306, 2.262, 2.228,
	2.201, 2.179, 2.160, 2.145, 2.131,
	2.120, 2.110, 2.101, 2.093, 2.086,
	2.080, 2.074, 2.069, 2.064, 2.060,
	2.056, 2.052, 2.048, 2.045, 2.042,
}

// zCritical95 is the normal approximation used above maxTableSamples.
const zCritical95 = 1.96

const maxTableSamples = 30

// TCritical95 returns the table value for df in 1..30, ok=false otherwise.
func TCritical95(df int) (float64, bool) {
	if df < 1 || df >= len(tCritical95) {
		return 0, false
	}
	return tCritical95[df], true
}

// CriticalValue returns the 95% two-sided critical value used for n samples.
// Up to 30 samples the t-table at df=n-1 applies; above that the fixed
// z value 1.96 is used. Callers must pass n >= 2.
func CriticalValue(n int) float64 {
	if n > maxTableSamples {
		return zCritical95
	}
	if v, ok := TCritical95(n - 1); ok {
		return v
	}
	return math.Inf(1)
}

// Classify computes the statistics for a sample series and decides whether
// the case is stable under params. It never fails; short series are simply
// reported unstable with an infinite relative half-width.
func Classify(samples []float64, params Params) CaseStats {
	n := len(samples)
	st := CaseStats{Count: n, RelCI95Half: math.Inf(1)}
	if n == 0 {
		return st
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	st.Mean = sum / float64(n)
	if n < 2 {
		return st
	}

	var sq float64
	for _, v := range samples {
		d := v - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(n-1))

	se := st.StdDev / math.Sqrt(float64(n))
	half := CriticalValue(n) * se
	if st.Mean > 0 {
		st.RelCI95Half = half / st.Mean
	}

	st.Stable = n >= params.MinMetaReps && st.RelCI95Half <= params.RelCIThreshold
	return st
}

// Evaluate classifies every case in the store. The unstable ids are sorted.
func Evaluate(store *SampleStore, params Params) (map[string]CaseStats, []string) {
	ids := store.CaseIDs()
	stats := make(map[string]CaseStats, len(ids))
	var unstable []string
	for _, id := range ids {
		st := Classify(store.Series(id), params)
		stats[id] = st
		if !st.Stable {
			unstable = append(unstable, id)
		}
	}
	return stats, unstable
}

// Summary condenses an evaluation for progress reporting.
type Summary struct {
	Cases   int
	Stable  int
	Pending int

	// Worst is the case with the largest finite relative half-width.
	Worst      string
	WorstRelCI float64
	HasWorst   bool
}

// Summarize counts stable and pending cases and finds the noisiest one.
func Summarize(stats map[string]CaseStats) Summary {
	s := Summary{Cases: len(stats)}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := stats[name]
		if st.Stable {
			s.Stable++
		} else {
			s.Pending++
		}
		if st.Count < 2 || math.IsInf(st.RelCI95Half, 0) || math.IsNaN(st.RelCI95Half) {
			continue
		}
		if !s.HasWorst || st.RelCI95Half > s.WorstRelCI {
			s.Worst = name
			s.WorstRelCI = st.RelCI95Half
			s.HasWorst = true
		}
	}
	return s
}
