package benchmark

import (
	"bytes"

	"github.com/goccy/go-json"
)

// reportRow is one entry of the "benchmarks" array in the program's JSON report.
type reportRow struct {
	Name          string   `json:"name"`
	RunType       string   `json:"run_type"`
	AggregateName string   `json:"aggregate_name"`
	RealTime      *float64 `json:"real_time"`
	TimeUnit      string   `json:"time_unit"`
	ErrorOccurred bool     `json:"error_occurred"`
}

type report struct {
	Benchmarks []reportRow `json:"benchmarks"`
}

// ParseOutput extracts per-run observations from a JSON report, in the order
// they appear. Aggregate rows (mean, median, stddev, cv), errored runs and
// rows missing a name, time or unit are skipped. Empty input means no
// benchmarks ran.
func ParseOutput(data []byte) ([]Observation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, err
	}

	var obs []Observation
	for _, row := range rep.Benchmarks {
		if row.AggregateName != "" || row.RunType == "aggregate" {
			continue
		}
		if row.ErrorOccurred {
			continue
		}
		if row.Name == "" || row.RealTime == nil || row.TimeUnit == "" {
			continue
		}
		obs = append(obs, Observation{
			Case:  row.Name,
			Value: *row.RealTime,
			Unit:  row.TimeUnit,
		})
	}
	return obs, nil
}
