package benchmark

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// SnapshotVersion is the schema version written to every snapshot.
const SnapshotVersion = 1

// Snapshot is the full best-knowledge summary rewritten after every iteration.
type Snapshot struct {
	Version int                     `json:"version"`
	Params  Params                  `json:"params"`
	Cases   map[string]CaseSnapshot `json:"cases"`
}

// CaseSnapshot is the per-case entry of a Snapshot.
type CaseSnapshot struct {
	Count       int       `json:"count"`
	MeanNs      float64   `json:"mean_ns"`
	StdDevNs    float64   `json:"stddev_ns"`
	RelCI95Half JSONFloat `json:"rel_ci95_half"`
	Stable      bool      `json:"stable"`
}

// JSONFloat encodes non-finite values as null, since JSON has no infinity.
// null decodes back to +Inf.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = JSONFloat(math.Inf(1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}

// NewSnapshot builds a snapshot from evaluated stats.
func NewSnapshot(params Params, stats map[string]CaseStats) Snapshot {
	cases := make(map[string]CaseSnapshot, len(stats))
	for id, st := range stats {
		cases[id] = CaseSnapshot{
			Count:       st.Count,
			MeanNs:      st.Mean,
			StdDevNs:    st.StdDev,
			RelCI95Half: JSONFloat(st.RelCI95Half),
			Stable:      st.Stable,
		}
	}
	return Snapshot{
		Version: SnapshotVersion,
		Params:  params,
		Cases:   cases,
	}
}

// SnapshotWriter persists snapshots. Every call replaces the previous one.
type SnapshotWriter interface {
	WriteSnapshot(snap Snapshot) error
}

// FileSnapshotWriter writes snapshots to a JSON file with an atomic rename.
type FileSnapshotWriter struct {
	path string
}

func NewFileSnapshotWriter(path string) (*FileSnapshotWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &FileSnapshotWriter{path: path}, nil
}

// Path returns the snapshot file location.
func (w *FileSnapshotWriter) Path() string {
	return w.path
}

func (w *FileSnapshotWriter) WriteSnapshot(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := WriteFileAtomic(w.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write snapshot to %s: %w", w.path, err)
	}
	return nil
}

// ReadSnapshot loads a snapshot written by FileSnapshotWriter.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", path, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d in %s", snap.Version, path)
	}
	return &snap, nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
