package models

import (
	"bytes"
	"math"
	"strconv"
	"time"
)

// NullFloat is a nullable float64 decoded from archive CSV, where missing
// values are written as an empty field, "null" or "\N".
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// NewNullFloat returns a valid NullFloat.
func NewNullFloat(f float64) NullFloat {
	return NullFloat{Float64: f, Valid: !math.IsNaN(f) && !math.IsInf(f, 0)}
}

// UnmarshalCSV implements csvutil.Unmarshaler. Unparseable values become null.
func (n *NullFloat) UnmarshalCSV(data []byte) error {
	*n = parseNullFloat(data)
	return nil
}

// MarshalCSV implements csvutil.Marshaler.
func (n NullFloat) MarshalCSV() ([]byte, error) {
	if !n.Valid {
		return nil, nil
	}
	return strconv.AppendFloat(nil, n.Float64, 'g', -1, 64), nil
}

// Value converts n to a tagged Value.
func (n NullFloat) Value() Value {
	return NumberOrNull(n.Float64, n.Valid)
}

// SQL returns the bound store value.
func (n NullFloat) SQL() interface{} {
	if !n.Valid {
		return nil
	}
	return n.Float64
}

// NullFloatFromValue converts a tagged Value to a NullFloat.
func NullFloatFromValue(v Value) NullFloat {
	f, ok := v.Float()
	if !ok {
		return NullFloat{}
	}
	return NewNullFloat(f)
}

func parseNullFloat(data []byte) NullFloat {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.EqualFold(data, []byte("null")) || bytes.Equal(data, []byte(`\N`)) {
		return NullFloat{}
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return NullFloat{}
	}
	return NewNullFloat(f)
}

// CrossmatchRecord associates a catalog source with a secondary survey object.
type CrossmatchRecord struct {
	SourceID        string
	Designation     string
	AngularDistance NullFloat
}

// PhotometryRecord holds secondary survey magnitudes keyed by the catalog source_id.
type PhotometryRecord struct {
	SourceID string
	J        NullFloat
	H        NullFloat
	K        NullFloat
}

// FileStatus is the lifecycle state of a tracked source file.
type FileStatus string

const (
	// FileStatusPending files have not been processed yet
	FileStatusPending FileStatus = "pending"
	// FileStatusCompleted files were parsed and inserted
	FileStatusCompleted FileStatus = "completed"
	// FileStatusFailed files hit an unrecoverable error and are retried next run
	FileStatusFailed FileStatus = "failed"
)

// FileTrackingEntry is one row of a per-dataset tracking table.
type FileTrackingEntry struct {
	URL       string     `csv:"url" json:"url"`
	Status    FileStatus `csv:"status" json:"status"`
	Attempts  int        `csv:"attempts" json:"attempts"`
	LastError string     `csv:"last_error,omitempty" json:"last_error,omitempty"`
	UpdatedAt time.Time  `csv:"updated_at" json:"updated_at"`
}

// TrackingProgress aggregates a tracking table.
type TrackingProgress struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Total     int64 `json:"total"`
}

// Remaining returns the files still eligible for processing.
func (p TrackingProgress) Remaining() int64 {
	return p.Failed + p.Pending
}

// Percent returns the completed share of the table.
func (p TrackingProgress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}
