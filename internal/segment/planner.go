// Package segment plans the fixed-length time slices a source video is cut into.
package segment

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultSliceLength is the target length of every slice but the last.
	DefaultSliceLength = 15 * time.Second
	// DefaultMinViable is the shortest trailing slice worth producing.
	DefaultMinViable = 100 * time.Millisecond
)

var (
	ErrInvalidSliceLength = errors.New("slice length must be positive")
	ErrInvalidDuration    = errors.New("total duration must be a finite, non-negative number")
)

// Slice is one planned [Start, End) range of the source, in seconds.
type Slice struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration is the planned length of the slice in seconds.
func (s Slice) Duration() float64 {
	return s.End - s.Start
}

// Number is the 1-based part number shown to recipients.
func (s Slice) Number() int {
	return s.Index + 1
}

// Planner turns a total duration into contiguous slices.
type Planner struct {
	SliceLength time.Duration
	MinViable   time.Duration
}

// NewPlanner returns a Planner, substituting defaults for zero values.
func NewPlanner(sliceLength, minViable time.Duration) Planner {
	if sliceLength == 0 {
		sliceLength = DefaultSliceLength
	}
	if minViable == 0 {
		minViable = DefaultMinViable
	}
	return Planner{SliceLength: sliceLength, MinViable: minViable}
}

// Plan computes the slices for a source of totalSeconds.
//
// Candidate slice count is ceil(total/slice); slice i spans
// [i*slice, min((i+1)*slice, total)) and is kept only when it is at least
// MinViable long. The result is deterministic for identical inputs.
func (p Planner) Plan(totalSeconds float64) ([]Slice, error) {
	if p.SliceLength <= 0 {
		return nil, ErrInvalidSliceLength
	}
	if math.IsNaN(totalSeconds) || math.IsInf(totalSeconds, 0) || totalSeconds < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, totalSeconds)
	}

	length := p.SliceLength.Seconds()
	minViable := p.MinViable.Seconds()
	count := int(math.Ceil(totalSeconds / length))

	slices := make([]Slice, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * length
		end := math.Min(float64(i+1)*length, totalSeconds)
		if end-start < minViable {
			continue
		}
		slices = append(slices, Slice{Index: i, Start: start, End: end})
	}
	return slices, nil
}

// Plan uses the default 15s slice and 0.1s minimum.
func Plan(totalSeconds float64) ([]Slice, error) {
	return NewPlanner(DefaultSliceLength, DefaultMinViable).Plan(totalSeconds)
}
