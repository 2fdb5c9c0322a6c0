// Package meter turns a recorder's average power into a UI input level.
package meter

import "math"

const (
	// Offset lifts dBFS readings so silence lands near zero.
	Offset = 60.0
	// Floor is the lowest level ever reported, including when nothing is
	// recording.
	Floor = 10.0
)

// PowerSource reports a running average power in dBFS.
type PowerSource interface {
	AveragePower() float64
}

// Level maps a raw average power reading onto the metering scale.
func Level(rawDB float64) float64 {
	return math.Max(rawDB+Offset, Floor)
}

// Read samples src, returning Floor when there is no source.
func Read(src PowerSource) float64 {
	if src == nil {
		return Floor
	}
	return Level(src.AveragePower())
}
