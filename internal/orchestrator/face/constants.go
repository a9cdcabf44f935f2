// Package face turns per-capture face detections into a latched video verdict.
package face

// Face processing constants
const (
	// Mask pixels at or above this level count toward the contour ratio
	BinarizationLevel = 128

	// Maximum pHash Hamming distance for two captures of a display to be
	// treated as the same frame
	MaxHashDistance = 4

	// Columns of the preview grid
	GridColumns = 2

	// Grid cell edge in pixels when none is given
	DefaultCellSize = 160
)
