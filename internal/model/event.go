package model

// DefaultEventWeight is applied when the event source supplies no weight.
const DefaultEventWeight = 1.0

// RawEvent is an event as supplied by the event source, in geographic
// coordinates (degrees). A nil Weight means none was supplied; an explicit
// zero keeps the event but removes its contribution to density.
type RawEvent struct {
	Lon    float64  `json:"lon"`
	Lat    float64  `json:"lat"`
	Weight *float64 `json:"weight,omitempty"`
}

// Weight returns a pointer to w, for building RawEvent literals.
func Weight(w float64) *float64 { return &w }

// Event is a normalized event in planar coordinates. Events are created once
// by the normalizer and never mutated.
type Event struct {
	Position Point2D `json:"position"`
	Weight   float64 `json:"weight"`
}

// Positions returns the planar positions of events, in order.
func Positions(events []Event) []Point2D {
	pts := make([]Point2D, len(events))
	for i, e := range events {
		pts[i] = e.Position
	}
	return pts
}
