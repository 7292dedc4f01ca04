// Package geo provides the spherical geometry used to compare a receiver
// position against a planned route. All angles are in degrees and all
// distances in metres on a sphere of radius EarthRadiusMeters.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const (
	EarthRadiusMeters = 6371000.0 // mean earth radius

	// parallelEpsilon is the largest sine of the angle between two arc
	// normals for which the arcs are treated as lying on one great circle.
	parallelEpsilon = 1e-9
	// onArcEpsilon is the angular tolerance (radians, roughly 6 mm) for a
	// point to count as lying on an arc.
	onArcEpsilon = 1e-9
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// Valid reports whether p holds finite, in-range coordinates.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// S2 returns p as a unit vector.
func (p Point) S2() s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
}

// FromS2 converts a unit vector back to degrees.
func FromS2(v s2.Point) Point {
	ll := s2.LatLngFromPoint(v)
	return Point{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
}

// Less orders points by latitude, then longitude.
func Less(a, b Point) bool {
	if a.Lat != b.Lat {
		return a.Lat < b.Lat
	}
	return a.Lon < b.Lon
}

// AngleToMeters converts an angle at the earth centre to a surface distance.
func AngleToMeters(a s1.Angle) float64 {
	return a.Radians() * EarthRadiusMeters
}

// MetersToAngle converts a surface distance to an angle at the earth centre.
func MetersToAngle(m float64) s1.Angle {
	return s1.Angle(m / EarthRadiusMeters)
}

// Distance returns the great-circle distance between a and b.
func Distance(a, b Point) float64 {
	return AngleToMeters(a.S2().Distance(b.S2()))
}

// Bearing returns the initial bearing from a to b, normalised to [0, 360).
// Coincident points have bearing 0.
func Bearing(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	if y == 0 && x == 0 {
		return 0
	}
	return NormalizeBearing(math.Atan2(y, x) * 180 / math.Pi)
}

// NormalizeBearing maps any angle in degrees onto [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// TurnAngle returns the signed change from bearing in to bearing out, in
// (-180, 180]. Positive values turn right (clockwise).
func TurnAngle(in, out float64) float64 {
	d := math.Mod(out-in, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// normal returns the unit normal of the great circle through a and b, or
// false when the two points do not define a unique circle.
func normal(a, b s2.Point) (r3.Vector, bool) {
	n := a.Cross(b.Vector)
	norm := n.Norm()
	if norm < 1e-15 {
		return r3.Vector{}, false
	}
	return n.Mul(1 / norm), true
}

// SignedDistance returns the distance from p to the great circle through a
// and b. The result is positive when p lies clockwise of (to the right of)
// the direction of travel from a to b, and zero when a and b are coincident
// or antipodal.
func SignedDistance(p, a, b Point) float64 {
	n, ok := normal(a.S2(), b.S2())
	if !ok {
		return 0
	}
	s := p.S2().Dot(n)
	s = math.Max(-1, math.Min(1, s))
	return -math.Asin(s) * EarthRadiusMeters
}

// DistanceToArc returns the unsigned distance from p to the full great
// circle through a and b.
func DistanceToArc(p, a, b Point) float64 {
	return math.Abs(SignedDistance(p, a, b))
}

// canonical orders an arc's endpoints so that symmetric queries run the same
// arithmetic regardless of argument order.
func canonical(a, b Point) (Point, Point) {
	if Less(b, a) {
		return b, a
	}
	return a, b
}

// DistanceToArcSegment returns the distance from p to the finite arc a-b.
// A zero-length arc degrades to the point distance.
func DistanceToArcSegment(p, a, b Point) float64 {
	a, b = canonical(a, b)
	if a == b {
		return Distance(p, a)
	}
	return AngleToMeters(s2.DistanceFromSegment(p.S2(), a.S2(), b.S2()))
}

// Project returns the point on the finite arc a-b closest to p.
func Project(p, a, b Point) Point {
	a, b = canonical(a, b)
	if a == b {
		return a
	}
	return FromS2(s2.Project(p.S2(), a.S2(), b.S2()))
}

// ArcSegmentIntersection returns the points shared by the finite arcs a1-b1
// and a2-b2: none, one crossing or shared endpoint, or the two ends of a
// collinear overlap. The result does not depend on argument order.
func ArcSegmentIntersection(a1, b1, a2, b2 Point) []Point {
	a1, b1 = canonical(a1, b1)
	a2, b2 = canonical(a2, b2)
	if Less(a2, a1) || (a2 == a1 && Less(b2, b1)) {
		a1, b1, a2, b2 = a2, b2, a1, b1
	}

	switch {
	case a1 == b1 && a2 == b2:
		if a1 == a2 {
			return []Point{a1}
		}
		return nil
	case a1 == b1:
		if onArc(a1.S2(), a2.S2(), b2.S2()) {
			return []Point{a1}
		}
		return nil
	case a2 == b2:
		if onArc(a2.S2(), a1.S2(), b1.S2()) {
			return []Point{a2}
		}
		return nil
	}

	pa1, pb1, pa2, pb2 := a1.S2(), b1.S2(), a2.S2(), b2.S2()
	n1, ok1 := normal(pa1, pb1)
	n2, ok2 := normal(pa2, pb2)
	if !ok1 || !ok2 {
		return nil
	}

	if n1.Cross(n2).Norm() < parallelEpsilon {
		var out []Point
		add := func(p Point) {
			for _, q := range out {
				if q == p {
					return
				}
			}
			out = append(out, p)
		}
		for _, p := range []Point{a2, b2} {
			if onArc(p.S2(), pa1, pb1) {
				add(p)
			}
		}
		for _, p := range []Point{a1, b1} {
			if onArc(p.S2(), pa2, pb2) {
				add(p)
			}
		}
		if len(out) > 2 {
			out = out[:2]
		}
		return out
	}

	switch s2.CrossingSign(pa1, pb1, pa2, pb2) {
	case s2.Cross:
		return []Point{FromS2(s2.Intersection(pa1, pb1, pa2, pb2))}
	case s2.MaybeCross:
		for _, p := range []Point{a1, b1} {
			if p == a2 || p == b2 {
				return []Point{p}
			}
		}
		// A vertex sits exactly on the other arc.
		for _, p := range []Point{a2, b2} {
			if onArc(p.S2(), pa1, pb1) {
				return []Point{p}
			}
		}
		for _, p := range []Point{a1, b1} {
			if onArc(p.S2(), pa2, pb2) {
				return []Point{p}
			}
		}
	}
	return nil
}

func onArc(p, a, b s2.Point) bool {
	return s2.DistanceFromSegment(p, a, b).Radians() <= onArcEpsilon
}

// Midpoint returns the point halfway along the arc from a to b. Coincident
// or antipodal inputs return a.
func Midpoint(a, b Point) Point {
	if a == b {
		return a
	}
	pa, pb := a.S2(), b.S2()
	if pa.Add(pb.Vector).Norm() < 1e-15 {
		return a
	}
	return FromS2(s2.Interpolate(0.5, pa, pb))
}

// Interpolate returns the point a fraction f of the way from a to b.
func Interpolate(a, b Point, f float64) Point {
	if a == b {
		return a
	}
	return FromS2(s2.Interpolate(f, a.S2(), b.S2()))
}

// OppositePoint returns the antipode of p.
func OppositePoint(p Point) Point {
	lon := p.Lon + 180
	if lon > 180 {
		lon -= 360
	}
	return Point{Lat: -p.Lat, Lon: lon}
}

// Destination returns the point reached by travelling dist metres from p on
// the given initial bearing.
func Destination(p Point, bearing, dist float64) Point {
	lat := p.Lat * math.Pi / 180
	lon := p.Lon * math.Pi / 180
	brg := bearing * math.Pi / 180
	d := dist / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat)*math.Cos(d) + math.Cos(lat)*math.Sin(d)*math.Cos(brg))
	lon2 := lon + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat), math.Cos(d)-math.Sin(lat)*math.Sin(lat2))

	out := Point{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
	for out.Lon > 180 {
		out.Lon -= 360
	}
	for out.Lon < -180 {
		out.Lon += 360
	}
	return out
}
