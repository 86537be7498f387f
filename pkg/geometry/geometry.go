package geometry

import (
	"math"
)

const (
	// EarthRadiusKm is the sphere radius used for every surface calculation.
	EarthRadiusKm = 6371.0

	// pointEpsilon is the tolerance, in degrees, under which two points are the same point.
	pointEpsilon = 1e-9
)

// GeoPoint is a coordinate pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position is the part of a plane's state needed to dead reckon it forward in time.
// Timestamp is in milliseconds of synchronized time.
type Position struct {
	Coordinates GeoPoint `json:"coordinates"`
	Bearing     float64  `json:"bearing"`
	Velocity    float64  `json:"velocity"`
	Timestamp   int64    `json:"timestamp"`
}

// Vec3 is a point in earth-centred cartesian space.
type Vec3 struct {
	X, Y, Z float64
}

// --- Normalisation Helpers ---

func ClampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// NormalizeLon wraps a longitude into (-180, 180].
func NormalizeLon(lon float64) float64 {
	if lon > -180 && lon <= 180 {
		return lon
	}
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	l -= 180
	if l == -180 {
		return 180
	}
	return l
}

// NormalizeBearing wraps a bearing into [0, 360).
func NormalizeBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	if b >= 360 {
		return 0
	}
	return b
}

// signedAngle wraps an angle into (-180, 180].
func signedAngle(a float64) float64 {
	a = NormalizeBearing(a)
	if a > 180 {
		a -= 360
	}
	return a
}

func (p GeoPoint) Normalize() GeoPoint {
	return GeoPoint{Lat: ClampLat(p.Lat), Lon: NormalizeLon(p.Lon)}
}

func (p GeoPoint) almostEqual(o GeoPoint) bool {
	dLon := signedAngle(p.Lon - o.Lon)
	return math.Abs(p.Lat-o.Lat) < pointEpsilon && math.Abs(dLon) < pointEpsilon
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// --- Geometry Helpers ---

// centralAngle returns the haversine angle in radians between two points.
func centralAngle(p1, p2 GeoPoint) float64 {
	r1, r2 := toRad(p1.Lat), toRad(p2.Lat)

	dLat := toRad(p2.Lat - p1.Lat)
	dLon := toRad(p2.Lon - p1.Lon)

	// --- handle dateline crossing ---
	for dLon > math.Pi {
		dLon -= 2 * math.Pi
	}
	for dLon < -math.Pi {
		dLon += 2 * math.Pi
	}

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(r1)*math.Cos(r2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	// floating point can push a just outside [0,1] for near antipodal points
	a = clamp(a, 0, 1)

	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the great-circle distance in km.
func Distance(p1, p2 GeoPoint) float64 {
	return EarthRadiusKm * centralAngle(p1, p2)
}

// BearingBetween returns the forward azimuth from p1 to p2 in [0, 360).
func BearingBetween(p1, p2 GeoPoint) float64 {
	f1, f2 := toRad(p1.Lat), toRad(p2.Lat)
	dLon := toRad(p2.Lon - p1.Lon)

	y := math.Sin(dLon) * math.Cos(f2)
	x := math.Cos(f1)*math.Sin(f2) - math.Sin(f1)*math.Cos(f2)*math.Cos(dLon)

	return NormalizeBearing(toDeg(math.Atan2(y, x)))
}

// BearingDisplacement is how far a heading that left start pointing straight at end
// has to rotate to keep pointing along the great circle once it arrives at end.
func BearingDisplacement(start, end GeoPoint) float64 {
	if start.almostEqual(end) {
		return 0
	}
	initial := BearingBetween(start, end)
	final := NormalizeBearing(BearingBetween(end, start) + 180)
	return signedAngle(final - initial)
}

// Destination travels distance along bearing on a sphere of the given radius.
// distance and radius share a unit.
func Destination(start GeoPoint, bearing, distance, radius float64) GeoPoint {
	delta := distance / radius
	theta := toRad(bearing)
	f1, l1 := toRad(start.Lat), toRad(start.Lon)

	sinF2 := math.Sin(f1)*math.Cos(delta) + math.Cos(f1)*math.Sin(delta)*math.Cos(theta)
	f2 := math.Asin(clamp(sinF2, -1, 1))

	y := math.Sin(theta) * math.Sin(delta) * math.Cos(f1)
	x := math.Cos(delta) - math.Sin(f1)*math.Sin(f2)
	l2 := l1 + math.Atan2(y, x)

	return GeoPoint{Lat: toDeg(f2), Lon: toDeg(l2)}.Normalize()
}

// Advance dead reckons pos forward to target. The plane flies
// velocity/3600*scale*dt km along its bearing at radius+altitude and comes out
// with the bearing corrected for the curvature it travelled over.
// A target at or before pos.Timestamp leaves pos untouched.
func Advance(pos Position, altitude, radius, scale float64, target int64) Position {
	dt := target - pos.Timestamp
	if dt <= 0 {
		return pos
	}

	next := pos
	next.Timestamp = target
	if pos.Velocity == 0 {
		return next
	}

	d := pos.Velocity / 3600 * scale * float64(dt)
	next.Coordinates = Destination(pos.Coordinates, pos.Bearing, d, radius+altitude)
	next.Bearing = NormalizeBearing(pos.Bearing + BearingDisplacement(pos.Coordinates, next.Coordinates))

	return next
}

// --- Cartesian Transforms ---

func ToCartesian(p GeoPoint, radius float64) Vec3 {
	f, l := toRad(p.Lat), toRad(p.Lon)
	return Vec3{
		X: radius * math.Cos(f) * math.Cos(l),
		Y: radius * math.Cos(f) * math.Sin(l),
		Z: radius * math.Sin(f),
	}
}

// FromCartesian is the inverse of ToCartesian. Longitude is undefined on the
// polar axis and comes back as 0 there.
func FromCartesian(v Vec3) GeoPoint {
	r := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	if r == 0 {
		return GeoPoint{}
	}
	lat := toDeg(math.Asin(clamp(v.Z/r, -1, 1)))
	lon := toDeg(math.Atan2(v.Y, v.X))
	return GeoPoint{Lat: lat, Lon: lon}.Normalize()
}
