// Package filter smooths the raw location stream with a constant-velocity
// Kalman filter run independently on the north and east axes of a local
// metric frame anchored at the first fix.
package filter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/route.radar/internal/geo"
)

const (
	// MinDeterminantThreshold is the smallest innovation covariance
	// determinant accepted for inversion.
	MinDeterminantThreshold = 1e-6

	DefaultAccuracy      = 10.0 // metres, used when a fix carries none
	DefaultAccelVariance = 1.0  // (m/s^2)^2
	DefaultMaxPredictDT  = 30 * time.Second

	initialVelocityVariance = 100.0 // (m/s)^2
)

// ErrSingular is returned when a correction is skipped because the
// innovation covariance cannot be inverted.
var ErrSingular = errors.New("filter: singular innovation covariance")

// Config tunes the filter. Zero fields take their defaults.
type Config struct {
	AccelVariance   float64
	MaxPredictDT    time.Duration
	DefaultAccuracy float64
}

func (c Config) withDefaults() Config {
	if c.AccelVariance <= 0 {
		c.AccelVariance = DefaultAccelVariance
	}
	if c.MaxPredictDT <= 0 {
		c.MaxPredictDT = DefaultMaxPredictDT
	}
	if c.DefaultAccuracy <= 0 {
		c.DefaultAccuracy = DefaultAccuracy
	}
	return c
}

// axis is a one-dimensional [position, velocity] filter.
type axis struct {
	x *mat.VecDense
	p *mat.Dense
}

var observe = mat.NewDense(1, 2, []float64{1, 0})

func newAxis(pos, r float64) axis {
	return axis{
		x: mat.NewVecDense(2, []float64{pos, 0}),
		p: mat.NewDense(2, 2, []float64{r, 0, 0, initialVelocityVariance}),
	}
}

// predict advances the state by dt seconds: x = F x, P = F P F' + Q.
func (a *axis) predict(dt, accelVar float64) {
	f := mat.NewDense(2, 2, []float64{1, dt, 0, 1})

	var x mat.VecDense
	x.MulVec(f, a.x)
	a.x = &x

	dt2 := dt * dt
	q := mat.NewDense(2, 2, []float64{
		dt2 * dt2 / 4, dt2 * dt / 2,
		dt2 * dt / 2, dt2,
	})
	q.Scale(accelVar, q)

	var fp, p mat.Dense
	fp.Mul(f, a.p)
	p.Mul(&fp, f.T())
	p.Add(&p, q)
	a.p = &p
}

// correct folds in measurement z with variance r.
func (a *axis) correct(z, r float64) error {
	// S = H P H' + R
	var hp, s mat.Dense
	hp.Mul(observe, a.p)
	s.Mul(&hp, observe.T())
	s.Set(0, 0, s.At(0, 0)+r)

	if det := mat.Det(&s); math.Abs(det) < MinDeterminantThreshold || math.IsNaN(det) {
		return ErrSingular
	}
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("%w: %v", ErrSingular, err)
	}

	// K = P H' S^-1
	var pht, k mat.Dense
	pht.Mul(a.p, observe.T())
	k.Mul(&pht, &sInv)

	var hx mat.VecDense
	hx.MulVec(observe, a.x)
	innovation := z - hx.AtVec(0)

	var step mat.VecDense
	step.ScaleVec(innovation, k.ColView(0))
	a.x.AddVec(a.x, &step)

	// P = (I - K H) P
	var kh, ikh, p mat.Dense
	kh.Mul(&k, observe)
	ikh.Sub(identity2(), &kh)
	p.Mul(&ikh, a.p)
	a.p = &p
	return nil
}

func identity2() *mat.Dense {
	return mat.NewDense(2, 2, []float64{1, 0, 0, 1})
}

func (a *axis) finite() bool {
	for i := 0; i < 2; i++ {
		if v := a.x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v := a.p.At(i, i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Kalman is the smoothing filter for one ride. It is not safe for
// concurrent use.
type Kalman struct {
	cfg Config

	origin      geo.Point
	cosLat      float64
	north, east axis
	last        time.Time
	initialised bool
}

// New returns a filter that initialises itself on the first update.
func New(cfg Config) *Kalman {
	return &Kalman{cfg: cfg.withDefaults()}
}

// Reset drops all state; the next update reinitialises the filter.
func (k *Kalman) Reset() {
	*k = Kalman{cfg: k.cfg}
}

// Initialised reports whether the filter has seen a fix.
func (k *Kalman) Initialised() bool { return k.initialised }

const metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180

func (k *Kalman) toLocal(p geo.Point) (north, east float64) {
	dLon := p.Lon - k.origin.Lon
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	return (p.Lat - k.origin.Lat) * metersPerDegree, dLon * metersPerDegree * k.cosLat
}

func (k *Kalman) toGeo(north, east float64) geo.Point {
	lon := k.origin.Lon + east/(metersPerDegree*k.cosLat)
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return geo.Point{Lat: k.origin.Lat + north/metersPerDegree, Lon: lon}
}

// Update predicts forward to t and corrects with the measured position p.
// accuracy is the 1-sigma horizontal error in metres; a negative or NaN
// value means unknown. When the correction is skipped the returned error
// wraps ErrSingular and the predicted state stands.
func (k *Kalman) Update(p geo.Point, accuracy float64, t time.Time) (geo.Point, error) {
	if math.IsNaN(accuracy) || accuracy < 0 {
		accuracy = k.cfg.DefaultAccuracy
	}
	r := accuracy * accuracy

	if !k.initialised {
		k.origin = p
		k.cosLat = math.Max(math.Cos(p.Lat*math.Pi/180), 1e-6)
		k.north = newAxis(0, math.Max(r, 1))
		k.east = newAxis(0, math.Max(r, 1))
		k.last = t
		k.initialised = true
		return p, nil
	}

	dt := t.Sub(k.last)
	if dt > k.cfg.MaxPredictDT {
		dt = k.cfg.MaxPredictDT
	}
	if dt > 0 {
		k.north.predict(dt.Seconds(), k.cfg.AccelVariance)
		k.east.predict(dt.Seconds(), k.cfg.AccelVariance)
	}
	if t.After(k.last) {
		k.last = t
	}

	n, e := k.toLocal(p)
	errN := k.north.correct(n, r)
	errE := k.east.correct(e, r)

	if !k.north.finite() || !k.east.finite() {
		k.Reset()
		return p, fmt.Errorf("%w: state diverged, filter reset", ErrSingular)
	}
	if err := errors.Join(errN, errE); err != nil {
		return k.Position(), err
	}
	return k.Position(), nil
}

// Position returns the current position estimate.
func (k *Kalman) Position() geo.Point {
	if !k.initialised {
		return geo.Point{}
	}
	return k.toGeo(k.north.x.AtVec(0), k.east.x.AtVec(0))
}

// Velocity returns the estimated north and east velocity in m/s.
func (k *Kalman) Velocity() (north, east float64) {
	if !k.initialised {
		return 0, 0
	}
	return k.north.x.AtVec(1), k.east.x.AtVec(1)
}

// Speed returns the estimated ground speed in m/s.
func (k *Kalman) Speed() float64 {
	n, e := k.Velocity()
	return math.Hypot(n, e)
}

// Heading returns the bearing of the velocity estimate in [0, 360).
func (k *Kalman) Heading() float64 {
	n, e := k.Velocity()
	if n == 0 && e == 0 {
		return 0
	}
	return geo.NormalizeBearing(math.Atan2(e, n) * 180 / math.Pi)
}

// PositionVariance returns the position variance on each axis in m^2.
func (k *Kalman) PositionVariance() (north, east float64) {
	if !k.initialised {
		return math.Inf(1), math.Inf(1)
	}
	return k.north.p.At(0, 0), k.east.p.At(0, 0)
}
