// Package nmea turns NMEA 0183 sentences from a GPS receiver into radar
// fixes. RMC sentences carry position, time and validity; the GGA sentence of
// the same epoch adds altitude and a horizontal accuracy estimate.
package nmea

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/radar"
)

// HDOPScale converts a GGA horizontal dilution of precision into an accuracy
// in metres.
const HDOPScale = 5.0

var (
	// ErrNoFix is returned for a well-formed sentence reporting no valid fix.
	ErrNoFix = errors.New("nmea: receiver reports no fix")
	// ErrUnsupported is returned for sentence types that carry no position.
	ErrUnsupported = errors.New("nmea: unsupported sentence")
)

// Stats counts what the decoder has seen.
type Stats struct {
	Sentences int
	Fixes     int
	Invalid   int
	Skipped   int
}

type epoch struct {
	tod      gonmea.Time
	altitude float64
	hdop     float64
	valid    bool
}

// Decoder is safe for concurrent use.
type Decoder struct {
	mu    sync.Mutex
	gga   epoch
	stats Stats
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Stats returns a copy of the counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Decode parses one sentence. It returns a fix only for a valid RMC sentence;
// GGA sentences are remembered for the next RMC of the same epoch. Garbled
// sentences and sentences reporting no fix are counted as invalid.
func (d *Decoder) Decode(line string) (radar.Fix, error) {
	line = strings.TrimSpace(line)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Sentences++

	s, err := gonmea.Parse(line)
	if err != nil {
		d.stats.Invalid++
		return radar.Fix{}, fmt.Errorf("nmea: %w", err)
	}

	switch m := s.(type) {
	case gonmea.GGA:
		if m.FixQuality == gonmea.Invalid {
			d.gga = epoch{}
			d.stats.Invalid++
			return radar.Fix{}, ErrNoFix
		}
		d.gga = epoch{tod: m.Time, altitude: m.Altitude, hdop: m.HDOP, valid: true}
		return radar.Fix{}, ErrUnsupported
	case gonmea.RMC:
		if m.Validity != gonmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
			d.stats.Invalid++
			return radar.Fix{}, ErrNoFix
		}
		fix := radar.Fix{
			Position: geo.Point{Lat: m.Latitude, Lon: m.Longitude},
			Time:     stamp(m.Date, m.Time),
		}
		if !fix.Position.Valid() {
			d.stats.Invalid++
			return radar.Fix{}, fmt.Errorf("%w: position %v", radar.ErrInvalidFix, fix.Position)
		}
		if d.gga.valid && d.gga.tod == m.Time {
			alt := d.gga.altitude
			fix.Altitude = &alt
			if d.gga.hdop > 0 {
				acc := d.gga.hdop * HDOPScale
				fix.Accuracy = &acc
			}
		}
		d.stats.Fixes++
		return fix, nil
	default:
		d.stats.Skipped++
		return radar.Fix{}, ErrUnsupported
	}
}

func stamp(date gonmea.Date, tod gonmea.Time) time.Time {
	return time.Date(2000+date.YY, time.Month(date.MM), date.DD,
		tod.Hour, tod.Minute, tod.Second, tod.Millisecond*int(time.Millisecond), time.UTC)
}

// Sink receives decoded fixes.
type Sink interface {
	UpdateLocation(fix radar.Fix) error
}

// Feed decodes each line and forwards fixes to sink until lines is closed.
// Decode errors other than unsupported sentences are logged.
func (d *Decoder) Feed(lines <-chan string, sink Sink) {
	for line := range lines {
		fix, err := d.Decode(line)
		switch {
		case err == nil:
			if err := sink.UpdateLocation(fix); err != nil {
				monitoring.Logf("nmea: fix not applied: %v", err)
			}
		case errors.Is(err, ErrUnsupported), errors.Is(err, ErrNoFix):
		default:
			monitoring.Logf("nmea: %v", err)
		}
	}
}
