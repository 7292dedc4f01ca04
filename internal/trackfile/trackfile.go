// Package trackfile loads plan sources from GPX files and writes them back.
package trackfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
)

// ErrNoTracks is returned when a file holds neither tracks nor routes.
var ErrNoTracks = errors.New("trackfile: no tracks or routes")

// maxFileSize caps GPX input.
const maxFileSize = 64 * 1024 * 1024

// Load reads a GPX file into a plan source named after the file unless the
// document names itself.
func Load(path string) (plan.Source, error) {
	clean := filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(clean)); ext != ".gpx" {
		return plan.Source{}, fmt.Errorf("track file must have .gpx extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return plan.Source{}, fmt.Errorf("failed to stat track file: %w", err)
	}
	if info.Size() > maxFileSize {
		return plan.Source{}, fmt.Errorf("track file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	f, err := os.Open(clean)
	if err != nil {
		return plan.Source{}, fmt.Errorf("failed to open track file: %w", err)
	}
	defer f.Close()

	src, err := Parse(f)
	if err != nil {
		return plan.Source{}, fmt.Errorf("%s: %w", clean, err)
	}
	if src.Name == "" {
		src.Name = strings.TrimSuffix(filepath.Base(clean), filepath.Ext(clean))
	}
	return src, nil
}

// Parse decodes a GPX document. Every track segment and every route becomes
// one plan track; waypoints are kept with their names.
func Parse(r io.Reader) (plan.Source, error) {
	doc, err := gpx.Parse(r)
	if err != nil {
		return plan.Source{}, fmt.Errorf("failed to parse GPX: %w", err)
	}
	return FromGPX(doc)
}

// FromGPX converts a parsed GPX document.
func FromGPX(doc *gpx.GPX) (plan.Source, error) {
	src := plan.Source{Name: doc.Name}
	for _, trk := range doc.Tracks {
		for i, seg := range trk.Segments {
			name := trk.Name
			if len(trk.Segments) > 1 {
				name = fmt.Sprintf("%s#%d", trk.Name, i+1)
			}
			src.Tracks = append(src.Tracks, plan.Track{Name: name, Points: points(seg.Points)})
		}
	}
	for _, rte := range doc.Routes {
		src.Tracks = append(src.Tracks, plan.Track{Name: rte.Name, Points: points(rte.Points)})
	}
	if len(src.Tracks) == 0 {
		return plan.Source{}, ErrNoTracks
	}
	for _, wp := range doc.Waypoints {
		p := geo.Point{Lat: wp.Latitude, Lon: wp.Longitude}
		if !p.Valid() {
			continue
		}
		src.Waypoints = append(src.Waypoints, plan.Waypoint{Point: p, Name: wp.Name})
	}
	return src, nil
}

func points(in []gpx.GPXPoint) []plan.TrackPoint {
	out := make([]plan.TrackPoint, 0, len(in))
	for _, gp := range in {
		tp := plan.TrackPoint{Point: geo.Point{Lat: gp.Latitude, Lon: gp.Longitude}}
		if !tp.Point.Valid() {
			continue
		}
		if gp.Elevation.NotNull() {
			ele := gp.Elevation.Value()
			tp.Elevation = &ele
		}
		if !gp.Timestamp.IsZero() {
			ts := gp.Timestamp
			tp.Time = &ts
		}
		out = append(out, tp)
	}
	return out
}

// Encode renders src as a GPX 1.1 document.
func Encode(src plan.Source) ([]byte, error) {
	doc := &gpx.GPX{Name: src.Name, Creator: "route.radar", Version: "1.1"}
	for _, tr := range src.Tracks {
		seg := gpx.GPXTrackSegment{}
		for _, tp := range tr.Points {
			gp := gpx.GPXPoint{Point: gpx.Point{Latitude: tp.Point.Lat, Longitude: tp.Point.Lon}}
			if tp.Elevation != nil {
				gp.Elevation = *gpx.NewNullableFloat64(*tp.Elevation)
			}
			if tp.Time != nil {
				gp.Timestamp = tp.Time.UTC()
			}
			seg.Points = append(seg.Points, gp)
		}
		doc.Tracks = append(doc.Tracks, gpx.GPXTrack{Name: tr.Name, Segments: []gpx.GPXTrackSegment{seg}})
	}
	for _, wp := range src.Waypoints {
		doc.Waypoints = append(doc.Waypoints, gpx.GPXPoint{
			Point: gpx.Point{Latitude: wp.Point.Lat, Longitude: wp.Point.Lon},
			Name:  wp.Name,
		})
	}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

// TimedPoint is a recorded position with its timestamp, as replayed from a
// GPX trace.
type TimedPoint struct {
	Point     geo.Point
	Elevation *float64
	Time      time.Time
}

// Trace flattens every timed point of src in time order. Points without a
// timestamp are dropped.
func Trace(src plan.Source) []TimedPoint {
	var out []TimedPoint
	for _, tr := range src.Tracks {
		for _, tp := range tr.Points {
			if tp.Time == nil {
				continue
			}
			out = append(out, TimedPoint{Point: tp.Point, Elevation: tp.Elevation, Time: *tp.Time})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(b []byte) (plan.Source, error) {
	return Parse(bytes.NewReader(b))
}
