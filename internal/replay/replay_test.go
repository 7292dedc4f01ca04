package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/nmea"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/serialmux"
	"github.com/banshee-data/route.radar/internal/testutil"
	"github.com/banshee-data/route.radar/internal/trackfile"
)

const nmeaPort = 10110

var (
	t0   = testutil.T0
	east = testutil.East
	rmc  = testutil.RMC
)

func straightSource() plan.Source { return testutil.StraightSource("straight", 2000, 100) }

func straightPlan(t *testing.T) *plan.PlanData {
	t.Helper()
	monitoring.SetLogger(nil)
	pd, err := plan.Build(context.Background(), straightSource(), plan.DefaultOptions())
	require.NoError(t, err)
	return pd
}

func testOptions() Options {
	cfg := radar.DefaultConfig()
	cfg.GpsFilter = false
	return Options{Config: cfg}
}

// ride returns n fixes one second apart, 5 m apart along the plan.
func ride(n int, from time.Time) []radar.Fix {
	out := make([]radar.Fix, n)
	for i := range out {
		out[i] = radar.Fix{Position: east(float64(i) * 5), Time: from.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestRunEngagesOnRecordedRide(t *testing.T) {
	res, err := Run(context.Background(), straightPlan(t), ride(20, t0), testOptions())
	require.NoError(t, err)

	assert.Equal(t, t0, res.Start)
	assert.Equal(t, t0.Add(19*time.Second), res.End)
	assert.Equal(t, 20, res.Fixes)
	assert.Zero(t, res.Rejected)
	require.NotEmpty(t, res.Alarms)
	assert.Equal(t, radar.Engaged, res.Alarms[0].Kind)
	assert.Zero(t, res.Counts()[radar.GpsLost])
	assert.Equal(t, radar.StateEngaged, res.Final.State)
	assert.NotEmpty(t, res.Messages)
}

func TestRunRaisesGpsLostInGaps(t *testing.T) {
	fixes := ride(10, t0)
	// A minute of silence, then the receiver comes back further along.
	for i, f := range ride(10, t0.Add(70*time.Second)) {
		f.Position = east(200 + float64(i)*5)
		fixes = append(fixes, f)
	}
	res, err := Run(context.Background(), straightPlan(t), fixes, testOptions())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Counts()[radar.GpsLost], 1)

	var lostAt time.Time
	for _, e := range res.Alarms {
		if e.Kind == radar.GpsLost {
			lostAt = e.Time
			break
		}
	}
	last := t0.Add(9 * time.Second)
	assert.Equal(t, last.Add(radar.DefaultConfig().GpsFirstTimeout), lostAt)
}

func TestRunTailKeepsWatchdogRunning(t *testing.T) {
	opts := testOptions()
	opts.Tail = time.Minute
	res, err := Run(context.Background(), straightPlan(t), ride(10, t0), opts)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(9*time.Second+time.Minute), res.End)
	assert.GreaterOrEqual(t, res.Counts()[radar.GpsLost], 2)
	assert.True(t, res.Final.GpsLost)
}

func TestRunExtraListeners(t *testing.T) {
	extra := radar.NewRecorder(0)
	opts := testOptions()
	opts.Listeners = []radar.Listener{extra}
	res, err := Run(context.Background(), straightPlan(t), ride(10, t0), opts)
	require.NoError(t, err)
	assert.Equal(t, len(res.Alarms), len(extra.Events()))
}

func TestRunCountsRejectedFixes(t *testing.T) {
	fixes := ride(10, t0)
	fixes[5].Position = geo.Point{Lat: 95, Lon: 7}
	res, err := Run(context.Background(), straightPlan(t), fixes, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 9, res.Fixes)
}

func TestRunErrors(t *testing.T) {
	pd := straightPlan(t)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		pd    *plan.PlanData
		fixes []radar.Fix
		want  error
	}{
		{"no plan", context.Background(), nil, ride(3, t0), radar.ErrNoPlan},
		{"no fixes", context.Background(), pd, nil, ErrNoFixes},
		{"untimed start", context.Background(), pd, []radar.Fix{{Position: east(0)}}, ErrNoFixes},
		{"canceled", canceled, pd, ride(3, t0), context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(tt.ctx, tt.pd, tt.fixes, testOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFromTrace(t *testing.T) {
	ele := 410.0
	fixes := FromTrace([]trackfile.TimedPoint{
		{Point: east(0), Elevation: &ele, Time: t0},
		{Point: east(10), Time: t0.Add(2 * time.Second)},
	})
	require.Len(t, fixes, 2)
	assert.Equal(t, &ele, fixes[0].Altitude)
	assert.Nil(t, fixes[1].Altitude)
	assert.Equal(t, t0.Add(2*time.Second), fixes[1].Time)
}

func TestSimulateStampsByDistance(t *testing.T) {
	src := straightSource()
	fixes := Simulate(src, 10, t0)
	require.Len(t, fixes, len(src.Tracks[0].Points))
	assert.Equal(t, t0, fixes[0].Time)
	for i := 1; i < len(fixes); i++ {
		assert.InDelta(t, 10, fixes[i].Time.Sub(fixes[i-1].Time).Seconds(), 0.01)
	}

	res, err := Run(context.Background(), straightPlan(t), Simulate(src, 5, t0), testOptions())
	require.NoError(t, err)
	assert.Contains(t, res.Counts(), radar.Engaged)
}

func TestSimulateDefaultSpeed(t *testing.T) {
	fixes := Simulate(straightSource(), 0, t0)
	assert.InDelta(t, 100/DefaultSpeed, fixes[1].Time.Sub(fixes[0].Time).Seconds(), 0.01)
}

func datagram(t *testing.T, port uint16, payload string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 20),
		DstIP:    net.IPv4(192, 168, 1, 10),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload(payload))
	require.NoError(t, err)
	return buf.Bytes()
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// writeCapture writes five datagrams of sentences to the NMEA port and one
// to an unrelated port.
func writeCapture(t *testing.T, w packetWriter) {
	t.Helper()
	write := func(ts time.Time, port uint16, payload string) {
		data := datagram(t, port, payload)
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	for i := 0; i < 5; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		payload := rmc(east(float64(i)*5), ts) + "\r\n" + serialmux.Sentence("GPGSV,1,1,01,01,40,083,46") + "\r\n"
		write(ts, nmeaPort, payload)
	}
	write(t0.Add(5*time.Second), 5353, rmc(east(100), t0.Add(5*time.Second)))
}

func TestReadPCAP(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	writeCapture(t, w)
	raw := buf.Bytes()

	dec := nmea.NewDecoder()
	fixes, stats, err := ReadPCAP(context.Background(), bytes.NewReader(raw), nmeaPort, dec)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Packets)
	assert.Equal(t, 5, stats.Datagrams)
	assert.Equal(t, 10, stats.Sentences)
	assert.Equal(t, 5, stats.Fixes)
	assert.Zero(t, stats.Invalid)
	require.Len(t, fixes, 5)
	assert.Equal(t, t0, fixes[0].Time)
	assert.InDelta(t, 20, geo.Distance(east(0), fixes[4].Position), 0.5)

	fixes, stats, err = ReadPCAP(context.Background(), bytes.NewReader(raw), 0, nmea.NewDecoder())
	require.NoError(t, err)
	assert.Len(t, fixes, 6)
	assert.Equal(t, 6, stats.Datagrams)
}

func TestReadPCAPNG(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	writeCapture(t, w)
	require.NoError(t, w.Flush())

	fixes, stats, err := ReadPCAP(context.Background(), &buf, nmeaPort, nmea.NewDecoder())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Fixes)
	assert.Len(t, fixes, 5)
}

func TestReadPCAPRejectsGarbage(t *testing.T) {
	_, _, err := ReadPCAP(context.Background(), strings.NewReader("not a capture at all"), 0, nmea.NewDecoder())
	assert.Error(t, err)
}

func TestReadNMEALogFeedsRun(t *testing.T) {
	var log strings.Builder
	for i := 0; i < 20; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		fmt.Fprintln(&log, rmc(east(float64(i)*5), ts))
	}
	bad := rmc(east(0), t0)
	log.WriteString(bad[:len(bad)-2] + "00\n")
	log.WriteString("garbage line\n")

	fixes, stats, err := ReadNMEALog(context.Background(), strings.NewReader(log.String()), nmea.NewDecoder())
	require.NoError(t, err)
	assert.Equal(t, 21, stats.Sentences)
	assert.Equal(t, 1, stats.Invalid)
	require.Len(t, fixes, 20)

	res, err := Run(context.Background(), straightPlan(t), fixes, testOptions())
	require.NoError(t, err)
	assert.Equal(t, radar.Engaged, res.Alarms[0].Kind)
}
