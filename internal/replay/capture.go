package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/nmea"
	"github.com/banshee-data/route.radar/internal/radar"
)

// pcapngMagic is the section header block type that opens a pcapng file.
const pcapngMagic = 0x0A0D0D0A

// CaptureStats counts what a capture contained.
type CaptureStats struct {
	Packets   int
	Datagrams int
	Sentences int
	Fixes     int
	Invalid   int
}

// packetSource opens a classic pcap or a pcapng stream.
func packetSource(r io.Reader) (*gopacket.PacketSource, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(head) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng capture: %w", err)
		}
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap capture: %w", err)
	}
	return gopacket.NewPacketSource(pr, pr.LinkType()), nil
}

// ReadPCAP extracts fixes from the NMEA datagrams of a packet capture. Only
// UDP traffic to port is considered; port 0 accepts any port. A datagram
// may carry several sentences.
func ReadPCAP(ctx context.Context, r io.Reader, port int, dec *nmea.Decoder) ([]radar.Fix, CaptureStats, error) {
	var stats CaptureStats
	src, err := packetSource(r)
	if err != nil {
		return nil, stats, err
	}
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true}

	var fixes []radar.Fix
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		packet, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Truncated tails are common when the capture was killed.
			monitoring.Logf("capture read stopped after %d packets: %v", stats.Packets, err)
			break
		}
		stats.Packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		stats.Datagrams++

		sc := bufio.NewScanner(bytes.NewReader(udp.Payload))
		for sc.Scan() {
			fixes = appendSentence(fixes, &stats, dec, sc.Text())
		}
	}
	return fixes, stats, nil
}

// ReadNMEALog extracts fixes from a plain text log of sentences, one per line.
func ReadNMEALog(ctx context.Context, r io.Reader, dec *nmea.Decoder) ([]radar.Fix, CaptureStats, error) {
	var stats CaptureStats
	var fixes []radar.Fix
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if stats.Sentences%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		fixes = appendSentence(fixes, &stats, dec, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("failed to read NMEA log: %w", err)
	}
	return fixes, stats, nil
}

func appendSentence(fixes []radar.Fix, stats *CaptureStats, dec *nmea.Decoder, line string) []radar.Fix {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return fixes
	}
	stats.Sentences++
	f, err := dec.Decode(line)
	switch {
	case err == nil:
		stats.Fixes++
		return append(fixes, f)
	case errors.Is(err, nmea.ErrUnsupported), errors.Is(err, nmea.ErrNoFix):
	default:
		stats.Invalid++
	}
	return fixes
}
