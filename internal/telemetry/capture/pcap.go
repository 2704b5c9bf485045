package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lexi.report/internal/monitoring"
)

// PCAPStats summarises a PCAP extraction.
type PCAPStats struct {
	Packets int // records read from the file
	Matched int // UDP datagrams whose payload was kept
	Skipped int // non-UDP or filtered-out records
	Payload int // payload bytes kept
}

// LoadPCAP concatenates the UDP payloads of a classic PCAP stream. When port
// is non-zero only datagrams sent to that destination port are kept. Ground
// support equipment forwards telemetry as UDP, one or more frames per
// datagram, so the result is a raw capture buffer.
func LoadPCAP(r io.Reader, port int) ([]byte, PCAPStats, error) {
	var stats PCAPStats

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, stats, fmt.Errorf("open pcap: %w", err)
	}

	var out []byte
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A truncated final record ends the capture like a truncated frame does.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				monitoring.Logf("pcap: truncated record after %d packets", stats.Packets)
				break
			}
			return nil, stats, fmt.Errorf("read pcap record %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			stats.Skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || (port != 0 && int(udp.DstPort) != port) || len(udp.Payload) == 0 {
			stats.Skipped++
			continue
		}

		out = append(out, udp.Payload...)
		stats.Matched++
		stats.Payload += len(udp.Payload)
	}

	monitoring.Logf("pcap: %d packets, %d UDP datagrams kept, %d payload bytes", stats.Packets, stats.Matched, stats.Payload)
	return out, stats, nil
}
