// Package pcap turns offline packet captures into per-IP traffic
// aggregates, giving the pipeline a local feature source.
package pcap

import (
	"context"
	"sort"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/riskforge/iprisk/pkg/feature"
)

// aggregate accumulates one source IP's traffic counters.
type aggregate struct {
	packets  float64
	bytes    float64
	synCount float64
	udpCount float64
	dstPorts map[uint16]struct{}
	dstIPs   map[string]struct{}
}

// Source reads a capture file and emits one table row per source IP.
type Source struct {
	path string
}

// NewSource creates a pcap feature source for the given capture file.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Columns of the emitted table, ip first.
func columns() []string {
	return []string{
		"ip",
		"packets",
		"bytes",
		"avg_packet_size",
		"distinct_dst_ports",
		"distinct_dst_ips",
		"syn_count",
		"udp_share",
	}
}

// Fetch reads the whole capture and aggregates per source IP. Rows are
// ordered by IP so repeated runs over the same capture produce the same
// table.
func (s *Source) Fetch(ctx context.Context) (*feature.Table, error) {
	handle, err := pcap.OpenOffline(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "open capture")
	}
	defer handle.Close()

	aggs := make(map[string]*aggregate)
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case packet, ok := <-packetSource.Packets():
			if !ok {
				return buildTable(aggs), nil
			}
			observe(aggs, packet)
		}
	}
}

// observe folds one packet into the per-IP aggregates.
func observe(aggs map[string]*aggregate, packet gopacket.Packet) {
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return
	}
	ip := ipLayer.(*layers.IPv4)
	src := ip.SrcIP.String()

	agg, ok := aggs[src]
	if !ok {
		agg = &aggregate{
			dstPorts: make(map[uint16]struct{}),
			dstIPs:   make(map[string]struct{}),
		}
		aggs[src] = agg
	}

	agg.packets++
	agg.bytes += float64(len(packet.Data()))
	agg.dstIPs[ip.DstIP.String()] = struct{}{}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		agg.dstPorts[uint16(tcp.DstPort)] = struct{}{}
		if tcp.SYN && !tcp.ACK {
			agg.synCount++
		}
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		agg.dstPorts[uint16(udp.DstPort)] = struct{}{}
		agg.udpCount++
	}
}

// buildTable renders the aggregates as a raw feature table.
func buildTable(aggs map[string]*aggregate) *feature.Table {
	ips := make([]string, 0, len(aggs))
	for ip := range aggs {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	t := &feature.Table{Columns: columns()}
	for _, ip := range ips {
		agg := aggs[ip]
		t.Rows = append(t.Rows, []string{
			ip,
			ftoa(agg.packets),
			ftoa(agg.bytes),
			ftoa(agg.bytes / agg.packets),
			ftoa(float64(len(agg.dstPorts))),
			ftoa(float64(len(agg.dstIPs))),
			ftoa(agg.synCount),
			ftoa(agg.udpCount / agg.packets),
		})
	}
	return t
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
