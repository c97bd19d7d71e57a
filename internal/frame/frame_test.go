package frame

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func decodeLayers(t *testing.T, raw []byte) (layers.Ethernet, layers.ARP) {
	t.Helper()
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	return *eth, *arp
}

func TestEncodeRequest(t *testing.T) {
	ownMAC := mustMAC(t, "cc:cc:cc:cc:cc:cc")
	ownIP := net.ParseIP("10.0.0.1")
	target := net.ParseIP("10.0.0.2")

	raw := EncodeRequest(ownMAC, ownIP, target)
	require.Len(t, raw, 42)

	eth, arp := decodeLayers(t, raw)
	require.Equal(t, layers.EthernetTypeARP, eth.EthernetType)
	require.True(t, eth.DstMAC.String() == "ff:ff:ff:ff:ff:ff")
	require.Equal(t, ownMAC.String(), eth.SrcMAC.String())

	require.EqualValues(t, layers.ARPRequest, arp.Operation)
	require.EqualValues(t, 1, arp.AddrType)
	require.Equal(t, layers.EthernetTypeIPv4, arp.Protocol)
	require.EqualValues(t, 6, arp.HwAddressSize)
	require.EqualValues(t, 4, arp.ProtAddressSize)
	require.Equal(t, "00:00:00:00:00:00", net.HardwareAddr(arp.DstHwAddress).String())
	require.Equal(t, target.To4(), net.IP(arp.DstProtAddress))

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.EqualValues(t, 1, decoded.Op)
	require.Equal(t, ownMAC.String(), decoded.SenderMAC.String())
	require.True(t, net.IP(ownIP.To4()).Equal(decoded.SenderIP))
	require.True(t, target.To4().Equal(decoded.TargetIP))
}

func TestEncodePoisonToVictimAndGateway(t *testing.T) {
	ownMAC := mustMAC(t, "cc:cc:cc:cc:cc:cc")
	gatewayIP := net.ParseIP("10.0.0.2")
	victim := Peer{MAC: mustMAC(t, "bb:bb:bb:bb:bb:bb"), IP: net.ParseIP("10.0.0.5")}

	raw := EncodePoisonToVictim(ownMAC, gatewayIP, victim)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.EqualValues(t, 2, decoded.Op)
	require.Equal(t, ownMAC.String(), decoded.SenderMAC.String())
	require.True(t, gatewayIP.To4().Equal(decoded.SenderIP))
	require.Equal(t, victim.MAC.String(), decoded.TargetMAC.String())
	require.True(t, victim.IP.To4().Equal(decoded.TargetIP))

	eth, _ := decodeLayers(t, raw)
	require.Equal(t, victim.MAC.String(), eth.DstMAC.String())

	gateway := Peer{MAC: mustMAC(t, "aa:aa:aa:aa:aa:aa"), IP: gatewayIP}
	raw2 := EncodePoisonToGateway(ownMAC, victim.IP, gateway)
	decoded2, err := Decode(raw2)
	require.NoError(t, err)
	require.EqualValues(t, 2, decoded2.Op)
	require.True(t, victim.IP.To4().Equal(decoded2.SenderIP))
	require.Equal(t, gateway.MAC.String(), decoded2.TargetMAC.String())
	require.True(t, gateway.IP.To4().Equal(decoded2.TargetIP))
}

func TestEncodeRestoreKeepsOwnMACAsEthernetSource(t *testing.T) {
	ownMAC := mustMAC(t, "cc:cc:cc:cc:cc:cc")
	victim := Peer{MAC: mustMAC(t, "bb:bb:bb:bb:bb:bb"), IP: net.ParseIP("10.0.0.5")}
	gateway := Peer{MAC: mustMAC(t, "aa:aa:aa:aa:aa:aa"), IP: net.ParseIP("10.0.0.2")}

	raw := EncodeRestore(ownMAC, victim, gateway)
	eth, _ := decodeLayers(t, raw)
	require.Equal(t, ownMAC.String(), eth.SrcMAC.String())
	require.Equal(t, victim.MAC.String(), eth.DstMAC.String())

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, gateway.MAC.String(), decoded.SenderMAC.String())
	require.True(t, gateway.IP.To4().Equal(decoded.SenderIP))
	require.Equal(t, victim.MAC.String(), decoded.TargetMAC.String())
	require.True(t, victim.IP.To4().Equal(decoded.TargetIP))
}

func TestDecodeRejectsNonARP(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       mustMAC(t, "cc:cc:cc:cc:cc:cc"),
		DstMAC:       mustMAC(t, "bb:bb:bb:bb:bb:bb"),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, serializeOpts, &eth, &ip)
	require.NoError(t, err)

	_, derr := Decode(buf.Bytes())
	require.ErrorIs(t, derr, ErrNotARP)
}

func TestDecodeIgnoresTrailingPadding(t *testing.T) {
	ownMAC := mustMAC(t, "cc:cc:cc:cc:cc:cc")
	raw := EncodeRequest(ownMAC, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"))
	padded := append(append([]byte{}, raw...), make([]byte, 18)...)

	decoded, err := Decode(padded)
	require.NoError(t, err)
	require.EqualValues(t, 1, decoded.Op)
}
