// Package vendormac resolves the OUI (first three octets) of a MAC address
// to a manufacturer name. Grounded on the OUI-normalization idiom in
// joshdail-go_lan_scanner's vendor_lookup.go, simplified to a small embedded
// table since this module does not ship or refresh an external CSV.
package vendormac

import (
	"net"
	"strings"
)

// Unknown is returned when the OUI isn't in the embedded table.
const Unknown = "Unknown Vendor"

// table holds a handful of well-known OUIs — enough to make the discovery
// engine's Vendor field meaningfully populated without bundling the full
// IEEE registry.
var table = map[string]string{
	"000C29": "VMware",
	"005056": "VMware",
	"000569": "VMware",
	"001C42": "Parallels",
	"080027": "Oracle VirtualBox",
	"B827EB": "Raspberry Pi Foundation",
	"DCA632": "Raspberry Pi Trading",
	"E45F01": "Raspberry Pi Trading",
	"3C5AB4": "Google",
	"F4F5D8": "Google",
	"A4C138": "Espressif",
	"24A160": "Espressif",
	"001A11": "Google",
	"D83ADD": "Apple",
	"F0189F": "Apple",
	"ACDE48": "Apple",
	"001CB3": "Apple",
	"3497F6": "Intel",
	"001B21": "Intel",
	"00163C": "Cisco",
	"00050F": "Cisco",
	"F4EC38": "TP-Link",
	"A0F3C1": "TP-Link",
	"50C7BF": "TP-Link",
	"EC086B": "Ubiquiti Networks",
	"FCECDA": "Ubiquiti Networks",
}

func normalizeOUI(mac string) string {
	u := strings.ToUpper(mac)
	u = strings.NewReplacer(":", "", "-", "", ".", "").Replace(u)
	if len(u) < 6 {
		return ""
	}
	return u[:6]
}

// Lookup resolves mac's vendor, or Unknown if not in the embedded table.
func Lookup(mac net.HardwareAddr) string {
	if len(mac) != 6 {
		return Unknown
	}
	oui := normalizeOUI(mac.String())
	if oui == "" {
		return Unknown
	}
	if v, ok := table[oui]; ok {
		return v
	}
	return Unknown
}
