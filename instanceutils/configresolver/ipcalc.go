package configresolver

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// IPCalc derives a value from an address in CIDR notation.
//
// Supported operations:
//   - address:   the address without its prefix length
//   - bitmask:   the prefix length
//   - netmask:   the dotted IPv4 mask
//   - base:      the network address
//   - first:     the first usable host address
//   - last:      the last usable host address
//   - broadcast: the IPv4 broadcast address
//   - size:      the number of addresses in the network
func IPCalc(cidr, operation string) (string, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return "", fmt.Errorf("ipcalc %s: %w", operation, err)
	}

	addr := prefix.Addr()
	base := prefix.Masked().Addr()
	hostBits := addr.BitLen() - prefix.Bits()

	switch operation {
	case "address":
		return addr.String(), nil
	case "bitmask":
		return strconv.Itoa(prefix.Bits()), nil
	case "netmask":
		if !addr.Is4() {
			return "", fmt.Errorf("ipcalc netmask: %s is not an IPv4 network", cidr)
		}
		mask := uint32(0xffffffff) << hostBits
		if hostBits == 32 {
			mask = 0
		}
		return fromUint32(mask).String(), nil
	case "base":
		return base.String(), nil
	case "first":
		if hostBits <= 1 {
			return base.String(), nil
		}
		return base.Next().String(), nil
	case "last":
		last := lastAddr(base, hostBits)
		if hostBits <= 1 || !addr.Is4() {
			return last.String(), nil
		}
		return last.Prev().String(), nil
	case "broadcast":
		if !addr.Is4() {
			return "", fmt.Errorf("ipcalc broadcast: %s is not an IPv4 network", cidr)
		}
		return lastAddr(base, hostBits).String(), nil
	case "size":
		if hostBits >= 64 {
			return "", fmt.Errorf("ipcalc size: network %s too large", cidr)
		}
		return strconv.FormatUint(uint64(1)<<hostBits, 10), nil
	default:
		return "", fmt.Errorf("unsupported ipcalc operation %q", operation)
	}
}

// lastAddr sets the low hostBits of base.
func lastAddr(base netip.Addr, hostBits int) netip.Addr {
	b := base.AsSlice()
	for i := len(b) - 1; i >= 0 && hostBits > 0; i-- {
		n := min(hostBits, 8)
		b[i] |= byte(0xff >> (8 - n))
		hostBits -= n
	}
	addr, _ := netip.AddrFromSlice(b)
	return addr
}

func fromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
