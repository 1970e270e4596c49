package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a KNX group address in 3-level form, Main/Middle/Sub.
// Main takes 5 bits, Middle 3 and Sub 8, packing into 16 bits on the wire.
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255

	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
)

// ParseGroupAddress parses "main/middle/sub", e.g. "1/2/3".
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	limits := [3]uint64{maxMain, maxMiddle, maxSub}
	names := [3]string{"main", "middle", "sub"}
	var v [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil || n > limits[i] {
			return GroupAddress{}, fmt.Errorf("%w: %s group must be 0-%d, got %q",
				ErrInvalidGroupAddress, names[i], limits[i], p)
		}
		v[i] = uint8(n)
	}
	return GroupAddress{Main: v[0], Middle: v[1], Sub: v[2]}, nil
}

// String returns the 3-level form.
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address as MMMMMIII SSSSSSSS.
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a wire address.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits
	}
}

// IsValid reports whether every level is in range.
func (ga GroupAddress) IsValid() bool {
	return ga.Main <= maxMain && ga.Middle <= maxMiddle
}
