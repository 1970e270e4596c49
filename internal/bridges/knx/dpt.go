package knx

import (
	"fmt"
	"math"
)

// DPT is a KNX datapoint type identifier, "major.minor".
type DPT string

// Datapoint types used by SnapDog features.
const (
	DPTSwitch  DPT = "1.001" // mute, repeat, shuffle: 0=off, 1=on
	DPTTrigger DPT = "1.017" // play, next, toggles: any write fires

	DPTScaling DPT = "5.001" // volume and progress: 0-100% over 0-255
	DPTCount   DPT = "5.010" // indices and enumerations: 0-255 unscaled
)

// dpt5MaxValue is the raw maximum of a 1-byte unsigned datapoint.
const dpt5MaxValue = 255

// EncodeDPT1 encodes a boolean to the 1-bit format.
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes the 1-bit format.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return (data[0] & 0x01) != 0, nil
}

// EncodeDPT5 scales a percentage (0-100, clamped) to one byte.
func EncodeDPT5(percent float64) []byte {
	percent = math.Max(0, math.Min(100, percent))
	return []byte{uint8(math.Round(percent * dpt5MaxValue / 100))}
}

// DecodeDPT5 scales one byte to a percentage (0-100).
func DecodeDPT5(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / dpt5MaxValue, nil
}

// EncodeDPT5Count encodes an unscaled counter.
func EncodeDPT5Count(value int) ([]byte, error) {
	if value < 0 || value > dpt5MaxValue {
		return nil, fmt.Errorf("%w: DPT5.010 value must be 0-%d, got %d", ErrEncodingFailed, dpt5MaxValue, value)
	}
	return []byte{byte(value)}, nil
}

// DecodeDPT5Count decodes an unscaled counter.
func DecodeDPT5Count(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5.010 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return int(data[0]), nil
}

// percentOf rounds a decoded DPT 5.001 value to the nearest whole percent.
func percentOf(data []byte) (int, error) {
	p, err := DecodeDPT5(data)
	if err != nil {
		return 0, err
	}
	return int(math.Round(p)), nil
}
