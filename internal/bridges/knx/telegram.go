package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd message types.
const (
	// EIBOpenGroupCon opens a group socket that both sends and receives
	// telegrams for every group address.
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries one group telegram.
	EIBGroupPacket uint16 = 0x0027
)

// APCI codes for group communication.
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80
)

const (
	// knxdHeaderSize is size(2) + type(2).
	knxdHeaderSize = 4

	// groupPacketRxHeader is src(2) + dest(2) + TPCI(1) + APCI(1).
	groupPacketRxHeader = 6

	// compactMask selects the 6-bit value carried inside the APCI byte.
	compactMask = 0x3F
)

// Telegram is one KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address ("1.1.5"); set on receive only.
	Source      string
	Destination GroupAddress
	APCI        byte
	Data        []byte

	// Compact packs a 6-bit value into the APCI byte, as DPT 1.xxx requires.
	Compact bool

	Timestamp time.Time
}

// ParseTelegram parses the payload of a received EIB_GROUP_PACKET:
//
//	src(2) dest(2) TPCI(1) APCI|value(1) [data...]
//
// The receive format carries the source address, the send format does not.
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < groupPacketRxHeader {
		return Telegram{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidTelegram, len(data), groupPacketRxHeader)
	}

	t := Telegram{
		Source:      formatIndividualAddress(binary.BigEndian.Uint16(data[0:2])),
		Destination: GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4])),
		APCI:        data[5] & 0xC0,
		Timestamp:   time.Now(),
	}

	switch {
	case len(data) > groupPacketRxHeader:
		t.Data = append([]byte(nil), data[groupPacketRxHeader:]...)
	case t.APCI == APCIWrite || t.APCI == APCIResponse:
		t.Data = []byte{data[5] & compactMask}
		t.Compact = true
	}
	return t, nil
}

func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// Encode renders the telegram as an EIB_GROUP_PACKET payload:
//
//	dest(2) TPCI(1) APCI|value(1) [data...]
func (t Telegram) Encode() []byte {
	if t.Compact || len(t.Data) == 0 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[3] = t.APCI
		if len(t.Data) > 0 {
			buf[3] |= t.Data[0] & compactMask
		}
		return buf
	}

	buf := make([]byte, 4+len(t.Data))
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[3] = t.APCI
	copy(buf[4:], t.Data)
	return buf
}

// IsWrite reports a GroupValue_Write.
func (t Telegram) IsWrite() bool { return t.APCI == APCIWrite }

// IsRead reports a GroupValue_Read.
func (t Telegram) IsRead() bool { return t.APCI == APCIRead }

// IsResponse reports a GroupValue_Response.
func (t Telegram) IsResponse() bool { return t.APCI == APCIResponse }

func (t Telegram) String() string {
	kind := "UNKNOWN"
	switch t.APCI {
	case APCIRead:
		kind = "READ"
	case APCIResponse:
		kind = "RESPONSE"
	case APCIWrite:
		kind = "WRITE"
	}
	return fmt.Sprintf("Telegram{GA:%s, APCI:%s, Data:%X}", t.Destination, kind, t.Data)
}

// newTelegram builds an outgoing telegram. Compact framing is chosen for
// 1-bit datapoints.
func newTelegram(apci byte, dest GroupAddress, dpt DPT, data []byte) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        apci,
		Data:        data,
		Compact:     dpt.isBit(),
		Timestamp:   time.Now(),
	}
}

func (d DPT) isBit() bool { return len(d) > 2 && d[:2] == "1." }

// EncodeKNXDMessage frames a payload for the knxd socket. The size field
// counts type and payload, not itself.
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // small frames
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseKNXDMessage splits a complete knxd frame into type and payload.
func ParseKNXDMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidTelegram, len(data))
	}
	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, got %d)", ErrInvalidTelegram, declared, len(data)-2)
	}
	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}
