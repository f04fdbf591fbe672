package rdm

import (
	"encoding/binary"
	"errors"
)

// Command classes.
const (
	CCDiscover     uint8 = 0x10
	CCDiscoverResp uint8 = 0x11
	CCGet          uint8 = 0x20
	CCGetResp      uint8 = 0x21
	CCSet          uint8 = 0x30
	CCSetResp      uint8 = 0x31
)

// Response types, carried in the byte that doubles as port_id on a request.
const (
	RespACK        uint8 = 0x00
	RespACKTimer   uint8 = 0x01
	RespNACK       uint8 = 0x02
	RespACKOverfl  uint8 = 0x03
)

// Well-known PIDs used by the discovery and transaction engines.
const (
	PIDDiscUniqueBranch uint16 = 0x0001
	PIDDiscMute         uint16 = 0x0002
	PIDDiscUnmute       uint16 = 0x0003
	PIDProxiedDevices   uint16 = 0x0010
	PIDProxyDevCount    uint16 = 0x0011
	PIDQueuedMessage    uint16 = 0x0020
)

// StatusError is the GET QUEUED_MESSAGE status type the engine polls with
// after an ACK_TIMER, per ANSI E1.20 (return only error-severity messages).
const StatusError uint8 = 0x04

// ManagedProxyBit marks a MUTE/UNMUTE response's control field as coming
// from a device that proxies others.
const ManagedProxyBit uint16 = 0x0001

const (
	startCode    uint8 = 0xCC
	subStartCode uint8 = 0x01

	// RDMMaxPDL is the largest parameter-data length a packet may carry.
	RDMMaxPDL = 231

	// headerLen is the number of bytes from sub_start_code through pdl,
	// inclusive, that precede pdata.
	headerLen = 1 /*sub_start_code*/ + 1 /*length*/ + 6 /*dest*/ + 6 /*src*/ +
		1 /*tn*/ + 1 /*port/resp*/ + 1 /*msg count*/ + 2 /*subdevice*/ +
		1 /*cc*/ + 2 /*pid*/ + 1 /*pdl*/

	// minResponseLen is the smallest legal decoded frame: headerLen plus
	// the leading start_code byte and the trailing 2-byte checksum.
	minResponseLen = 1 + headerLen + 2
)

var (
	// ErrShortPacket indicates a buffer too small to hold a legal frame.
	ErrShortPacket = errors.New("rdm: packet too short")
	// ErrBadStartCode indicates the start_code or sub_start_code was wrong.
	ErrBadStartCode = errors.New("rdm: bad start code")
	// ErrBadLength indicates the length field didn't match the buffer.
	ErrBadLength = errors.New("rdm: bad length field")
	// ErrWrongDestination indicates dest_uid addressed neither us nor a
	// broadcast we should answer to.
	ErrWrongDestination = errors.New("rdm: wrong destination")
	// ErrChecksum indicates the trailing checksum didn't match.
	ErrChecksum = errors.New("rdm: checksum mismatch")
)

// Packet is a decoded RDM message, request or response.
type Packet struct {
	Dest              UID
	Src               UID
	TransactionNumber uint8
	// PortIDOrResponse carries the request's port ID, or (on a response)
	// one of RespACK / RespACKTimer / RespNACK / RespACKOverfl.
	PortIDOrResponse uint8
	MessageCount     uint8
	SubDevice        uint16
	CC               uint8
	PID              uint16
	PData            []byte // length == PDL, never more than RDMMaxPDL
}

// Encode serializes p into the on-wire form the transport sends, EXCLUDING
// the leading start_code byte (the transport's BREAK sequence takes its
// place). The length field is set to bodyLength+1 as spec.md requires.
func (p *Packet) Encode() []byte {
	pdl := len(p.PData)
	if pdl > RDMMaxPDL {
		pdl = RDMMaxPDL
	}

	body := make([]byte, headerLen+pdl)
	body[0] = subStartCode
	// body[1] (length) filled below once we know the full size.
	var destBuf, srcBuf [6]byte
	WriteUID(destBuf[:], p.Dest)
	WriteUID(srcBuf[:], p.Src)
	copy(body[2:8], destBuf[:])
	copy(body[8:14], srcBuf[:])
	body[14] = p.TransactionNumber
	body[15] = p.PortIDOrResponse
	body[16] = p.MessageCount
	binary.BigEndian.PutUint16(body[17:19], p.SubDevice)
	body[19] = p.CC
	binary.BigEndian.PutUint16(body[20:22], p.PID)
	body[22] = uint8(pdl)
	copy(body[23:23+pdl], p.PData[:pdl])

	// length = slot number of the checksum-high byte = body length + 1
	// (the start_code, which isn't present in this buffer, counts too).
	body[1] = uint8(len(body) + 1)

	checksum := uint16(startCode)
	for _, b := range body {
		checksum += uint16(b)
	}

	out := make([]byte, len(body)+2)
	copy(out, body)
	binary.BigEndian.PutUint16(out[len(body):], checksum)
	return out
}

// decodeFrame validates and parses a buffer that includes the leading
// start_code byte, without regard to who it's addressed to.
func decodeFrame(buf []byte) (*Packet, error) {
	if len(buf) < minResponseLen {
		return nil, ErrShortPacket
	}
	if buf[0] != startCode || buf[1] != subStartCode {
		return nil, ErrBadStartCode
	}

	length := int(buf[2])
	if length > len(buf)-2 {
		return nil, ErrBadLength
	}
	buf = buf[:length+2]

	checksum := uint16(0)
	for _, b := range buf[:len(buf)-2] {
		checksum += uint16(b)
	}
	if checksum != uint16BE(buf[len(buf)-2:]) {
		return nil, ErrChecksum
	}

	p := &Packet{
		Dest:              ReadUID(buf[3:9]),
		Src:               ReadUID(buf[9:15]),
		TransactionNumber: buf[15],
		PortIDOrResponse:  buf[16],
		MessageCount:      buf[17],
		SubDevice:         uint16BE(buf[18:20]),
		CC:                buf[20],
		PID:               uint16BE(buf[21:23]),
	}
	pdl := int(buf[23])
	if pdl > RDMMaxPDL {
		pdl = RDMMaxPDL
	}
	end := 24 + pdl
	if end > len(buf)-2 {
		end = len(buf) - 2
	}
	p.PData = append([]byte(nil), buf[24:end]...)
	return p, nil
}

// Decode parses an RDM response addressed to us (ours, broadcast, or our
// manufacturer's broadcast). buf must include the leading start_code byte.
func Decode(buf []byte, ours UID) (*Packet, error) {
	p, err := decodeFrame(buf)
	if err != nil {
		return nil, err
	}
	if p.Dest != ours && p.Dest != UIDBroadcast && p.Dest != UIDMfrBroadcast(ours.Manufacturer()) {
		return nil, ErrWrongDestination
	}
	return p, nil
}

// DecodeRequestBody parses body — a packet with its leading start_code
// byte omitted, exactly Packet.Encode's output shape — addressed to
// whatever device on the bus it names, not to us. This is how an inbound
// RDM request arrives already assembled from the network (e.g. an ArtRdm
// payload, which follows the same start-code-omitted convention): the
// bridge relays it onward rather than terminating it, so no destination
// check against our own UID applies.
func DecodeRequestBody(body []byte) (*Packet, error) {
	full := make([]byte, len(body)+1)
	full[0] = startCode
	copy(full[1:], body)
	return decodeFrame(full)
}

// ResponseCCFor returns the response CC paired with a request CC.
func ResponseCCFor(requestCC uint8) uint8 {
	switch requestCC {
	case CCDiscover:
		return CCDiscoverResp
	case CCGet:
		return CCGetResp
	case CCSet:
		return CCSetResp
	default:
		return 0
	}
}
