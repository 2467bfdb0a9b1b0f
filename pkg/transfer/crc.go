package transfer

import "hash/crc32"

// CRC16 is a running CRC-16/CCITT-FALSE accumulator (poly 0x1021, init
// 0xFFFF), appended as a two-byte trailer to the last fragment of a CAN/
// CAN-FD transfer. The `Block` method and comparable-by-value shape mirror
// the `crc.CRC16` accumulator used for block-transfer integrity in
// gocanopen's SDO server — this package reuses that pattern for
// multi-frame transfer integrity instead.
type CRC16 uint16

const crc16Init CRC16 = 0xFFFF

var crc16Table [256]uint16

func init() {
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// NewCRC16 returns the initial accumulator value for a new transfer.
func NewCRC16() CRC16 { return crc16Init }

// Block folds data into the accumulator and returns the updated value.
func (c CRC16) Block(data []byte) CRC16 {
	for _, b := range data {
		c = c<<8 ^ CRC16(crc16Table[byte(c>>8)^b])
	}
	return c
}

// Bytes renders the accumulator as its big-endian wire trailer.
func (c CRC16) Bytes() [2]byte {
	return [2]byte{byte(c >> 8), byte(c)}
}

// crc32cTable is the Castagnoli table used for the UDP/IP transfer
// trailer (spec.md §6: "CRC-32C for UDP trailers").
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the UDP transfer trailer over the full reassembled
// payload.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}
