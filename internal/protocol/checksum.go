package protocol

import "hash/crc32"

// crcTable is the reflected CRC-32 table for polynomial 0xEDB88320.
var crcTable = crc32.MakeTable(crc32.IEEE)

// Checksum computes the TinCat payload checksum.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}
