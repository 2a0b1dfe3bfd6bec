package mpegts

import "encoding/binary"

// MPEG-2 CRC32 with polynomial 0x04C11DB7.
var crc32Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// ChecksumCRC32 computes the MPEG-2 CRC32 over data. PSI sections carry
// this checksum in their last four bytes; the demuxer never verifies it,
// but section builders need it to emit valid streams.
func ChecksumCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

// AppendCRC32 appends the MPEG-2 CRC32 of data to data.
func AppendCRC32(data []byte) []byte {
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], ChecksumCRC32(data))
	return append(data, crc[:]...)
}
