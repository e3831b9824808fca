package nic

const crcPolynomial = 0x04C11DB7

// CRC32 computes the Ethernet CRC used by MAC hash filters. The register is
// preset to 0xFFFFFFFF and shifted MSB-first while data bits are fed LSB-first.
// The result is not complemented.
//
// For 01:00:5e:00:00:01 this yields 0x7fa32d9b (hash index 31).
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		for j := 0; j < 8; j++ {
			if (crc>>31)^uint32(b>>j)&0x01 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC32Complemented is CRC32 with the final value inverted, as some MACs
// expect. For 01:00:5e:00:00:01 this yields 0x805cd264 (hash index 32).
func CRC32Complemented(data []byte) uint32 {
	return ^CRC32(data)
}

// CrcFunc selects the CRC convention of a particular MAC.
type CrcFunc func(data []byte) uint32

// HashIndex returns the bit of a 64-bit hash table selected by crc: its
// upper 6 bits.
func HashIndex(crc uint32) int {
	return int(crc>>26) & 0x3F
}
