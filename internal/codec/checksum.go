package codec

// Checksum computes the 16-bit integrity code trailing every frame.
// Bit-serial CRC: the register starts at 0xFFFF, each input byte is XORed
// into the low byte, then shifted right 8 times with 0xA001 feedback on the
// low bit. Encode appends the result; Decode recomputes it over everything
// except the trailing two bytes and compares.
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
