package gt06

// Checksum computes the CRC-16/ITU used by GT06 frames (reversed polynomial
// 0x8408, init and final XOR 0xFFFF). The checked region runs from the
// length byte through the serial number inclusive.
func Checksum(data []byte) uint16 {
	fcs := uint16(0xFFFF)
	for _, b := range data {
		fcs ^= uint16(b)
		for i := 0; i < 8; i++ {
			if fcs&1 != 0 {
				fcs = (fcs >> 1) ^ 0x8408
			} else {
				fcs >>= 1
			}
		}
	}
	return ^fcs
}
