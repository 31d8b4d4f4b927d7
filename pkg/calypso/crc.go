package calypso

// CRC computes the ISO/IEC 14443-3 Type B frame checksum (CRC_B):
// reflected polynomial 0x8408, initial value 0xFFFF, output complemented.
// Dumps stamp every record with it.
func CRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if (crc & 1) != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc = crc >> 1
			}
		}
	}
	return ^crc
}
