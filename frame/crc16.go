package frame

// CRC16CCITT computes the CRC-16/CCITT-FALSE checksum (polynomial
// 0x1021, initial value 0xFFFF, no reflection) used as the header
// integrity guard. The standard library has no CRC16 implementation
// (only CRC32/CRC64), and no example repo in the retrieval pack
// exports a standalone CRC16 function without pulling in an unrelated
// device-protocol dependency tree, so this is a direct, textbook
// implementation — see DESIGN.md for the grounding note.
func CRC16CCITT(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
