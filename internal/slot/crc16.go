package slot

// crc16Poly is the CCITT generator polynomial x^16 + x^12 + x^5 + 1.
const crc16Poly = 0x1021

// crc16Table holds the CRC of every single byte value. Filled once by init.
var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// Checksum returns the CRC16/XMODEM checksum of data.
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// checksumString avoids the []byte conversion on the hot path.
func checksumString(s string) uint16 {
	var crc uint16
	for i := 0; i < len(s); i++ {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^s[i]]
	}
	return crc
}
