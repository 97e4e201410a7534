package conv

const hexd = "0123456789ABCDEF"

// U8Hex appends two uppercase hex digits for b.
func U8Hex(buf []byte, b byte) []byte {
	return append(buf, hexd[b>>4], hexd[b&0xF])
}

// HexBytes appends data as space-separated uppercase hex pairs ("80 01 0A").
func HexBytes(buf []byte, data []byte) []byte {
	for i, b := range data {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = U8Hex(buf, b)
	}
	return buf
}

// Hex returns HexBytes as a string.
func Hex(data []byte) string {
	return string(HexBytes(make([]byte, 0, len(data)*3), data))
}
