package stats

// Escaping follows the QSettings INI convention used when qBittorrent writes
// @Variant(...) values: control and high bytes become \xHH, NUL becomes \0,
// and a hex digit directly after an escape is itself escaped so the reader
// cannot mistake it for part of the previous escape.

const hexDigits = "0123456789abcdef"

var controlEscapes = map[byte]byte{
	'a': 0x07,
	'b': 0x08,
	'f': 0x0c,
	'n': 0x0a,
	'r': 0x0d,
	't': 0x09,
	'v': 0x0b,
}

// Unescape converts an escaped @Variant payload into raw bytes
func Unescape(escaped []byte) []byte {
	out := make([]byte, 0, len(escaped))

	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != '\\' || i+1 >= len(escaped) {
			out = append(out, c)
			continue
		}

		i++
		next := escaped[i]
		switch {
		case next == 'x':
			value, n := parseHex(escaped[i+1:])
			if n == 0 {
				// Dangling \x, keep the letter
				out = append(out, next)
				continue
			}
			out = append(out, value)
			i += n
		case next >= '0' && next <= '7':
			value, n := parseOctal(escaped[i:])
			out = append(out, value)
			i += n - 1
		default:
			if control, ok := controlEscapes[next]; ok {
				out = append(out, control)
			} else {
				out = append(out, next)
			}
		}
	}

	return out
}

// UnescapeString is Unescape for string input
func UnescapeString(escaped string) []byte {
	return Unescape([]byte(escaped))
}

// Escape encodes raw bytes the way QSettings stores them inside @Variant(...)
func Escape(raw []byte) []byte {
	out := make([]byte, 0, len(raw)*2)
	escapeNextIfHex := false

	for _, c := range raw {
		if escapeNextIfHex && isHexDigit(c) {
			out = append(out, '\\', 'x', hexDigits[c>>4], hexDigits[c&0x0f])
			continue
		}
		escapeNextIfHex = false

		switch c {
		case 0:
			out = append(out, '\\', '0')
			escapeNextIfHex = true
		case '\\', '"':
			out = append(out, '\\', c)
		case 0x07:
			out = append(out, '\\', 'a')
		case 0x08:
			out = append(out, '\\', 'b')
		case 0x0c:
			out = append(out, '\\', 'f')
		case 0x0a:
			out = append(out, '\\', 'n')
		case 0x0d:
			out = append(out, '\\', 'r')
		case 0x09:
			out = append(out, '\\', 't')
		case 0x0b:
			out = append(out, '\\', 'v')
		default:
			if c <= 0x1f || c >= 0x7f {
				if c < 0x10 {
					out = append(out, '\\', 'x', hexDigits[c])
				} else {
					out = append(out, '\\', 'x', hexDigits[c>>4], hexDigits[c&0x0f])
				}
				escapeNextIfHex = true
			} else {
				out = append(out, c)
			}
		}
	}

	return out
}

// parseHex reads up to two hex digits
func parseHex(b []byte) (byte, int) {
	var value byte
	n := 0
	for n < len(b) && n < 2 && isHexDigit(b[n]) {
		value = value<<4 | hexValue(b[n])
		n++
	}
	return value, n
}

// parseOctal reads one to three octal digits, b[0] is known to be octal
func parseOctal(b []byte) (byte, int) {
	var value int
	n := 0
	for n < len(b) && n < 3 && b[n] >= '0' && b[n] <= '7' {
		next := value<<3 | int(b[n]-'0')
		if next > 0xff {
			break
		}
		value = next
		n++
	}
	return byte(value), n
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
