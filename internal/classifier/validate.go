package classifier

// validators are post-match gates referenced by name from the registry YAML.
// They cover checks RE2 cannot express (no look-ahead) and checksums.
var validators = map[string]func(string) bool{
	"us_ssn": validSSN,
	"luhn":   func(s string) bool { return luhnValid(stripNonDigits(s)) },
}

// validSSN rejects numbers the SSA never issues: area 000, 666 or 9xx,
// group 00 and serial 0000.
func validSSN(match string) bool {
	digits := stripNonDigits(match)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// luhnValid checks whether a digit string passes the Luhn algorithm (ISO/IEC 7812).
func luhnValid(number string) bool {
	n := len(number)
	if n < 2 {
		return false
	}
	sum := 0
	alt := false
	for i := n - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// stripNonDigits removes all non-digit characters from s.
func stripNonDigits(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b = append(b, s[i])
		}
	}
	return string(b)
}
