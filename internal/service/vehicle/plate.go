package vehicle

import (
	"strings"
)

// SanitizePlate keeps ASCII letters and digits as typed.
// changed reports whether anything was dropped; the UI then shows validate.InvalidPlateMessage.
func SanitizePlate(raw string) (plate string, changed bool) {
	var b strings.Builder
	b.Grow(len(raw))

	for _, r := range raw {
		if isAlnum(r) {
			b.WriteRune(r)
		}
	}

	plate = b.String()
	return plate, plate != raw
}

// NormalizePlate is the registry form of the plate: alphanumeric, upper case
func NormalizePlate(raw string) string {
	plate, _ := SanitizePlate(raw)
	return strings.ToUpper(plate)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
