package parse

import (
	"regexp"
	"strings"
)

var (
	unitNumberRe = regexp.MustCompile(`\s+\d+$`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// ItemName strips the trailing unit number from a catalogued item key,
// so "Canon EOS R 3" becomes "Canon EOS R".
func ItemName(raw string) string {
	s := strings.TrimSpace(raw)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(unitNumberRe.ReplaceAllString(s, ""))
}

// CompareNatural orders strings the way people read catalogue numbers:
// digit runs compare by value, so "CAM 2" sorts before "CAM 10".
// It returns -1, 0 or +1.
func CompareNatural(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			sj := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			na := strings.TrimLeft(a[si:i], "0")
			nb := strings.TrimLeft(b[sj:j], "0")
			if len(na) != len(nb) {
				if len(na) < len(nb) {
					return -1
				}
				return 1
			}
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			// equal value; fewer leading zeros first
			if i-si != j-sj {
				if i-si < j-sj {
					return -1
				}
				return 1
			}
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
