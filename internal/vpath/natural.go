package vpath

import (
	"sort"
	"strings"
)

func sortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})
}

// naturalLess orders case-insensitively with digit runs compared as numbers,
// so "page2" sorts before "page10".
func naturalLess(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for la != "" && lb != "" {
		ca, cb := chunk(la), chunk(lb)
		if ca != cb {
			na, aNum := numeric(ca)
			nb, bNum := numeric(cb)
			if aNum && bNum {
				if na != nb {
					return na < nb
				}
			} else {
				return ca < cb
			}
		}
		la, lb = la[len(ca):], lb[len(cb):]
	}
	if len(la) != len(lb) {
		return len(la) < len(lb)
	}
	return a < b
}

// chunk returns the leading run of digits or non-digits.
func chunk(s string) string {
	isDigit := s[0] >= '0' && s[0] <= '9'
	for i := 1; i < len(s); i++ {
		if (s[i] >= '0' && s[i] <= '9') != isDigit {
			return s[:i]
		}
	}
	return s
}

func numeric(s string) (int64, bool) {
	var n int64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int64(s[i]-'0')
		if n > 1<<52 {
			return n, true
		}
	}
	return n, true
}
