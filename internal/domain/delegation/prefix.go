package delegation

// CommonPrefixLen returns the number of leading bytes a and b share.
func CommonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// PrefixMatch reports whether two session ids are close enough to be the same
// logical unit of work: they must share at least minPrefix leading bytes.
// Identical ids always match.
func PrefixMatch(a, b string, minPrefix int) bool {
	if a == b {
		return a != ""
	}
	return CommonPrefixLen(a, b) >= minPrefix
}
