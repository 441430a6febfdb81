// Package version implements the Debian-style (epoch, upstream, revision)
// version triple and its comparison order, used to decide whether a bundle
// is an upgrade over what is installed.
package version

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is an (epoch, upstream, revision) triple, as carried by a
// bundle manifest's Bundle.version key.
type Version struct {
	Epoch    uint32
	Upstream string
	Revision string // "" means absent
}

// ErrInvalid is returned by Parse for a malformed version string.
var ErrInvalid = errors.New("invalid version string")

// Parse parses a string of the form "[epoch:]upstream[-revision]".
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, errors.Wrap(ErrInvalid, "empty version string")
	}
	if strings.ContainsAny(s, " \t\n") {
		return Version{}, errors.Wrap(ErrInvalid, "embedded whitespace")
	}

	var v Version
	rest := s
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		epochStr := s[:idx]
		epoch, err := strconv.ParseUint(epochStr, 10, 32)
		if err != nil {
			return Version{}, errors.Wrapf(ErrInvalid, "epoch %q is not a number", epochStr)
		}
		rest = s[idx+1:]
		if rest == "" {
			return Version{}, errors.Wrap(ErrInvalid, "nothing after epoch colon")
		}
		v.Epoch = uint32(epoch)
	}

	upstream := rest
	revision := ""
	if idx := strings.LastIndexByte(rest, '-'); idx >= 0 {
		upstream = rest[:idx]
		revision = rest[idx+1:]
	}

	if upstream == "" || !isDigit(upstream[0]) {
		return Version{}, errors.Wrapf(ErrInvalid, "upstream version %q must start with a digit", upstream)
	}
	for i := 0; i < len(upstream); i++ {
		c := upstream[i]
		if !isDigit(c) && !isAlpha(c) && strings.IndexByte(".-+~:", c) < 0 {
			return Version{}, errors.Wrapf(ErrInvalid, "invalid character %q in upstream version", c)
		}
	}
	for i := 0; i < len(revision); i++ {
		c := revision[i]
		if !isDigit(c) && !isAlpha(c) && strings.IndexByte(".+~", c) < 0 {
			return Version{}, errors.Wrapf(ErrInvalid, "invalid character %q in revision", c)
		}
	}

	v.Upstream = upstream
	v.Revision = revision
	return v, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// Compare returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func Compare(a, b Version) int {
	if a.Epoch != b.Epoch {
		if a.Epoch < b.Epoch {
			return -1
		}
		return 1
	}
	if c := compareSegment(a.Upstream, b.Upstream); c != 0 {
		return c
	}
	return compareSegment(a.Revision, b.Revision)
}

// order assigns dpkg's per-character weight: '~' sorts before everything,
// including the empty string; digits all compare equal here (they're
// handled separately as numeric runs); letters sort by themselves; any
// other byte sorts after all letters.
func order(c byte) int {
	switch {
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	case c == '~':
		return -1
	case c == 0:
		return 0
	default:
		return int(c) + 256
	}
}

func byteAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

// compareSegment implements dpkg's verrevcmp: interleaved non-digit and
// digit runs, non-digit runs compared byte-by-byte via order(), digit runs
// compared as unsigned integers (leading zeros stripped).
func compareSegment(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		firstDiff := 0

		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac := order(byteAt(a, i))
			bc := order(byteAt(b, j))
			if ac != bc {
				return sign(ac - bc)
			}
			if i < len(a) {
				i++
			}
			if j < len(b) {
				j++
			}
		}

		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}

		for i < len(a) && j < len(b) && isDigit(a[i]) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}

		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			return sign(firstDiff)
		}
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// String renders the version back to "[epoch:]upstream[-revision]" form.
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch != 0 {
		b.WriteString(strconv.FormatUint(uint64(v.Epoch), 10))
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.Revision != "" {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}
