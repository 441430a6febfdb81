// Package appid validates and carries the opaque application identifier
// used throughout the manager as a directory basename.
package appid

import (
	"regexp"

	"github.com/pkg/errors"
)

// AppID is a validated application identifier: reverse-DNS style,
// dot-separated, alphanumeric plus '-' and '_'.
type AppID string

// legalPattern: one or more dot-separated segments, each starting with
// a letter and otherwise holding letters, digits, '-' or '_'.
var legalPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)+$`)

// ErrInvalid is returned by Parse when a string does not meet the legal
// identifier rule.
var ErrInvalid = errors.New("app id is not a legal identifier")

// Parse validates s as an AppID. It never mutates case: app ids are
// case-sensitive directory basenames.
func Parse(s string) (AppID, error) {
	if !legalPattern.MatchString(s) {
		return "", errors.Wrapf(ErrInvalid, "%q", s)
	}
	return AppID(s), nil
}

// IsLegal reports whether s would be accepted by Parse.
func IsLegal(s string) bool {
	return legalPattern.MatchString(s)
}

// String implements fmt.Stringer.
func (a AppID) String() string {
	return string(a)
}
