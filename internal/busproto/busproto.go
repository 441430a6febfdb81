// Package busproto defines the wire-level constants and helpers shared by
// the daemon and its remote-transaction objects: the bus name, object
// paths, interface names, and the tagged error domain.
package busproto

import "github.com/godbus/dbus/v5"

const (
	// BusName is the well-known name the daemon owns on the system bus.
	BusName = "com.endlessm.AppManager"

	// RootObjectPath is the root object implementing BusName's main interface.
	RootObjectPath = "/com/endlessm/AppManager"

	// RootInterface is the interface exposing Install/Update/Uninstall/GetUserCapabilities.
	RootInterface = "com.endlessm.AppManager"

	// TransactionInterface is the interface exposed by each RemoteTxn object.
	TransactionInterface = "com.endlessm.AppManager.Transaction"

	// TransactionsSubpath is where per-client transaction objects are registered.
	TransactionsSubpath = "/com/endlessm/AppManager/Transactions"
)

// ErrorTag is one of the bus error domain codes from the spec's error
// taxonomy. It is also used internally to classify a failure before it
// reaches the bus.
type ErrorTag string

// The bus error domain, com.endlessm.AppManager.Error.*.
const (
	ErrFailed             ErrorTag = "Failed"
	ErrProtocolError      ErrorTag = "ProtocolError"
	ErrInvalidFile        ErrorTag = "InvalidFile"
	ErrNoNetwork          ErrorTag = "NoNetwork"
	ErrUnknownPackage     ErrorTag = "UnknownPackage"
	ErrUnimplemented      ErrorTag = "Unimplemented"
	ErrAuthorization      ErrorTag = "Authorization"
	ErrNotAuthorized      ErrorTag = "NotAuthorized"
	ErrNotEnoughDiskSpace ErrorTag = "NotEnoughDiskSpace"
	ErrCancelled          ErrorTag = "Cancelled"
)

// BusErrorName returns the fully-qualified D-Bus error name for a tag, e.g.
// "com.endlessm.AppManager.Error.InvalidFile".
func (t ErrorTag) BusErrorName() string {
	return "com.endlessm.AppManager.Error." + string(t)
}

// Error wraps a cause with the tag used to classify it on the bus.
type Error struct {
	Tag   ErrorTag
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Tag)
	}
	return string(e.Tag) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Tag returns err's ErrorTag if it is (or wraps) a *Error, else ErrFailed.
func Tag(err error) ErrorTag {
	if err == nil {
		return ""
	}
	var tagged *Error
	for u := err; u != nil; {
		if t, ok := u.(*Error); ok {
			tagged = t
			break
		}
		unwrapper, ok := u.(interface{ Unwrap() error })
		if !ok {
			break
		}
		u = unwrapper.Unwrap()
	}
	if tagged != nil {
		return tagged.Tag
	}
	return ErrFailed
}

// NewError builds a tagged Error.
func NewError(tag ErrorTag, cause error) *Error {
	return &Error{Tag: tag, Cause: cause}
}

// ToDBusError converts a tagged error into a *dbus.Error suitable for a
// method reply, carrying the cause's message as the sole argument.
func ToDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	tag := Tag(err)
	return dbus.NewError(tag.BusErrorName(), []interface{}{err.Error()})
}

// OptsGetString extracts a string-valued key from a method call's a{sv}
// options map, returning "" if absent or not a string.
func OptsGetString(opts map[string]dbus.Variant, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.Value().(string)
	if !ok {
		return ""
	}
	return s
}

// OptsGetBool extracts a bool-valued key from a method call's a{sv} options
// map, returning false if absent or not a bool.
func OptsGetBool(opts map[string]dbus.Variant, key string) bool {
	v, ok := opts[key]
	if !ok {
		return false
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false
	}
	return b
}
