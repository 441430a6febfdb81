// Package auth implements the C5 component: the uid/gid short-circuit
// and the polkit-backed policy oracle described in spec.md §4.5, grounded
// on eam-service.c's three EamAuthAction constants and polkit's
// allow/challenge/deny outcome set.
package auth

import (
	"context"
	"os/user"
	"strconv"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/busproto"
)

// Action names, grounded on eam-service.c's EamAuthAction table.
const (
	ActionInstall   = "com.endlessm.app-installer.install-application"
	ActionUninstall = "com.endlessm.app-installer.uninstall-application"
	ActionUpdate    = "com.endlessm.app-installer.update-application"
)

// Result is a policy oracle's verdict.
type Result int

const (
	Denied Result = iota
	Challenge
	Allowed
)

// Oracle is consulted for each privileged action once the uid/gid
// short-circuit does not apply.
type Oracle interface {
	Check(ctx context.Context, uid uint32, action, prompt string) (Result, error)
}

// Capabilities mirrors GetUserCapabilities' {CanInstall, CanUninstall}
// reply shape; Update shares CanInstall's verdict per spec.md §4.5 (the
// bus interface exposes no separate CanUpdate key).
type Capabilities struct {
	CanInstall   bool
	CanUninstall bool
}

// Authorizer ties the short-circuit and the Oracle together.
type Authorizer struct {
	AdminGroup  string // e.g. "wheel" or "sudo", supplied at build time
	AppManagerUser string
	Oracle      Oracle
}

// IsPrivileged reports whether uid is root, the dedicated app-manager
// user, or a member of AdminGroup — the short-circuit that grants every
// capability without consulting the oracle.
func (a *Authorizer) IsPrivileged(uid uint32) bool {
	if uid == 0 {
		return true
	}
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	if a.AppManagerUser != "" && u.Username == a.AppManagerUser {
		return true
	}
	if a.AdminGroup == "" {
		return false
	}
	group, err := user.LookupGroup(a.AdminGroup)
	if err != nil {
		return false
	}
	gids, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, gid := range gids {
		if gid == group.Gid {
			return true
		}
	}
	return false
}

// Authorize enforces spec.md §4.5 for a concrete action: privileged
// callers are always allowed; otherwise the oracle must return Allowed
// (Challenge is not sufficient for the action itself, only for
// capability advertisement).
func (a *Authorizer) Authorize(ctx context.Context, uid uint32, action, prompt string) error {
	if a.IsPrivileged(uid) {
		return nil
	}
	if a.Oracle == nil {
		return busproto.NewError(busproto.ErrAuthorization, errors.New("no policy oracle configured"))
	}
	result, err := a.Oracle.Check(ctx, uid, action, prompt)
	if err != nil {
		return busproto.NewError(busproto.ErrAuthorization, err)
	}
	if result != Allowed {
		return busproto.NewError(busproto.ErrNotAuthorized, errors.Errorf("uid %d denied for %s", uid, action))
	}
	return nil
}

// Capabilities reports what uid may do, treating Challenge as a yes for
// advertisement purposes only (never for Authorize).
func (a *Authorizer) Capabilities(ctx context.Context, uid uint32) Capabilities {
	if a.IsPrivileged(uid) {
		return Capabilities{CanInstall: true, CanUninstall: true}
	}
	if a.Oracle == nil {
		return Capabilities{}
	}
	canInstall, _ := a.probe(ctx, uid, ActionInstall)
	canUninstall, _ := a.probe(ctx, uid, ActionUninstall)
	return Capabilities{CanInstall: canInstall, CanUninstall: canUninstall}
}

func (a *Authorizer) probe(ctx context.Context, uid uint32, action string) (bool, error) {
	result, err := a.Oracle.Check(ctx, uid, action, "")
	if err != nil {
		return false, err
	}
	return result == Allowed || result == Challenge, nil
}

// PolkitOracle is the production Oracle: a thin client of
// org.freedesktop.PolicyKit1.Authority's CheckAuthorization method over
// the same system bus connection RemoteTxn/Daemon already hold.
type PolkitOracle struct {
	Conn *dbus.Conn
}

const (
	polkitBusName    = "org.freedesktop.PolicyKit1"
	polkitObjectPath = "/org/freedesktop/PolicyKit1/Authority"
	polkitInterface  = "org.freedesktop.PolicyKit1.Authority"
)

// subject is the (kind, details) pair polkit calls a "Subject", here
// always a "unix-user" keyed by uid (system-bus-name subjects require
// the caller's bus unique name, which callers of this package do not
// carry through; uid-based "unix-user" is the simpler, equally valid
// subject kind for a daemon that already trusts GetConnectionUnixUser).
func subject(uid uint32) (string, map[string]dbus.Variant) {
	return "unix-user", map[string]dbus.Variant{"uid": dbus.MakeVariant(uid)}
}

func (o *PolkitOracle) Check(ctx context.Context, uid uint32, action, prompt string) (Result, error) {
	kind, details := subject(uid)
	subjectStruct := struct {
		Kind    string
		Details map[string]dbus.Variant
	}{kind, details}

	details2 := map[string]string{}
	if prompt != "" {
		details2["polkit.message"] = prompt
	}

	obj := o.Conn.Object(polkitBusName, dbus.ObjectPath(polkitObjectPath))
	call := obj.CallWithContext(ctx, polkitInterface+".CheckAuthorization", 0,
		subjectStruct, action, details2, uint32(1) /* AllowUserInteraction */, "")

	var result struct {
		IsAuthorized bool
		IsChallenge  bool
		Details      map[string]string
	}
	if err := call.Store(&result.IsAuthorized, &result.IsChallenge, &result.Details); err != nil {
		return Denied, errors.Wrap(err, "polkit CheckAuthorization")
	}
	switch {
	case result.IsAuthorized:
		return Allowed, nil
	case result.IsChallenge:
		return Challenge, nil
	default:
		return Denied, nil
	}
}
