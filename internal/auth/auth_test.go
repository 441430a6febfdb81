package auth

import (
	"context"
	"os/user"
	"strconv"
	"testing"
)

type fakeOracle struct {
	result Result
	err    error
}

func (f *fakeOracle) Check(ctx context.Context, uid uint32, action, prompt string) (Result, error) {
	return f.result, f.err
}

func currentUID(t *testing.T) uint32 {
	t.Helper()
	u, err := user.Current()
	if err != nil {
		t.Skip("no current user available in this environment")
	}
	n, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		t.Skip("uid is not numeric")
	}
	return uint32(n)
}

func TestIsPrivilegedRoot(t *testing.T) {
	a := &Authorizer{}
	if !a.IsPrivileged(0) {
		t.Error("uid 0 must always be privileged")
	}
}

func TestAuthorizeDeniedWithoutOracle(t *testing.T) {
	a := &Authorizer{}
	uid := currentUID(t)
	if uid == 0 {
		t.Skip("test must not run as root")
	}
	err := a.Authorize(context.Background(), uid, ActionInstall, "")
	if err == nil {
		t.Fatal("expected authorization error with no oracle configured")
	}
}

func TestAuthorizeOracleAllowed(t *testing.T) {
	uid := currentUID(t)
	if uid == 0 {
		t.Skip("test must not run as root")
	}
	a := &Authorizer{Oracle: &fakeOracle{result: Allowed}}
	if err := a.Authorize(context.Background(), uid, ActionInstall, ""); err != nil {
		t.Errorf("expected allowed, got %v", err)
	}
}

func TestAuthorizeOracleChallengeIsNotEnough(t *testing.T) {
	uid := currentUID(t)
	if uid == 0 {
		t.Skip("test must not run as root")
	}
	a := &Authorizer{Oracle: &fakeOracle{result: Challenge}}
	if err := a.Authorize(context.Background(), uid, ActionInstall, ""); err == nil {
		t.Error("challenge must not authorize the action itself")
	}
}

func TestCapabilitiesTreatsChallengeAsYes(t *testing.T) {
	uid := currentUID(t)
	if uid == 0 {
		t.Skip("test must not run as root")
	}
	a := &Authorizer{Oracle: &fakeOracle{result: Challenge}}
	caps := a.Capabilities(context.Background(), uid)
	if !caps.CanInstall || !caps.CanUninstall {
		t.Errorf("capabilities should treat Challenge as advertisable: %+v", caps)
	}
}

func TestCapabilitiesPrivilegedAlwaysTrue(t *testing.T) {
	a := &Authorizer{}
	caps := a.Capabilities(context.Background(), 0)
	if !caps.CanInstall || !caps.CanUninstall {
		t.Errorf("root should have all capabilities: %+v", caps)
	}
}
