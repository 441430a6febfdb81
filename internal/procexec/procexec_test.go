package procexec

import (
	"context"
	"strings"
	"testing"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), nil, "true")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunCapturesOutputOnFailure(t *testing.T) {
	res, err := Run(context.Background(), nil, "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected a non-nil error for a non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, "boom") {
		t.Errorf("Output = %q, want it to contain %q", res.Output, "boom")
	}
}

func TestRunEnvIsMinimal(t *testing.T) {
	t.Setenv("EAM_TEST_SECRET", "should-not-leak")
	res, err := Run(context.Background(), nil, "sh", "-c", "echo \"[$EAM_TEST_SECRET]\"")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.Output, "should-not-leak") {
		t.Errorf("child process inherited an unrelated env var: %q", res.Output)
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, nil, "sleep", "1"); err == nil {
		t.Fatal("expected an error when the context is already cancelled")
	}
}
