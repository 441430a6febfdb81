package fslayout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/endlessm/eam/pkg/appid"
)

func writeApp(t *testing.T, prefix, id string) string {
	t.Helper()
	dir := filepath.Join(prefix, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	info := "[Bundle]\napp_id = " + id + "\nversion = 1.0\n"
	if err := os.WriteFile(filepath.Join(dir, ".info"), []byte(info), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSanityCheckCreatesFarm(t *testing.T) {
	root := t.TempDir()
	appsDir := filepath.Join(root, "endless")
	f := New(appsDir, nil)

	// Avoid the /var-backing branch in this test: pre-create appsDir as
	// a real directory rather than exercising the symlink path.
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := f.SanityCheck(); err != nil {
		t.Fatalf("SanityCheck: %v", err)
	}
	for _, sub := range FarmDirs {
		if info, err := os.Stat(filepath.Join(appsDir, sub)); err != nil || !info.IsDir() {
			t.Errorf("farm dir %s missing", sub)
		}
	}
}

func TestIsAppDir(t *testing.T) {
	root := t.TempDir()
	f := New(filepath.Join(root, "endless"), nil)
	dir := writeApp(t, root, "com.endlessm.Foo")

	if !f.IsAppDir(dir) {
		t.Error("expected IsAppDir true")
	}

	mismatch := filepath.Join(root, "com.endlessm.Bar")
	if err := os.MkdirAll(mismatch, 0o755); err != nil {
		t.Fatal(err)
	}
	if f.IsAppDir(mismatch) {
		t.Error("expected IsAppDir false for directory without matching .info")
	}
}

func TestDeployAppSameFilesystem(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "cache")
	dst := filepath.Join(root, "endless")
	writeApp(t, src, "com.endlessm.Foo")

	f := New(filepath.Join(root, "appsdir"), nil)
	if err := f.DeployApp(src, dst, appid.AppID("com.endlessm.Foo")); err != nil {
		t.Fatalf("DeployApp: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "com.endlessm.Foo", ".info")); err != nil {
		t.Errorf(".info missing after deploy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(src, "com.endlessm.Foo")); !os.IsNotExist(err) {
		t.Error("source should no longer exist after rename-deploy")
	}
}

func TestBackupAndRestoreApp(t *testing.T) {
	root := t.TempDir()
	prefix := filepath.Join(root, "endless")
	dir := writeApp(t, prefix, "com.endlessm.Foo")
	if err := os.WriteFile(filepath.Join(dir, "payload.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(filepath.Join(root, "appsdir"), nil)
	backup, err := f.BackupApp(prefix, appid.AppID("com.endlessm.Foo"))
	if err != nil {
		t.Fatalf("BackupApp: %v", err)
	}
	if _, err := os.Stat(filepath.Join(prefix, "com.endlessm.Foo")); !os.IsNotExist(err) {
		t.Error("app dir should be gone after backup")
	}

	if err := f.RestoreApp(prefix, appid.AppID("com.endlessm.Foo"), backup); err != nil {
		t.Fatalf("RestoreApp: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(prefix, "com.endlessm.Foo", "payload.txt"))
	if err != nil || string(data) != "v1" {
		t.Errorf("payload not restored correctly: %v %q", err, data)
	}
}

func TestPruneDir(t *testing.T) {
	root := t.TempDir()
	prefix := filepath.Join(root, "endless")
	writeApp(t, prefix, "com.endlessm.Foo")

	f := New(filepath.Join(root, "appsdir"), nil)
	if err := f.PruneDir(prefix, appid.AppID("com.endlessm.Foo")); err != nil {
		t.Fatalf("PruneDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(prefix, "com.endlessm.Foo")); !os.IsNotExist(err) {
		t.Error("expected app dir to be gone")
	}
}

func TestCreateAndPruneSymlinks(t *testing.T) {
	root := t.TempDir()
	prefix := filepath.Join(root, "endless")
	appDir := writeApp(t, prefix, "com.endlessm.Foo")

	appsDir := filepath.Join(root, "appsdir")
	binDir := filepath.Join(appDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "foo-run"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	f := New(appsDir, nil)
	if err := f.CreateSymlinks(prefix, appid.AppID("com.endlessm.Foo")); err != nil {
		t.Fatalf("CreateSymlinks: %v", err)
	}

	link := filepath.Join(appsDir, "bin", "foo-run")
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		t.Fatalf("expected symlink at %s: %v", link, err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(binDir, "foo-run"))
	if resolved != want {
		t.Errorf("symlink resolves to %s, want %s", resolved, want)
	}

	if err := f.PruneSymlinks(prefix, appid.AppID("com.endlessm.Foo")); err != nil {
		t.Fatalf("PruneSymlinks: %v", err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Error("expected symlink removed after PruneSymlinks")
	}
}

func TestCreateSymlinksDoesNotClobberOtherApp(t *testing.T) {
	root := t.TempDir()
	prefix := filepath.Join(root, "endless")
	fooDir := writeApp(t, prefix, "com.endlessm.Foo")
	barDir := writeApp(t, prefix, "com.endlessm.Bar")

	for _, d := range []string{fooDir, barDir} {
		bin := filepath.Join(d, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(bin, "run"), []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	appsDir := filepath.Join(root, "appsdir")
	f := New(appsDir, nil)
	if err := f.CreateSymlinks(prefix, appid.AppID("com.endlessm.Foo")); err != nil {
		t.Fatalf("CreateSymlinks(Foo): %v", err)
	}
	if err := f.CreateSymlinks(prefix, appid.AppID("com.endlessm.Bar")); err != nil {
		t.Fatalf("CreateSymlinks(Bar): %v", err)
	}

	link := filepath.Join(appsDir, "bin", "run")
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(fooDir, "bin", "run"))
	if resolved != want {
		t.Error("Bar's CreateSymlinks must not clobber Foo's existing link")
	}
}

func TestResolveInstalledPrefix(t *testing.T) {
	root := t.TempDir()
	primary := filepath.Join(root, "primary")
	secondary := filepath.Join(root, "secondary")
	writeApp(t, secondary, "com.endlessm.Foo")

	f := New(filepath.Join(root, "appsdir"), nil)
	prefix, err := f.ResolveInstalledPrefix(appid.AppID("com.endlessm.Foo"), primary, secondary)
	if err != nil {
		t.Fatalf("ResolveInstalledPrefix: %v", err)
	}
	if prefix != secondary {
		t.Errorf("prefix = %q, want %q", prefix, secondary)
	}

	if _, err := f.ResolveInstalledPrefix(appid.AppID("com.endlessm.Missing"), primary, secondary); err == nil {
		t.Error("expected ErrNotInstalled")
	}
}
