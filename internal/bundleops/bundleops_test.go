package bundleops

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/endlessm/eam/internal/cancel"
	"github.com/endlessm/eam/internal/manifest"
	"github.com/endlessm/eam/pkg/appid"
)

func TestFetchExternalAssetHappyPath(t *testing.T) {
	body := []byte("asset contents")
	sum := sha256.Sum256(body)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	root := t.TempDir()
	cacheAppDir := filepath.Join(root, "com.endlessm.Foo")
	if err := os.MkdirAll(cacheAppDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(cacheAppDir, ".script.install")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	o := New(DefaultConfig(), nil)
	asset := &manifest.ExternalAsset{
		URL:      srv.URL,
		Filename: "asset.bin",
		SHA256:   hex.EncodeToString(sum[:]),
	}
	tok := cancel.New(context.Background())

	err := o.FetchExternalAsset(context.Background(), tok, cacheAppDir, appid.AppID("com.endlessm.Foo"), asset)
	if err != nil {
		t.Fatalf("FetchExternalAsset: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cacheAppDir, "external")); !os.IsNotExist(err) {
		t.Error("external/ directory should be removed after success")
	}
}

func TestFetchExternalAssetChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wrong contents"))
	}))
	defer srv.Close()

	root := t.TempDir()
	cacheAppDir := filepath.Join(root, "com.endlessm.Foo")
	os.MkdirAll(cacheAppDir, 0o755)

	o := New(DefaultConfig(), nil)
	asset := &manifest.ExternalAsset{URL: srv.URL, Filename: "asset.bin", SHA256: "deadbeef"}
	tok := cancel.New(context.Background())

	err := o.FetchExternalAsset(context.Background(), tok, cacheAppDir, appid.AppID("com.endlessm.Foo"), asset)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if _, err := os.Stat(filepath.Join(cacheAppDir, "external")); !os.IsNotExist(err) {
		t.Error("external/ directory should be removed even on failure")
	}
}

func TestFetchExternalAssetCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset contents"))
	}))
	defer srv.Close()

	root := t.TempDir()
	cacheAppDir := filepath.Join(root, "com.endlessm.Foo")
	os.MkdirAll(cacheAppDir, 0o755)

	o := New(DefaultConfig(), nil)
	asset := &manifest.ExternalAsset{URL: srv.URL, Filename: "asset.bin", SHA256: "deadbeef"}
	tok := cancel.New(context.Background())
	tok.Cancel()

	err := o.FetchExternalAsset(context.Background(), tok, cacheAppDir, appid.AppID("com.endlessm.Foo"), asset)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestExtractArchiveRejectsMissingManifest(t *testing.T) {
	root := t.TempDir()
	bundlePath := filepath.Join(root, "empty.tar")
	writeEmptyTar(t, bundlePath)

	o := New(DefaultConfig(), nil)
	tok := cancel.New(context.Background())
	_, err := o.ExtractArchive(tok, bundlePath, filepath.Join(root, "dest"), appid.AppID("com.endlessm.Foo"))
	if err == nil {
		t.Fatal("expected error for bundle missing .info")
	}
}

// TestExtractArchivePreservesNestedPaths guards against entryName
// falling back to archiver.File.Name(), which for zip entries returns
// only the basename and would flatten this layout into destDir.
func TestExtractArchivePreservesNestedPaths(t *testing.T) {
	root := t.TempDir()
	bundlePath := filepath.Join(root, "bundle.zip")
	writeZipWithNestedEntry(t, bundlePath, "share/applications/foo.desktop", "[Desktop Entry]\n")

	o := New(DefaultConfig(), nil)
	tok := cancel.New(context.Background())
	destDir := filepath.Join(root, "dest")
	m, err := o.ExtractArchive(tok, bundlePath, destDir, appid.AppID("com.endlessm.Foo"))
	if err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if m.AppID.String() != "com.endlessm.Foo" {
		t.Errorf("AppID = %q, want com.endlessm.Foo", m.AppID.String())
	}

	want := filepath.Join(destDir, "share", "applications", "foo.desktop")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected nested path %s to exist: %v", want, err)
	}
	flattened := filepath.Join(destDir, "foo.desktop")
	if _, err := os.Stat(flattened); !os.IsNotExist(err) {
		t.Errorf("entry was flattened to %s instead of preserving its directory", flattened)
	}
}

func writeZipWithNestedEntry(t *testing.T, path, entryName, entryContents string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(entryName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(entryContents)); err != nil {
		t.Fatal(err)
	}
	info, err := zw.Create(".info")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := info.Write([]byte("[Bundle]\napp_id = com.endlessm.Foo\nversion = 1.0\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeEmptyTar(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	// A minimal valid (empty) tar stream is two 512-byte zero blocks.
	zero := make([]byte, 1024)
	if _, err := f.Write(zero); err != nil {
		t.Fatal(err)
	}
}
