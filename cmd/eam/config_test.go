package main

import "testing"

func TestSplitGroupKey(t *testing.T) {
	group, key, err := splitGroupKey("Directories.CacheDir")
	if err != nil {
		t.Fatal(err)
	}
	if group != "Directories" || key != "CacheDir" {
		t.Errorf("got (%q, %q)", group, key)
	}

	if _, _, err := splitGroupKey("nogroupkey"); err == nil {
		t.Error("expected error for a key without a dot")
	}
}
