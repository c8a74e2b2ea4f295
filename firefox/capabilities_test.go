package firefox

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSetProfile(t *testing.T) {
	profileDir := t.TempDir()
	userJS := `user_pref("browser.startup.homepage", "about:blank");`
	if err := os.WriteFile(filepath.Join(profileDir, "user.js"), []byte(userJS), 0o644); err != nil {
		t.Fatal(err)
	}

	caps := Capabilities{}
	if err := caps.SetProfile(profileDir); err != nil {
		t.Fatalf("SetProfile returned error: %v", err)
	}
	if caps.Profile == "" {
		t.Fatal("Profile is empty after SetProfile")
	}

	// The profile must decode back into a zip holding user.js.
	raw, err := base64.StdEncoding.DecodeString(caps.Profile)
	if err != nil {
		t.Fatalf("Profile is not valid base64: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Profile is not a valid zip: %v", err)
	}

	var found bool
	for _, f := range zr.File {
		if filepath.Base(f.Name) != "user.js" {
			continue
		}
		found = true
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(content) != userJS {
			t.Errorf("user.js content = %q, want %q", content, userJS)
		}
	}
	if !found {
		t.Error("zipped profile does not contain user.js")
	}
}

func TestSetProfileMissingDirectory(t *testing.T) {
	caps := Capabilities{}
	if err := caps.SetProfile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("SetProfile on a missing directory succeeded, want error")
	}
}
