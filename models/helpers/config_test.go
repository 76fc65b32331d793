package helpers

import (
	"os"
	"path/filepath"
	"testing"
)

type testSettings struct {
	Bind     string `toml:"bind"`
	LogLevel int    `toml:"log-level"`
}

func writeConfig(t *testing.T, content string) *FilePath {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candiag.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return NewFilePath(path)
}

func TestLoadConfiguration(t *testing.T) {
	file := writeConfig(t, "bind = \":5000\"\nlog-level = 3\n")

	var settings testSettings
	if err := LoadConfiguration(file, &settings); err != nil {
		t.Fatal(err)
	}
	if settings.Bind != ":5000" || settings.LogLevel != 3 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
}

func TestLoadConfigurationRejectsUnknownKeys(t *testing.T) {
	file := writeConfig(t, "bind = \":5000\"\nbogus = true\n")

	var settings testSettings
	if err := LoadConfiguration(file, &settings); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	var settings testSettings
	if err := LoadConfiguration(NewFilePath("/does/not/exist"), &settings); err != FileNotFound {
		t.Fatalf("got %v, want FileNotFound", err)
	}
}

func TestFilePath(t *testing.T) {
	var fp FilePath
	if !fp.IsNull() {
		t.Error("zero FilePath not null")
	}
	fp.Set("/tmp/x")
	if fp.IsNull() || fp.String() != "/tmp/x" {
		t.Error("Set did not take")
	}
}
