package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count is negative")
	}
	return nil
}

func TestLoadOptionalMissingKeepsDefaults(t *testing.T) {
	s := &sample{Name: "default", Count: 1}
	read, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), s)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if read {
		t.Error("missing file reported as read")
	}
	if s.Name != "default" || s.Count != 1 {
		t.Errorf("target changed: %+v", s)
	}
}

func TestLoadOptionalOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("count: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := &sample{Name: "default"}
	read, err := LoadOptional(path, s)
	if err != nil || !read {
		t.Fatalf("LoadOptional = %v, %v", read, err)
	}
	if s.Name != "default" || s.Count != 5 {
		t.Errorf("target = %+v", s)
	}
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	_ = os.WriteFile(path, []byte("count: -1\n"), 0o644)
	if err := Load(path, &sample{}); err == nil {
		t.Error("invalid config accepted")
	}
}
