package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file is not an error: %v", err)
	}
	def := Default()
	if cfg.Backend != def.Backend || cfg.Registers != def.Registers || cfg.GC != def.GC {
		t.Fatalf("defaults not returned: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vasari.toml")
	body := []byte("backend = \"vulkan\"\n\n[registers]\nmax_uniform_buffers = 8\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend != "vulkan" {
		t.Errorf("backend = %q, want vulkan", cfg.Backend)
	}
	if cfg.Registers.MaxUniformBuffers != 8 {
		t.Errorf("max_uniform_buffers = %d, want 8", cfg.Registers.MaxUniformBuffers)
	}
	// Untouched sections keep their defaults.
	if cfg.Heaps != Default().Heaps {
		t.Errorf("heaps changed: %+v", cfg.Heaps)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vasari.toml")
	if err := os.WriteFile(path, []byte("backend = [not toml"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed file did not error")
	}
}
