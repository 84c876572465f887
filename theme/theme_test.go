package theme

import (
	"os"
	"path/filepath"
	"testing"
)

const gpl = `GIMP Palette
Name: test
Columns: 2
# comment
  0   0   0	black
255 255 255	white
`

func TestLoadGPL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.gpl")
	if err := os.WriteFile(path, []byte(gpl), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadGPL(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "test" || len(p.Colors) != 2 {
		t.Fatalf("palette = %+v", p)
	}
	if got := p.Lookup(0.5); got != (RGB{127, 127, 127}) {
		t.Errorf("Lookup(0.5) = %v", got)
	}
	if p.Lookup(-1) != p.Colors[0] || p.Lookup(2) != p.Colors[1] {
		t.Error("lookup does not clamp")
	}
	if p.Index(5) != p.Colors[1] {
		t.Error("index does not clamp")
	}
}

func TestLoadGPLEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gpl")
	os.WriteFile(path, []byte("GIMP Palette\n"), 0644)
	if _, err := LoadGPL(path); err == nil {
		t.Error("empty palette loaded")
	}
	if _, err := LoadGPL(filepath.Join(t.TempDir(), "missing.gpl")); err == nil {
		t.Error("missing palette loaded")
	}
}

func TestDefaultTheme(t *testing.T) {
	th := New(nil)
	if th.Palette.Name != "go-remi" {
		t.Errorf("palette = %q", th.Palette.Name)
	}
	if th.BG() != "#1a102e" || th.Success() != "#f9e96b" {
		t.Errorf("roles: bg %s success %s", th.BG(), th.Success())
	}
	if th.Color(0) != th.BG() || th.Color(1) != th.Success() {
		t.Errorf("Color ends: %s %s", th.Color(0), th.Color(1))
	}
	if th.Cursor() != th.Color(RoleCursor) {
		t.Errorf("cursor = %s", th.Cursor())
	}
	if th.StateSymbol("playing") != '▶' || th.StateSymbol("paused") != '‖' || th.StateSymbol("stopped") != '■' {
		t.Error("state symbols")
	}
}
