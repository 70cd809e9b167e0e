package persona

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleCard = `identity:
  name: Nova
  role: companion
language: de
timezone: Europe/Berlin
context: Warm, attentive, remembers small details.
templates:
  jailbreak: "You are {{.Char.Identity.Name}}."
  userContext: "Address {{.User.Identity.Name}} by name."
`

func TestLoadParsesCard(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "nova.yaml"), []byte(sampleCard), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(dir, "nova")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if p.Key != "nova" {
		t.Errorf("Key = %q, want nova", p.Key)
	}
	if p.Identity.Name != "Nova" {
		t.Errorf("Identity.Name = %q, want Nova", p.Identity.Name)
	}
	if p.Language != "de" {
		t.Errorf("Language = %q, want de", p.Language)
	}
	if p.Templates.Jailbreak == "" || p.Templates.UserContext == "" {
		t.Error("templates not parsed")
	}
	if p.DisplayName() != "Nova" {
		t.Errorf("DisplayName = %q, want Nova", p.DisplayName())
	}
}

func TestLoadMissingCard(t *testing.T) {
	if _, err := Load(t.TempDir(), "ghost"); err == nil {
		t.Error("expected error for missing card")
	}
}

func TestLoadRejectsEmptyKey(t *testing.T) {
	if _, err := Load(t.TempDir(), "  "); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	p, err := LoadOrDefault(t.TempDir(), "ghost")
	if err != nil {
		t.Fatalf("LoadOrDefault error: %v", err)
	}
	if p.DisplayName() != "ghost" {
		t.Errorf("DisplayName = %q, want ghost", p.DisplayName())
	}
}

func TestLoadOrDefaultSurfacesParseErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("identity: [not: a: map"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrDefault(dir, "broken"); err == nil {
		t.Error("expected parse error to surface")
	}
}

func TestDisplayNameFallsBackToKey(t *testing.T) {
	p := &Persona{Key: "fallback"}
	if p.DisplayName() != "fallback" {
		t.Errorf("DisplayName = %q, want fallback", p.DisplayName())
	}
}
