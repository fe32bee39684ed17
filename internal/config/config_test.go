package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestParseProfileOverridesDefaults(t *testing.T) {
	data := []byte(`
output_sheets = ["Summary"]
group_orders = true

[matching]
top_k = 3

[contexts.upload]
required = ["vendorName", "itemName"]
`)
	p, err := ParseProfile(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.OutputSheets, []string{"Summary"}) {
		t.Fatalf("sheets=%v", p.OutputSheets)
	}
	if !p.GroupOrders {
		t.Fatalf("group_orders not set")
	}
	if p.Matching.TopK != 3 || p.Matching.MinSimilarity != 0.3 {
		t.Fatalf("matching=%+v", p.Matching)
	}
	if got := p.RequiredFields("upload"); !reflect.DeepEqual(got, []string{"vendorName", "itemName"}) {
		t.Fatalf("upload required=%v", got)
	}
	if got := p.RequiredFields("unknown"); !reflect.DeepEqual(got, []string{"vendorName", "vendorEmail", "projectName"}) {
		t.Fatalf("fallback required=%v", got)
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.OutputSheets, []string{"갑지", "을지"}) {
		t.Fatalf("sheets=%v", p.OutputSheets)
	}
}

func TestLoadProfileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("output_sheets = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("POFLOW_TEST_DURATION", "1500")
	if got := getEnvDuration("POFLOW_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("ms form=%v", got)
	}
	t.Setenv("POFLOW_TEST_DURATION", "2m")
	if got := getEnvDuration("POFLOW_TEST_DURATION", time.Second); got != 2*time.Minute {
		t.Fatalf("duration form=%v", got)
	}
	t.Setenv("POFLOW_TEST_DURATION", "soon")
	if got := getEnvDuration("POFLOW_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("fallback=%v", got)
	}
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("POFLOW_PROFILE", filepath.Join(t.TempDir(), "none.toml"))
	t.Setenv("APP_ENV", "production")
	t.Setenv("MATCH_TOP_K", "7")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
	if cfg.MatchTopK != 7 || cfg.MatchMinSimilarity != 0.3 {
		t.Fatalf("topK=%d minSim=%v", cfg.MatchTopK, cfg.MatchMinSimilarity)
	}
}
