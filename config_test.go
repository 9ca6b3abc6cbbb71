package keybroker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
)

func TestParseConfig_Defaults(t *testing.T) {
	fc, err := ParseConfig([]byte("paths: [/var/lib/keybroker]\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if fc.DomainSeparator != DefaultDomainSeparator {
		t.Errorf("domainSeparator %q", fc.DomainSeparator)
	}
	if fc.MaxValueSize != DefaultMaxValueSize {
		t.Errorf("maxValueSize %d", fc.MaxValueSize)
	}
	if fc.VetKD.KeyName != vetkd.DefaultKeyName {
		t.Errorf("vetkd.keyName %q", fc.VetKD.KeyName)
	}
	if fc.Listen != ":4280" {
		t.Errorf("listen %q", fc.Listen)
	}

	conf := fc.Config()
	if conf.GarbageCollectionInterval != DefaultGarbageCollectionInterval {
		t.Errorf("garbageCollectionInterval %v", conf.GarbageCollectionInterval)
	}
	if len(conf.Paths) != 1 || conf.Paths[0] != "/var/lib/keybroker" {
		t.Errorf("paths %v", conf.Paths)
	}
	if conf.VetKDKeyID != vetkd.DefaultKeyID() {
		t.Errorf("vetkd key id %+v", conf.VetKDKeyID)
	}
}

func TestParseConfig_Values(t *testing.T) {
	data := []byte(`
inMemory: true
domainSeparator: my-app
maxValueSize: 4096
garbageCollectionInterval: 90s
vetkd:
  url: http://127.0.0.1:4281/
  keyName: key_1
listen: 127.0.0.1:9000
`)
	fc, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if fc.VetKD.URL != "http://127.0.0.1:4281/" || fc.Listen != "127.0.0.1:9000" {
		t.Errorf("unexpected file config %+v", fc)
	}

	conf := fc.Config()
	if !conf.InMemory || conf.DomainSeparator != "my-app" || conf.MaxValueSize != 4096 {
		t.Errorf("unexpected config %+v", conf)
	}
	if conf.GarbageCollectionInterval != 90*time.Second {
		t.Errorf("garbageCollectionInterval %v", conf.GarbageCollectionInterval)
	}
	if conf.VetKDKeyID.Name != "key_1" || conf.VetKDKeyID.Curve != vetkd.CurveBLS12381G2 {
		t.Errorf("vetkd key id %+v", conf.VetKDKeyID)
	}
}

func TestParseConfig_Rejects(t *testing.T) {
	for name, data := range map[string]string{
		"unknown field": "pathz: [/tmp]\n",
		"bad duration":  "garbageCollectionInterval: soon\n",
		"wrong type":    "maxValueSize: big\n",
	} {
		if _, err := ParseConfig([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keybroker.yaml")
	if err := os.WriteFile(path, []byte("domainSeparator: from-file\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if fc.DomainSeparator != "from-file" {
		t.Errorf("domainSeparator %q", fc.DomainSeparator)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
