package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitSettingsAppliesRecognisedOptions(t *testing.T) {
	defer func() { Settings = defaults() }()

	err := InitSettings(map[string]string{
		"port":                "9191",
		"concurrency-control": "write-stalled",
		"storage":             "durable",
		"data-path":           "/tmp/x",
		"bucket-size":         "64Ki",
	})
	if err != nil {
		t.Fatalf("init settings: %v", err)
	}
	if Settings.Port != 9191 {
		t.Fatalf("expected port 9191, got %d", Settings.Port)
	}
	if Settings.ConcurrencyControl != WriteStalled {
		t.Fatalf("expected write-stalled, got %s", Settings.ConcurrencyControl)
	}
	if Settings.Storage != DurableStrict {
		t.Fatalf("expected durable, got %s", Settings.Storage)
	}
	if Settings.BucketSize != 64*1024 {
		t.Fatalf("expected 64Ki, got %d", Settings.BucketSize)
	}
}

func TestInitSettingsRejectsUnknownConcurrencyControl(t *testing.T) {
	defer func() { Settings = defaults() }()
	if err := InitSettings(map[string]string{"concurrency-control": "nonsense"}); err == nil {
		t.Fatal("expected error for unknown concurrency-control")
	}
}

func TestHostListSkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	content := "host0:9090\n# a comment\n\nhost1:9090\nhost2:9090\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	hosts, err := HostList(path)
	if err != nil {
		t.Fatalf("host list: %v", err)
	}
	want := []string{"host0:9090", "host1:9090", "host2:9090"}
	if len(hosts) != len(want) {
		t.Fatalf("expected %v, got %v", want, hosts)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, hosts)
		}
	}
}
