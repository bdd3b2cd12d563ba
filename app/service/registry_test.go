package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeService(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryLoadValidService(t *testing.T) {
	tempDir := t.TempDir()
	writeService(t, tempDir, "twitter", `
id: 1
base_url: "https://twitter.com"
timeline_url: "https://twitter.com/statuses/friends_timeline.json"

settings:
  enabled: true
`)

	registry := NewRegistry(tempDir)
	if err := registry.Run(); err != nil {
		t.Fatal(err)
	}

	if registry.GetCount() != 1 {
		t.Errorf("Expected 1 service, got %d", registry.GetCount())
	}

	svc, err := registry.Get("twitter")
	if err != nil {
		t.Fatal(err)
	}

	if svc.Format != FormatJSON {
		t.Errorf("Expected default format json, got '%s'", svc.Format)
	}
	if svc.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", svc.Settings.Timeout)
	}
	if svc.AvatarPrefix != "Twitter" {
		t.Errorf("Expected avatar prefix 'Twitter', got '%s'", svc.AvatarPrefix)
	}
	if got := svc.StatusURI("alice", "42"); got != "https://twitter.com/alice/status/42" {
		t.Errorf("Unexpected status uri: %s", got)
	}
	if got := svc.ProfileURL("alice"); got != "https://twitter.com/alice" {
		t.Errorf("Unexpected profile url: %s", got)
	}

	byID, err := registry.GetByID(1)
	if err != nil || byID != svc {
		t.Errorf("Expected lookup by id to return the same service, got %v (%v)", byID, err)
	}
}

func TestRegistryGetEnabled(t *testing.T) {
	tempDir := t.TempDir()
	writeService(t, tempDir, "b", `
id: 2
base_url: "https://b.example"
timeline_url: "https://b.example/api/statuses/friends_timeline.json"
settings:
  enabled: true
`)
	writeService(t, tempDir, "a", `
id: 1
base_url: "https://a.example"
timeline_url: "https://a.example/api/statuses/friends_timeline.atom"
format: atom
settings:
  enabled: true
`)
	writeService(t, tempDir, "c", `
id: 3
base_url: "https://c.example"
timeline_url: "https://c.example/timeline.json"
settings:
  enabled: false
`)

	registry := NewRegistry(tempDir)
	if err := registry.Run(); err != nil {
		t.Fatal(err)
	}

	enabled := registry.GetEnabled()
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled services, got %d", len(enabled))
	}
	if enabled[0].ID != 1 || enabled[1].ID != 2 {
		t.Errorf("Expected services ordered by id, got %d, %d", enabled[0].ID, enabled[1].ID)
	}
}

func TestRegistryRejectsInvalidServices(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing id", `
base_url: "https://x.example"
timeline_url: "https://x.example/t.json"
`, "id must be positive"},
		{"missing timeline", `
id: 1
base_url: "https://x.example"
`, "timeline URL is required"},
		{"relative url", `
id: 1
base_url: "x.example"
timeline_url: "https://x.example/t.json"
`, "absolute URL"},
		{"bad format", `
id: 1
base_url: "https://x.example"
timeline_url: "https://x.example/t.json"
format: xml
`, "unsupported format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeService(t, tempDir, "svc", tt.content)

			err := NewRegistry(tempDir).Run()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing '%s', got '%v'", tt.wantErr, err)
			}
		})
	}
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	tempDir := t.TempDir()
	content := `
id: 1
base_url: "https://x.example"
timeline_url: "https://x.example/t.json"
`
	writeService(t, tempDir, "one", content)
	writeService(t, tempDir, "two", content)

	if err := NewRegistry(tempDir).Run(); err == nil {
		t.Error("Expected error for duplicate service ids")
	}
}

func TestRegistryMissingDirectory(t *testing.T) {
	registry := NewRegistry(filepath.Join(t.TempDir(), "absent"))
	if err := registry.Run(); err != nil {
		t.Errorf("Expected missing directory to be ignored, got %v", err)
	}
	if registry.GetCount() != 0 {
		t.Errorf("Expected no services, got %d", registry.GetCount())
	}
}

func TestTimelineFor(t *testing.T) {
	svc := &Service{TimelineURL: "https://x.example/{screen_name}/timeline.json"}
	if got := svc.TimelineFor("bob"); got != "https://x.example/bob/timeline.json" {
		t.Errorf("Unexpected timeline url: %s", got)
	}
	if got := svc.TimelineFor("../admin?x=1"); got != "https://x.example/..%2Fadmin%3Fx=1/timeline.json" {
		t.Errorf("Expected screen name to be path escaped, got %s", got)
	}

	query := &Service{TimelineURL: "https://x.example/statuses/user_timeline.json?screen_name={screen_name}&count=20"}
	if got := query.TimelineFor("a b&c"); got != "https://x.example/statuses/user_timeline.json?screen_name=a+b%26c&count=20" {
		t.Errorf("Expected screen name to be query escaped, got %s", got)
	}
}
