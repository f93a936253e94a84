package ticketdesk_test

import (
	"os"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfile(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}

	for _, want := range []string{"./cmd/ticketdesk", "ENTRYPOINT", "healthcheck"} {
		if !strings.Contains(content, want) {
			t.Errorf("Dockerfile should contain %q", want)
		}
	}
}

// composeFile はdocker-compose.ymlのうち検証に必要な部分。
type composeFile struct {
	Services map[string]struct {
		Image    string   `yaml:"image"`
		Command  []string `yaml:"command"`
		Networks []string `yaml:"networks"`
	} `yaml:"services"`
	Networks map[string]struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

func TestDockerCompose(t *testing.T) {
	var compose composeFile
	if err := yaml.Unmarshal([]byte(readFile(t, "docker-compose.yml")), &compose); err != nil {
		t.Fatalf("failed to parse docker-compose.yml: %v", err)
	}

	for _, name := range []string{"api", "worker", "migrate", "db"} {
		if _, ok := compose.Services[name]; !ok {
			t.Errorf("docker-compose.yml should contain service %q", name)
		}
	}

	if !strings.HasPrefix(compose.Services["db"].Image, "postgres:") {
		t.Errorf("db image = %q, want postgres", compose.Services["db"].Image)
	}
	for name, want := range map[string]string{"api": "serve", "worker": "worker", "migrate": "migrate"} {
		if got := compose.Services[name].Command; len(got) == 0 || got[0] != want {
			t.Errorf("%s command = %v, want %q", name, got, want)
		}
	}

	if !compose.Networks["internal"].Internal {
		t.Error("internal network should be internal: true")
	}
	// 外部通信が必要なのはフィード取り込みを行うapiのみ
	for name, svc := range compose.Services {
		hasExternal := slices.Contains(svc.Networks, "external")
		if hasExternal != (name == "api") {
			t.Errorf("service %s external network = %v", name, hasExternal)
		}
	}
}
