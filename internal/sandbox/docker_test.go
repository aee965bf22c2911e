package sandbox

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// skipIfNoDocker skips integration tests when no docker daemon is reachable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

func newTestDockerSandbox(t *testing.T) *DockerSandbox {
	t.Helper()
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	return NewDockerSandbox(DockerConfig{
		DefaultTimeout: 60 * time.Second,
	}, registry, logger)
}

func TestDockerSandbox_RoundTrip(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   `echo "hello from container"`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecSuccess {
		t.Fatalf("status = %s, want %s (stderr: %s)", res.Status, domain.ExecSuccess, res.Stderr)
	}
	if res.Stdout != "hello from container\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestDockerSandbox_NetworkIsolated(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	// With --network=none there is no route out; wget must fail fast.
	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "wget -T 3 -q -O - http://example.com && echo REACHED",
		Timeout:  30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status == domain.ExecSuccess {
		t.Errorf("network escape: status = %s, stdout = %q", res.Status, res.Stdout)
	}
}

func TestDockerSandbox_ReadOnlyRootFS(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "echo x > /etc/poison",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecNonZeroExit {
		t.Errorf("writing to the root filesystem should fail, got status %s", res.Status)
	}
}

func TestDockerSandbox_WorkdirWritable(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "echo scratch > out.txt && cat out.txt",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecSuccess {
		t.Fatalf("status = %s (stderr: %s)", res.Status, res.Stderr)
	}
	if res.Stdout != "scratch\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestDockerSandbox_MemoryExceeded(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	// Allocate well past the 32 MB limit; the OOM killer terminates the
	// container with exit 137.
	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:      domain.NewID(),
		Language:    "python",
		Source:      "x = bytearray(256 * 1024 * 1024)\nprint(len(x))",
		MaxMemoryMB: 32,
		Timeout:     60 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecMemoryExceeded && res.Status != domain.ExecNonZeroExit {
		t.Errorf("status = %s, want memory violation", res.Status)
	}
}

func TestDockerSandbox_Timeout(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	start := time.Now()
	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "sleep 120",
		Timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecTimeout {
		t.Errorf("status = %s, want %s", res.Status, domain.ExecTimeout)
	}
	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Errorf("execute took %v, container was not torn down on timeout", elapsed)
	}
}

func TestDockerSandbox_ContainerRemoved(t *testing.T) {
	skipIfNoDocker(t)
	sbx := newTestDockerSandbox(t)

	if _, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "true",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := exec.Command("docker", "ps", "-a", "--format", "{{.Names}}").Output()
	if err != nil {
		t.Fatalf("docker ps: %v", err)
	}
	for _, name := range strings.Fields(string(out)) {
		if strings.HasPrefix(name, "nextvibe-sbx-") {
			t.Errorf("container %s survived execution", name)
		}
	}
}

func TestLaunchScript(t *testing.T) {
	runOnly := launchScript(LangSpec{
		FileName: "main.py",
		Command:  []string{"python3", "{{file}}"},
	})
	if runOnly != "exec python3 /src/main.py" {
		t.Errorf("launch script = %q", runOnly)
	}

	compiled := launchScript(LangSpec{
		FileName: "main.rs",
		Compile:  []string{"rustc", "-o", "main", "{{file}}"},
		Command:  []string{"./main"},
	})
	if compiled != "rustc -o main /src/main.rs && exec ./main" {
		t.Errorf("launch script = %q", compiled)
	}
}
