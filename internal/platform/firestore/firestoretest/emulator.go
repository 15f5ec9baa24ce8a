// Package firestoretest starts a disposable Firestore emulator for integration tests.
package firestoretest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/bookporter/api/internal/platform/config"
	pfirestore "github.com/bookporter/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// NewProvider runs the emulator in docker and returns a provider bound to it. The test is
// skipped when docker is unavailable.
func NewProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startEmulator(t *testing.T, port int) string {
	t.Helper()
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	lastErr := errors.New("timeout waiting for endpoint")
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
