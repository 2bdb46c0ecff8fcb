//go:build !ci

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
)

const (
	chromeImage     = "chromedp/headless-shell:stable"
	chromeContainer = "chrome-e2e-quantumportal-"
	chromeReadyWait = 60 * time.Second

	// chromeURLEnv points the tests at an already running Chrome debugger
	// (e.g. http://localhost:9222) instead of starting a container.
	chromeURLEnv = "QP_CHROME_URL"
)

// browser is a chromedp tab in a headless Chrome, either a throwaway
// container or the instance named by QP_CHROME_URL.
type browser struct {
	ctx context.Context
	// hostNet is true when Chrome shares the host network namespace.
	hostNet bool
}

// newBrowser starts Chrome and returns a tab whose context expires after
// timeout. Everything is torn down with t.Cleanup.
func newBrowser(t *testing.T, timeout time.Duration) *browser {
	t.Helper()

	debugURL := os.Getenv(chromeURLEnv)
	hostNet := true
	if debugURL == "" {
		port := freePort(t)
		hostNet = runtime.GOOS == "linux"
		runChromeContainer(t, port, hostNet)
		debugURL = fmt.Sprintf("http://localhost:%d", port)
	}
	waitForChrome(t, debugURL)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(t.Logf))
	ctx, cancel := context.WithTimeout(tabCtx, timeout)
	t.Cleanup(func() {
		cancel()
		tabCancel()
		allocCancel()
	})
	return &browser{ctx: ctx, hostNet: hostNet}
}

// url rewrites an httptest URL so Chrome can reach it. Without host
// networking the container sees the host as host.docker.internal.
func (b *browser) url(serverURL string) string {
	host := "localhost"
	if !b.hostNet {
		host = "host.docker.internal"
	}
	r := strings.NewReplacer("127.0.0.1", host, "[::1]", host)
	return r.Replace(serverURL)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func docker(args ...string) ([]byte, error) {
	return exec.Command("docker", args...).CombinedOutput()
}

// runChromeContainer starts headless Chrome listening on port and registers
// its removal. The test is skipped when Docker is missing.
func runChromeContainer(t *testing.T, port int, hostNet bool) {
	t.Helper()
	if _, err := docker("version"); err != nil {
		t.Skip("Docker not available, skipping browser test")
	}

	if _, err := docker("image", "inspect", chromeImage); err != nil {
		t.Logf("pulling %s", chromeImage)
		ctx, cancel := context.WithTimeout(context.Background(), chromeReadyWait)
		defer cancel()
		out, err := exec.CommandContext(ctx, "docker", "pull", chromeImage).CombinedOutput()
		require.NoError(t, err, "docker pull: %s", out)
	}

	name := fmt.Sprintf("%s%d", chromeContainer, port)
	_, _ = docker("rm", "-f", name)

	args := []string{"run", "-d", "--rm", "--memory", "512m", "--cpus", "0.5", "--name", name}
	if hostNet {
		args = append(args, "--network", "host", chromeImage, fmt.Sprintf("--remote-debugging-port=%d", port))
	} else {
		// Docker Desktop runs containers in a VM; publish the image's
		// default debugger port instead.
		args = append(args, "-p", fmt.Sprintf("%d:9222", port), chromeImage)
	}
	out, err := docker(args...)
	require.NoError(t, err, "docker run: %s", out)

	t.Cleanup(func() {
		if out, err := docker("rm", "-f", name); err != nil && !strings.Contains(string(out), "No such container") {
			t.Logf("removing %s: %v (%s)", name, err, out)
		}
	})
}

func waitForChrome(t *testing.T, debugURL string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(chromeReadyWait)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := client.Get(debugURL + "/json/version")
		if err == nil {
			resp.Body.Close()
			return
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("Chrome at %s not ready after %s: %v", debugURL, chromeReadyWait, lastErr)
}
