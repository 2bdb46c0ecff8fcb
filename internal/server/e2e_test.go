//go:build !ci

package server

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumportal/quantumportal/internal/quantum/quantumtest"
)

// listenBrowser forwards console output and WebSocket frames to the test log.
func listenBrowser(t *testing.T, b *browser) {
	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			args := make([]string, len(ev.Args))
			for i, arg := range ev.Args {
				args[i] = fmt.Sprintf("%v", arg.Value)
			}
			t.Logf("[Browser Console] %s: %s", ev.Type, strings.Join(args, " "))
		case *runtime.EventExceptionThrown:
			t.Logf("[Browser Error] %s", ev.ExceptionDetails.Text)
		case *network.EventWebSocketFrameReceived:
			t.Logf("[WebSocket <-] %s", ev.Response.PayloadData)
		case *network.EventWebSocketFrameSent:
			t.Logf("[WebSocket ->] %s", ev.Response.PayloadData)
		}
	})
	require.NoError(t, chromedp.Run(b.ctx, network.Enable()))
}

func TestPortalInBrowser(t *testing.T) {
	env := newTestEnv(t, testOptions{Random: quantumtest.NewSequence(1)})

	b := newBrowser(t, 60*time.Second)
	listenBrowser(t, b)

	url := b.url(env.ts.URL)
	var ok bool
	poll := func(expr string) chromedp.Action {
		return chromedp.Poll(expr, &ok, chromedp.WithPollingTimeout(5*time.Second))
	}

	var title, momentum string
	err := chromedp.Run(b.ctx,
		chromedp.Navigate(url+"/en"),
		chromedp.WaitVisible(`[data-bind="qubit"]`),
		chromedp.Title(&title),

		// Theme toggles through the live session.
		chromedp.Click(`[data-action="TOGGLE_THEME"]`),
		poll(`document.documentElement.dataset.theme === "light"`),

		// The qubit collapses to |1⟩ and the tally follows.
		chromedp.Click(`[data-action="MEASURE_QUBIT"]`),
		poll(`document.querySelector('[data-bind="qubit"]').dataset.value === "1"`),
		poll(`document.querySelector('[data-bind="tally-1"]').textContent === "1"`),
		poll(`document.querySelector('[data-bind="qubit"]').dataset.value === "superposition"`),

		// Register and uncertainty demos.
		chromedp.Click(`.register-qubit[data-index="0"]`),
		poll(`document.querySelector('.register-qubit[data-index="0"]').textContent === "|1⟩"`),
		chromedp.SetValue(`#position-certainty`, "80"),
		chromedp.Evaluate(`document.getElementById("position-certainty").dispatchEvent(new Event("input", {bubbles: true}))`, &ok),
		poll(`document.querySelector('[data-bind="momentum"]').textContent === "20"`),
		chromedp.Text(`[data-bind="momentum"]`, &momentum),
	)
	require.NoError(t, err)

	assert.Contains(t, title, "Quantum Portal")
	assert.Equal(t, "20", momentum)
	require.Equal(t, 1, env.sessions.Len(), "page and WebSocket should share one session")
}

func TestPortalReloadsOnContentChange(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, testOptions{ContentDir: dir})
	require.NoError(t, env.srv.EnableWatch())

	b := newBrowser(t, 60*time.Second)
	listenBrowser(t, b)

	var (
		title string
		ok    bool
	)
	err := chromedp.Run(b.ctx,
		chromedp.Navigate(b.url(env.ts.URL)+"/en"),
		chromedp.WaitVisible(`[data-bind="qubit"]`),
	)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.srv.Connections() == 1 }, 5*time.Second, 50*time.Millisecond)

	writeFile(t, filepath.Join(dir, "en.yaml"), "name: English\nseo:\n  title: Live Edited Portal\n")

	err = chromedp.Run(b.ctx,
		chromedp.Poll(`document.title.indexOf("Live Edited Portal") >= 0`, &ok, chromedp.WithPollingTimeout(10*time.Second)),
		chromedp.Title(&title),
	)
	require.NoError(t, err)
	assert.Contains(t, title, "Live Edited Portal")
}
