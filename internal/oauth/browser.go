// Package oauth runs the user authorization flow: it issues authorize
// URLs, watches for the redirect landing, and exchanges the code for a
// persisted user token.
package oauth

import (
	"context"
	"os/exec"
	"runtime"
)

// Tab is a browser tab as seen by the poller.
type Tab struct {
	ID  int
	URL string
}

// Browser abstracts the user's browser. The default implementation can
// only open URLs; richer integrations (remote debugging, an extension
// bridge) can also enumerate and close tabs, which lets the poller
// detect the OAuth redirect without the landing page calling back.
type Browser interface {
	// OpenTab opens the URL and returns a tab ID, or 0 when the
	// browser cannot track tabs.
	OpenTab(ctx context.Context, url string) (int, error)
	// CloseTab closes a tab. Unknown IDs are not an error.
	CloseTab(ctx context.Context, id int) error
	// Tabs lists open tabs. Implementations without enumeration
	// support return an empty list.
	Tabs(ctx context.Context) ([]Tab, error)
}

// SystemBrowser opens URLs with the operating system's default
// handler. It cannot enumerate or close tabs, so flows relying on it
// complete through the callback endpoint instead of the poller.
type SystemBrowser struct{}

func (SystemBrowser) OpenTab(ctx context.Context, url string) (int, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}

	return 0, cmd.Start()
}

func (SystemBrowser) CloseTab(context.Context, int) error { return nil }

func (SystemBrowser) Tabs(context.Context) ([]Tab, error) { return nil, nil }
