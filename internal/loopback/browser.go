package loopback

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// launchers maps GOOS to the command that hands a URL to the desktop.
var launchers = map[string][]string{
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"darwin":  {"open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// browserCommand returns the argv that opens url. $BROWSER wins when set.
func browserCommand(goos, url string) ([]string, error) {
	if b := os.Getenv("BROWSER"); b != "" {
		return []string{b, url}, nil
	}
	launcher, ok := launchers[goos]
	if !ok {
		return nil, fmt.Errorf("cannot open a browser on %s", goos)
	}
	return append(append([]string{}, launcher...), url), nil
}

// OpenBrowser opens url in the user's browser without waiting for it.
func OpenBrowser(url string) error {
	argv, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
