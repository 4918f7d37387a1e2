package main

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the command that opens url in the user's default
// browser on goos.
func browserCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{url}, nil
	case "darwin":
		return "open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	default:
		return "", nil, fmt.Errorf("opening a browser is not supported on %s", goos)
	}
}

// openBrowser launches the platform browser opener without waiting for it.
// An error makes the caller print the URL instead.
func openBrowser(url string) error {
	name, args, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}

	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	// Reap the opener in the background.
	go func() { _ = cmd.Wait() }()

	return nil
}
