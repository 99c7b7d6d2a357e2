package shell

import (
	"log"
	"os/exec"
	"runtime"
)

// OpenBrowser opens the system default browser at url. Failures are logged
// and otherwise ignored; the surface server keeps serving either way.
func OpenBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		log.Printf("shell_event=browser_open_failed url=%q error=%q", url, err.Error())
		return
	}
	go cmd.Wait()

	log.Printf("shell_event=browser_opened url=%q", url)
}
