package launcher

import (
	"fmt"
	"log"
	"strings"

	"github.com/factudesk/factudesk/pkg/models"
)

func logLaunchReceived(launch *models.Launch) {
	log.Printf(
		"launch_event=received launch_id=%s state=%s backend_url=%q port=%d",
		launch.ID,
		launch.State,
		launch.BackendURL,
		launch.Port,
	)
}

func logLaunchState(launch *models.Launch) {
	exitCode := ""
	if launch.ExitCode != nil {
		exitCode = fmt.Sprintf("%d", *launch.ExitCode)
	}

	switch launch.State {
	case models.LaunchStateReady:
		log.Printf(
			"launch_event=ready launch_id=%s state=%s pid=%d attempts=%d startup_duration=%q",
			launch.ID,
			launch.State,
			launch.PID,
			launch.Attempts,
			launch.StartupDuration().String(),
		)
	case models.LaunchStateFailed:
		log.Printf(
			"launch_event=failed launch_id=%s state=%s exit_code=%s attempts=%d error=%q log_file=%q",
			launch.ID,
			launch.State,
			exitCode,
			launch.Attempts,
			strings.TrimSpace(launch.Error),
			launch.LogFile,
		)
	default:
		log.Printf(
			"launch_event=state launch_id=%s state=%s interpreter=%q pid=%d",
			launch.ID,
			launch.State,
			launch.Interpreter,
			launch.PID,
		)
	}
}

func logBackendExited(launch *models.Launch, exitCode int) {
	log.Printf(
		"launch_event=backend_exited launch_id=%s pid=%d exit_code=%d",
		launch.ID,
		launch.PID,
		exitCode,
	)
}
