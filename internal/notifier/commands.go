package notifier

import (
	"errors"

	"bulksend/internal/dispatch"
)

func runCommand(ctrl Controller, cmd string) string {
	if ctrl == nil {
		return "No controller attached"
	}
	var err error
	switch cmd {
	case "/status":
		return statusText(ctrl.Snapshot())
	case "/pause":
		err = ctrl.Pause()
	case "/resume":
		err = ctrl.Resume()
	case "/stop":
		err = ctrl.Stop()
	default:
		return "Unknown command"
	}
	switch {
	case err == nil:
		return "OK\n" + statusText(ctrl.Snapshot())
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return "Not now: " + err.Error()
	default:
		return "Failed: " + err.Error()
	}
}
