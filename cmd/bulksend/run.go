package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bulksend/internal/app"
	"bulksend/internal/dispatch"
	"bulksend/internal/eventbus"
)

type runOptions struct {
	recipients string
	group      string
	payloads   payloadFlags
	pacing     pacingFlags
}

func newRunCmd(g *globals) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one bulk send in the foreground",
		Long: `Run one bulk send in the foreground.

Every recipient receives one message from every selected profile, recipient by
recipient. Ctrl-C stops the run after the message in flight; SIGUSR1 toggles
pause and resume.`,
		Example: `  bulksend run --recipients list.txt --group promo
  bulksend run --recipients list.txt --profile alpha="Hi!" --image alpha=./a.jpg --mode random --min 60s --max 240s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd.Context(), g, o, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.recipients, "recipients", "", "file with one recipient per line (- for stdin)")
	fs.StringVar(&o.group, "group", "", "saved profile group (id or name)")
	o.payloads.register(fs)
	o.pacing.register(fs)
	return cmd
}

func runSend(ctx context.Context, g *globals, o *runOptions, out io.Writer) error {
	if o.group != "" && !o.payloads.empty() {
		return errors.New("use either --group or --profile/--image/--audio")
	}
	recipients, err := readRecipients(o.recipients)
	if err != nil {
		return err
	}

	a, err := g.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	dc, err := o.dispatchConfig(ctx, a, recipients)
	if err != nil {
		return err
	}

	events, unsubscribe := a.Bus().Subscribe(256, dispatch.TopicPrefix)
	defer unsubscribe()

	runID, err := a.Start(ctx, dc)
	if err != nil {
		return err
	}
	total := len(dc.Recipients) * len(dc.Assignments)
	fmt.Fprintf(out, "run %s: %d messages (%d recipients x %d profiles), estimated %s\n",
		runID, total, len(dc.Recipients), len(dc.Assignments), orNoWait(dispatch.FormatETA(dispatch.Estimate(total, dc.Pacing))))

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	notifyToggle(sigs)
	defer signal.Stop(sigs)

	ctrl := a.Controller()
	for {
		select {
		case e := <-events:
			if line := progressLine(e); line != "" {
				fmt.Fprintln(out, line)
			}
		case sig := <-sigs:
			if err := handleSignal(ctrl, sig, out); err != nil {
				return err
			}
		case <-ctrl.Done():
			// Print what is still buffered before the summary.
			for drained := false; !drained; {
				select {
				case e := <-events:
					if line := progressLine(e); line != "" {
						fmt.Fprintln(out, line)
					}
				default:
					drained = true
				}
			}
			res, err := ctrl.Wait(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, resultLine(res))
			if res.Err != "" {
				return errors.New(res.Err)
			}
			return nil
		}
	}
}

func (o *runOptions) dispatchConfig(ctx context.Context, a *app.App, recipients []string) (dispatch.DispatchConfig, error) {
	var (
		assignments []dispatch.Assignment
		err         error
	)
	if o.group != "" {
		grp, gerr := a.Groups().Get(ctx, o.group)
		if gerr != nil {
			return dispatch.DispatchConfig{}, gerr
		}
		assignments = grp.Assignments()
	} else if assignments, err = o.payloads.assignments(); err != nil {
		return dispatch.DispatchConfig{}, err
	}
	pacing, err := o.pacing.resolve(a.Config().Dispatch.Pacing)
	if err != nil {
		return dispatch.DispatchConfig{}, err
	}
	return dispatch.DispatchConfig{Recipients: recipients, Assignments: assignments, Pacing: pacing}, nil
}

// errAborted is returned when a second stop signal arrives before the run
// has wound down.
var errAborted = errors.New("aborted by signal")

type runControl interface {
	Pause() error
	Resume() error
	Stop() error
}

func handleSignal(ctrl runControl, sig os.Signal, out io.Writer) error {
	if isToggle(sig) {
		err := ctrl.Pause()
		if errors.Is(err, dispatch.ErrInvalidTransition) {
			err = ctrl.Resume()
		}
		if err != nil {
			fmt.Fprintln(out, "pause/resume:", err)
		}
		return nil
	}
	if err := ctrl.Stop(); err == nil {
		fmt.Fprintln(out, "stopping after the message in flight (signal again to quit anyway)")
		return nil
	}
	return errAborted
}

func progressLine(e eventbus.Event) string {
	switch d := e.Data.(type) {
	case dispatch.Progress:
		status := "ok"
		if d.Err != "" {
			status = "FAILED: " + d.Err
		}
		return fmt.Sprintf("[%d/%d] %s via %s %s (%s)", d.Sent, d.Total, d.Recipient, d.ProfileID, status, d.Took.Round(100*time.Millisecond))
	case dispatch.Rest:
		if d.AutoRest {
			return fmt.Sprintf("auto-rest %s, resuming at %s", dispatch.FormatETA(d.Duration), d.Until.Format("15:04:05"))
		}
		return fmt.Sprintf("next message in %s", dispatch.FormatETA(d.Duration))
	case dispatch.StateChange:
		switch d.To {
		case dispatch.StatusPaused:
			return "paused (SIGUSR1 to resume)"
		case dispatch.StatusRunning:
			if d.From == dispatch.StatusPaused {
				return "resumed"
			}
		}
	}
	return ""
}

func resultLine(r dispatch.Result) string {
	s := fmt.Sprintf("run %s %s: %d/%d sent, %d failed in %s",
		r.RunID, r.Status, r.Sent, r.Total, r.Failed, r.Elapsed().Round(time.Second))
	if r.Err != "" {
		s += " (" + r.Err + ")"
	}
	return s
}

func orNoWait(s string) string {
	if s == "" {
		return "no wait"
	}
	return s
}
