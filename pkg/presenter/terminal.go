package presenter

import (
	"context"
	"fmt"
	"io"

	"github.com/andrej220/pssh/pkg/models"
	"github.com/fatih/color"
)

// Terminal prints a coloured status line per host followed by the raw
// command output.
type Terminal struct {
	w    io.Writer
	ok   *color.Color
	fail *color.Color
	note *color.Color
}

func NewTerminal(w io.Writer, noColor bool) *Terminal {
	t := &Terminal{
		w:    w,
		ok:   color.New(color.FgGreen),
		fail: color.New(color.FgRed),
		note: color.New(color.FgYellow),
	}
	if noColor {
		t.ok.DisableColor()
		t.fail.DisableColor()
		t.note.DisableColor()
	}
	return t
}

func (t *Terminal) Present(_ context.Context, ev models.CompletionEvent) error {
	addr := ev.Host.Addr()
	if ev.Err != nil {
		_, err := fmt.Fprintln(t.w, t.fail.Sprintf("[%s ERROR: %v]", addr, ev.Err))
		return err
	}

	out := ev.Outcome
	switch {
	case out.Success():
		if _, err := fmt.Fprintln(t.w, t.ok.Sprintf("[%s OK]", addr)); err != nil {
			return err
		}
	default:
		if _, err := fmt.Fprintln(t.w, t.fail.Sprintf("[%s ERROR: exit with %d]", addr, out.ExitStatus)); err != nil {
			return err
		}
	}

	if out.Kind == models.TransferComplete {
		_, err := fmt.Fprintf(t.w, "sent %d bytes, mode %04o\n", out.Bytes, out.Mode.Perm())
		return err
	}

	if _, err := t.w.Write(out.Stdout); err != nil {
		return err
	}
	if _, err := t.w.Write(out.Stderr); err != nil {
		return err
	}
	if out.StdoutTruncated || out.StderrTruncated {
		if _, err := fmt.Fprintln(t.w, t.note.Sprintf("[%s output truncated]", addr)); err != nil {
			return err
		}
	}
	return nil
}
