// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/session"
)

// errCancelled reports a request stopped by the user. Commands print it as
// a notice rather than a failure.
var errCancelled = errors.New("request cancelled")

// printer writes chunks to w as they arrive and hands the terminal event to
// done. The sink runs on the session goroutine.
func printer(w io.Writer) (assistant.Sink, <-chan session.Event) {
	done := make(chan session.Event, 1)
	return func(ev session.Event) {
		if ev.Kind == session.EventChunk {
			fmt.Fprint(w, ev.Text)
			return
		}
		done <- ev
	}, done
}

// interruptible returns a context cancelled by Ctrl+C. The caller must call
// stop to restore default signal handling.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

// streamResult waits for the terminal event and reports it on out.
func streamResult(out io.Writer, done <-chan session.Event) error {
	ev := <-done
	switch ev.Kind {
	case session.EventEnd:
		fmt.Fprintln(out)
		return nil
	case session.EventCancelled:
		fmt.Fprintln(out)
		fmt.Fprintln(out, Render(WarningStyle, "[cancelled]"))
		return errCancelled
	default:
		fmt.Fprintln(out)
		return fmt.Errorf("generation failed: %s", ev.Message())
	}
}

// run starts a request through start and blocks until it finishes. Ctrl+C
// cancels it.
func run(ctx context.Context, out io.Writer, start func(context.Context, assistant.Sink) (string, error)) error {
	ctx, stop := interruptible(ctx)
	defer stop()

	sink, done := printer(out)
	if _, err := start(ctx, sink); err != nil {
		return err
	}
	return streamResult(out, done)
}
