package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"

	"github.com/skypro1111/voice-intent-client/internal/assistant"
	"github.com/skypro1111/voice-intent-client/internal/capture"
	"github.com/skypro1111/voice-intent-client/internal/config"
)

const notifyTitle = "Voice client"

// recorder is the part of capture.Session the terminal drives.
type recorder interface {
	Start(ctx context.Context) error
	Stop() error
	State() capture.State
}

// ui renders assistant events on a terminal and turns typed lines into
// commands.
type ui struct {
	cfg       config.UIConfig
	assistant *assistant.Assistant
	outPath   string
	out       io.Writer
	logger    *slog.Logger

	// answer printing state, touched only by the event goroutine
	answerTurn string
	printed    int
	resume     bool
}

func newUI(cfg config.UIConfig, asst *assistant.Assistant, outPath string, out io.Writer, logger *slog.Logger) *ui {
	return &ui{
		cfg:       cfg,
		assistant: asst,
		outPath:   outPath,
		out:       out,
		logger:    logger.With(slog.String("component", "ui")),
	}
}

// PrintEvents renders events until the assistant closes its channel.
func (u *ui) PrintEvents() {
	for e := range u.assistant.Events() {
		u.handle(e)
	}
}

// Run is the interactive loop. Enter toggles recording; any other line is
// a typed prompt, or the answer to a pending question.
func (u *ui) Run(ctx context.Context, rec recorder, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	u.printHelp()

	events := u.assistant.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			u.handle(e)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := u.command(ctx, rec, line); quit {
				return nil
			}
		}
	}
}

func (u *ui) printHelp() {
	fmt.Fprintln(u.out, "Press Enter to start recording and Enter again to send it.")
	fmt.Fprintln(u.out, "Type a question to send it as text, 'c' to cancel, 'q' to quit.")
}

// command handles one typed line and reports whether to quit.
func (u *ui) command(ctx context.Context, rec recorder, line string) bool {
	line = strings.TrimSpace(line)

	if req, ok := u.assistant.PendingInput(); ok && line != "" {
		go func() {
			if err := u.assistant.Submit(ctx, line); err != nil {
				u.report(err)
				return
			}
			u.logger.Debug("Answer submitted", slog.String("interaction_id", req.InteractionID))
		}()
		return false
	}

	switch line {
	case "":
		u.toggle(ctx, rec)
	case "q", "quit", "exit":
		return true
	case "c", "cancel":
		u.assistant.Cancel()
	case "?", "h", "help":
		u.printHelp()
	default:
		// errors arrive as events
		go func() { _, _ = u.assistant.Ask(ctx, line) }()
	}
	return false
}

func (u *ui) toggle(ctx context.Context, rec recorder) {
	switch rec.State() {
	case capture.StateIdle:
		// Start publishes a state event, so it must not block this loop
		go func() {
			if err := rec.Start(ctx); err != nil {
				u.report(err)
			}
		}()
	case capture.StateRecording:
		if err := rec.Stop(); err != nil {
			u.report(err)
		}
	default:
		fmt.Fprintln(u.out, "Still finishing the previous recording...")
	}
}

func (u *ui) handle(e assistant.Event) {
	switch e.Kind {
	case assistant.EventState:
		switch e.State {
		case capture.StateRecording:
			fmt.Fprintln(u.out, "● Recording... press Enter to send")
		case capture.StateFinalizing:
			fmt.Fprintln(u.out, "Processing recording...")
		}

	case assistant.EventRecording:
		rec := e.Recording
		if rec.Info != nil {
			fmt.Fprintf(u.out, "Recorded %s (speech %.0f%%)\n",
				rec.Info.Duration.Round(100*time.Millisecond), rec.Activity.SpeechRatio*100)
		}
		if u.outPath != "" {
			if err := os.WriteFile(u.outPath, rec.WAV, 0o644); err != nil {
				u.report(fmt.Errorf("failed to write %s: %w", u.outPath, err))
			}
		}

	case assistant.EventVerification:
		if e.Verification.Err != nil {
			fmt.Fprintf(u.out, "Voice verification: %s (%v)\n", e.Verification.Outcome, e.Verification.Err)
		} else {
			fmt.Fprintf(u.out, "Voice verification: %s\n", e.Verification.Outcome)
		}

	case assistant.EventTranscript:
		if e.Text == "" {
			fmt.Fprintln(u.out, "Nothing was recognized.")
			return
		}
		fmt.Fprintf(u.out, "You: %s\n", e.Text)

	case assistant.EventAnswer:
		u.printAnswer(e.TurnID, e.Text)

	case assistant.EventAnswerDone:
		u.printAnswer(e.TurnID, e.Text)
		u.endAnswer()
		if u.cfg.CopyToClipboard && e.Text != "" {
			if err := clipboard.WriteAll(e.Text); err != nil {
				u.logger.Warn("Failed to copy answer", slog.Any("error", err))
			} else {
				fmt.Fprintln(u.out, "(answer copied to clipboard)")
			}
		}

	case assistant.EventHumanInput:
		if u.answerTurn != "" {
			fmt.Fprintln(u.out)
			u.resume = true
		}
		fmt.Fprintf(u.out, "Question: %s\n", e.HumanInput.Question)
		fmt.Fprintln(u.out, "Type your answer and press Enter.")
		u.notify("Input required: " + e.HumanInput.Question)

	case assistant.EventWarning:
		fmt.Fprintf(u.out, "Warning: %s\n", e.Text)

	case assistant.EventError:
		u.endAnswer()
		if errors.Is(e.Err, context.Canceled) {
			fmt.Fprintln(u.out, "Canceled.")
			return
		}
		u.report(e.Err)
	}
}

// printAnswer writes the part of the cumulative answer not yet shown.
func (u *ui) printAnswer(turnID, text string) {
	if turnID != u.answerTurn {
		u.endAnswer()
		u.answerTurn = turnID
		fmt.Fprint(u.out, "Assistant: ")
	} else if u.resume {
		fmt.Fprint(u.out, "Assistant: ")
	}
	u.resume = false
	if u.printed > len(text) {
		u.printed = 0
	}
	fmt.Fprint(u.out, text[u.printed:])
	u.printed = len(text)
}

func (u *ui) endAnswer() {
	if u.answerTurn != "" {
		fmt.Fprintln(u.out)
	}
	u.answerTurn = ""
	u.printed = 0
	u.resume = false
}

func (u *ui) report(err error) {
	fmt.Fprintf(u.out, "Error: %v\n", err)
	u.notify(err.Error())
}

func (u *ui) notify(msg string) {
	if !u.cfg.Notifications {
		return
	}
	if err := beeep.Notify(notifyTitle, msg, ""); err != nil {
		u.logger.Debug("Notification failed", slog.Any("error", err))
	}
}
