package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/player"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// syncWriter serializes output from the prompt loop and machine callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type session struct {
	m   *player.Machine
	out io.Writer
	// confirmed is set after warnings were shown once for the current answers.
	confirmed bool
}

// handle runs one input line. quit reports that the host should exit.
func (s *session) handle(ctx context.Context, line string) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	v := s.m.State()

	if cmd == "q" || cmd == "quit" {
		s.m.Suspend(ctx)
		return true, nil
	}

	switch v.Phase {
	case player.PhaseModeSelection, player.PhaseResumePending:
		if (cmd == "r" || cmd == "resume") && v.Phase == player.PhaseResumePending {
			return false, s.m.Resume(ctx)
		}
		mode, ok := quiz.ParseMode(cmd)
		if !ok {
			return false, errors.Errorf("unknown choice %q", cmd)
		}
		if v.Phase == player.PhaseResumePending {
			return false, s.m.Restart(ctx, mode)
		}
		return false, s.m.ChooseMode(ctx, mode)

	case player.PhaseInProgress:
		return false, s.inProgress(ctx, v, cmd, arg)

	case player.PhaseCompleted:
		return cmd == "", nil
	}
	return false, nil
}

func (s *session) inProgress(ctx context.Context, v player.View, cmd, arg string) error {
	switch cmd {
	case "", "?":
		return nil
	case "n":
		s.m.NextQuestion()
	case "p":
		s.m.PreviousQuestion()
	case "g":
		i, err := strconv.Atoi(arg)
		if err != nil {
			return errors.New("g needs a question number")
		}
		s.m.NavigateToQuestion(i - 1)
	case "f":
		q, ok := v.CurrentQuestion()
		if !ok {
			return nil
		}
		return s.m.ToggleFlagQuestion(q.ID)
	case "t":
		s.m.StartTimer()
	case "a":
		q, ok := v.CurrentQuestion()
		if !ok {
			return nil
		}
		if arg == "" {
			return errors.New("a needs an answer")
		}
		s.confirmed = false
		return s.m.AnswerQuestion(ctx, q.ID, parseAnswer(q, arg))
	case "s":
		return s.submit(ctx, v)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

// submit validates first: errors block, warnings need a second s.
func (s *session) submit(ctx context.Context, v player.View) error {
	rep := s.m.Validate()
	if rep.Blocking() {
		renderValidation(s.out, rep)
		return errors.New("fix the errors above before submitting")
	}
	if len(rep.Warnings) > 0 && !s.confirmed {
		renderValidation(s.out, rep)
		fmt.Fprintln(s.out, "Press s again to submit anyway.")
		s.confirmed = true
		return nil
	}
	s.confirmed = false
	// practice answers already reached the server one by one
	if v.Mode == quiz.ModePractice && v.AttemptID != "" && v.AnsweredCount == len(v.Quiz.Questions) {
		return s.m.FinalizeQuizAttempt(ctx)
	}
	return s.m.SubmitQuiz(ctx)
}

// parseAnswer reads comma-separated choices for multiple-select questions.
func parseAnswer(q quiz.Question, raw string) quiz.Answer {
	if q.Type != quiz.MultipleSelect {
		return quiz.Single(raw)
	}
	parts := strings.Split(raw, ",")
	vals := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			vals = append(vals, p)
		}
	}
	return quiz.Multi(vals...)
}
