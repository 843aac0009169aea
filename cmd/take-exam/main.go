// Command take-exam runs one exam attempt in the terminal against the
// attempt service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lingua-attempt/internal/attempt"
	"github.com/stemsi/lingua-attempt/internal/attemptclient"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/draft"
	"github.com/stemsi/lingua-attempt/internal/logger"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/response"
	ws "github.com/stemsi/lingua-attempt/internal/websocket"
	"golang.org/x/term"
)

const help = `Commands:
  n            next question
  p            previous question
  g <number>   go to question
  a <answer>   answer (option number or free text)
  l            list questions
  s            submit the attempt
  q            quit and keep the draft`

func main() {
	examFlag := flag.String("exam", "", "exam ID")
	attemptFlag := flag.String("attempt", "", "resume this attempt instead of starting a new one")
	emailFlag := flag.String("email", "", "learner email")
	ephemeral := flag.Bool("ephemeral", false, "keep the draft in memory only")
	flag.Parse()

	cfg := config.Load()
	if *ephemeral {
		cfg.DraftBackend = config.DraftBackendMemory
	}
	log := logger.SetupWriter(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	examID, err := uuid.Parse(*examFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: take-exam -exam <id> [-attempt <id>] [-email <email>]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := attemptclient.New(cfg.APIBaseURL, cfg.HTTPTimeout, log)
	drafts, closeDrafts, err := draft.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.DraftBackend).Msg("Failed to open draft store")
	}
	defer closeDrafts()

	// Prompts read stdin in sequence; the line reader starts only after the
	// password so the two never wait on the terminal at once.
	reader := bufio.NewReader(os.Stdin)
	learner, err := login(ctx, client, *emailFlag, reader)
	if err != nil {
		fmt.Println(attemptclient.UserMessage(err))
		os.Exit(1)
	}
	fmt.Printf("Signed in as %s (%s)\n", learner.Name, learner.Email)
	lines := readLines(reader)

	exam, err := client.GetExam(ctx, examID)
	if err != nil {
		fmt.Println(attemptclient.UserMessage(err))
		os.Exit(1)
	}

	out := &printer{}
	finished := make(chan *model.Attempt, 1)
	sess := attempt.New(client, drafts, attempt.Options{
		UserID:  learner.ID,
		Logger:  log,
		OnEvent: onEvent(out, finished),
	})
	defer sess.Wait()
	defer sess.Close()

	if *attemptFlag != "" {
		attemptID, err := uuid.Parse(*attemptFlag)
		if err != nil {
			fmt.Println("Invalid attempt ID")
			os.Exit(2)
		}
		if err := sess.Resume(ctx, examID, attemptID, attempt.OptionsFromExam(exam)); err != nil {
			fmt.Println(describe(err))
			os.Exit(1)
		}
	} else {
		if err := sess.StartExam(ctx, exam, attempt.OptionsFromExam(exam)); err != nil {
			fmt.Println(describe(err))
			os.Exit(1)
		}
	}

	att := sess.Attempt()
	if result, done := sess.Result(); done {
		out.Printf("Attempt #%d is already %s.\n", result.AttemptNumber, result.Status)
		report(ctx, client, sess, result, out)
		return
	}

	out.Printf("\n%s: attempt #%d (%s)\n", exam.Title, att.AttemptNumber, att.ID)
	if exam.IsTimed() {
		out.Printf("Time remaining: %s\n", formatDuration(sess.Snapshot().Remaining))
	} else {
		out.Println("No time limit.")
	}
	out.Println(help)
	show(sess, out)

	result := run(ctx, sess, lines, finished, out)
	if result == nil {
		out.Println("Progress saved. Resume with -attempt " + att.ID.String())
		return
	}
	report(ctx, client, sess, result, out)
}

// run drives the command loop until the attempt is submitted (by the learner
// or the clock) or the learner quits. A nil result means the attempt is
// still open.
func run(ctx context.Context, sess *attempt.Session, lines <-chan string, finished <-chan *model.Attempt, out *printer) *model.Attempt {
	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-finished:
			return result
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			arg = strings.TrimSpace(arg)

			switch cmd {
			case "":
				continue
			case "n":
				if _, err := sess.Next(ctx); err != nil {
					out.Println(describe(err))
					continue
				}
				show(sess, out)
			case "p":
				if _, err := sess.Previous(ctx); err != nil {
					out.Println(describe(err))
					continue
				}
				show(sess, out)
			case "g":
				n, err := strconv.Atoi(arg)
				if err != nil {
					out.Println("Usage: g <number>")
					continue
				}
				if _, err := sess.GoTo(ctx, n-1); err != nil {
					out.Println(describe(err))
					continue
				}
				show(sess, out)
			case "a":
				answerCurrent(ctx, sess, arg, out)
			case "l":
				list(sess, out)
			case "s":
				if left := sess.Exam().QuestionCount() - sess.AnsweredCount(); left > 0 {
					out.Printf("%d question(s) unanswered. Submit anyway? [y/N] ", left)
					confirm, ok := <-lines
					if !ok || !strings.EqualFold(strings.TrimSpace(confirm), "y") {
						continue
					}
				}
				result, err := sess.Finish(ctx, attempt.TriggerUser)
				if errors.Is(err, attempt.ErrAlreadySubmitted) && result != nil {
					return result
				}
				if err != nil {
					out.Println(describe(err))
					continue
				}
				return result
			case "q":
				return nil
			default:
				out.Println(help)
			}
		}
	}
}

func answerCurrent(ctx context.Context, sess *attempt.Session, arg string, out *printer) {
	view, ok := sess.CurrentQuestion()
	if !ok {
		return
	}

	var answer model.Answer
	if view.Question.IsChoice() {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(view.Question.Options) {
			out.Printf("Pick an option between 1 and %d\n", len(view.Question.Options))
			return
		}
		answer = model.ChoiceAnswer(n - 1)
	} else {
		answer = model.TextAnswer(arg)
	}

	if err := sess.SubmitAnswer(ctx, view.Question.ID, answer); err != nil {
		out.Println(describe(err))
		return
	}
	out.Printf("Saved. %d/%d answered (%.0f%%)\n", sess.AnsweredCount(), view.Total, sess.ProgressPercentage())
}

func show(sess *attempt.Session, out *printer) {
	view, ok := sess.CurrentQuestion()
	if !ok {
		return
	}
	q := view.Question

	out.Printf("\nQuestion %d of %d\n%s\n", view.Position+1, view.Total, q.Prompt)
	for i, opt := range q.Options {
		marker := " "
		if c, ok := view.Answer.Choice(); ok && c == i {
			marker = "*"
		}
		out.Printf("  %s %d) %s\n", marker, i+1, opt)
	}
	if text, ok := view.Answer.Text(); ok {
		out.Printf("  Your answer: %s\n", text)
	}
}

func list(sess *attempt.Session, out *printer) {
	current := sess.CurrentIndex()
	for pos := 0; ; pos++ {
		view, ok := sess.QuestionAt(pos)
		if !ok {
			return
		}
		mark := "[ ]"
		if sess.IsQuestionAnswered(view.Original) {
			mark = "[x]"
		}
		cursor := " "
		if pos == current {
			cursor = ">"
		}
		out.Printf("%s %s %2d. %s\n", cursor, mark, pos+1, truncate(view.Question.Prompt, 60))
	}
}

// report waits for grading on the attempt stream, then prints the result and
// the learner's overall statistics.
func report(ctx context.Context, client *attemptclient.Client, sess *attempt.Session, result *model.Attempt, out *printer) {
	out.Printf("\nSubmitted. Time used: %s\n", formatDuration(sess.Snapshot().Elapsed))

	if result.Status != model.AttemptStatusGraded {
		out.Println("Waiting for grading... (Ctrl+C to stop waiting)")
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		events, err := client.WatchAttempt(waitCtx, result.ID)
		if err != nil {
			out.Println("Live updates unavailable: " + err.Error())
		} else {
			for ev := range events {
				if ev.Event == ws.EventGraded && ev.Attempt != nil {
					result = ev.Attempt
				}
			}
		}
	}

	if result.Status == model.AttemptStatusGraded && result.Score != nil {
		out.Printf("Score: %.1f", *result.Score)
		if result.Passed != nil {
			out.Printf(" (%s)", map[bool]string{true: "passed", false: "not passed"}[*result.Passed])
		}
		if result.CEFREstimated != nil {
			out.Printf(", estimated level %s", *result.CEFREstimated)
		}
		out.Println("")
		if ev := result.AIEvaluation; ev != nil {
			out.Printf("Grammar %.1f  Fluency %.1f  Coherence %.1f  Vocabulary %.1f\n", ev.Grammar, ev.Fluency, ev.Coherence, ev.Vocabulary)
			if ev.Comments != "" {
				out.Println(ev.Comments)
			}
		}
	}

	stats, err := sess.Stats(ctx)
	if err != nil {
		return
	}
	out.Printf("\nAttempts: %d total, %d graded, %d passed", stats.TotalAttempts, stats.Graded, stats.Passed)
	if stats.BestScore != nil {
		out.Printf(", best score %.1f", *stats.BestScore)
	}
	out.Println("")
}

func onEvent(out *printer, finished chan<- *model.Attempt) func(attempt.Event) {
	var lastMinute int64 = -1
	return func(e attempt.Event) {
		switch e.Type {
		case attempt.EventTick:
			if !e.Clock.Timed {
				return
			}
			if m := int64(e.Clock.Remaining / time.Minute); m != lastMinute {
				lastMinute = m
				out.Printf("[%s left]\n", formatDuration(e.Clock.Remaining))
			} else if e.Clock.Remaining <= 30*time.Second && e.Clock.Remaining%(10*time.Second) < time.Second {
				out.Printf("[%s left]\n", formatDuration(e.Clock.Remaining))
			}
		case attempt.EventExpired:
			out.Println("\nTime is up. Submitting your answers...")
		case attempt.EventSubmitted:
			if e.Trigger == attempt.TriggerExpired {
				select {
				case finished <- e.Attempt:
				default:
				}
			}
		case attempt.EventSubmitFailed:
			out.Println(response.GetMessage(response.ErrSubmitFailed) + " (" + describe(e.Err) + ")")
		case attempt.EventAnswerSyncFailed:
			// Answers stay in the draft and go with the final submission.
		}
	}
}

func login(ctx context.Context, client *attemptclient.Client, email string, reader *bufio.Reader) (*model.Learner, error) {
	if email == "" {
		fmt.Print("Email: ")
		var err error
		if email, err = readEmail(reader); err != nil {
			return nil, err
		}
	}
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}

	resp, err := client.Login(ctx, email, string(password))
	if err != nil {
		return nil, err
	}
	return &resp.Learner, nil
}

// readEmail consumes exactly one line, leaving later input buffered in
// reader for the command loop.
func readEmail(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read email: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func describe(err error) string {
	var el *attempt.EligibilityError
	switch {
	case errors.As(err, &el):
		return el.Message
	case errors.Is(err, attempt.ErrTimeUp):
		return "Time is up. Answers are locked; type s to submit them."
	case errors.Is(err, attempt.ErrSubmissionInProgress):
		return "Your answers are being submitted."
	case errors.Is(err, attempt.ErrAlreadySubmitted), errors.Is(err, attempt.ErrNotActive):
		return "This attempt is no longer active."
	case errors.Is(err, attempt.ErrNoQuestions):
		return "This exam has no questions."
	case errors.Is(err, attempt.ErrExamMismatch):
		return "That attempt belongs to a different exam."
	case errors.Is(err, attempt.ErrNotAuthenticated):
		return "Please sign in again."
	}
	return attemptclient.UserMessage(err)
}

// readLines feeds stdin lines to a channel so the command loop can also
// react to the clock submitting on its own.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// formatDuration renders d as mm:ss, or h:mm:ss from one hour up.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, sec := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// printer serializes output from the command loop and the clock goroutine.
type printer struct {
	mu sync.Mutex
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf(format, args...)
}

func (p *printer) Println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Println(s)
}
