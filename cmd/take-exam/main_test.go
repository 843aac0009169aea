package main

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stemsi/lingua-attempt/internal/attempt"
)

func TestPromptsAndCommandsShareOneReader(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("  learner@example.com \nn\na went\n"))

	email, err := readEmail(reader)
	if err != nil {
		t.Fatalf("readEmail: %v", err)
	}
	if email != "learner@example.com" {
		t.Fatalf("email = %q", email)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for lines := readLines(reader); ; {
		select {
		case line, ok := <-lines:
			if !ok {
				if want := []string{"n", "a went"}; strings.Join(got, "|") != strings.Join(want, "|") {
					t.Fatalf("command lines = %q, want %q", got, want)
				}
				return
			}
			got = append(got, line)
		case <-timeout:
			t.Fatal("timed out reading command lines")
		}
	}
}

func TestReadEmailWithoutTrailingNewline(t *testing.T) {
	email, err := readEmail(bufio.NewReader(strings.NewReader("solo@example.com")))
	if err != nil || email != "solo@example.com" {
		t.Fatalf("readEmail = %q, %v", email, err)
	}

	if _, err := readEmail(bufio.NewReader(strings.NewReader(""))); !errors.Is(err, io.EOF) {
		t.Fatalf("empty input err = %v, want EOF", err)
	}
}

func TestDescribeTimeUp(t *testing.T) {
	if msg := describe(attempt.ErrTimeUp); !strings.Contains(msg, "Time is up") {
		t.Fatalf("describe(ErrTimeUp) = %q", msg)
	}
}
