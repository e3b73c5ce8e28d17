package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"receiptiq/backend/internal/retrieval"
)

var (
	// ErrGenerationTimeout is returned when the generation capability
	// exceeds its hard timeout. No assistant turn is recorded.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrGenerationFailed is returned on any other generation failure.
	// No assistant turn is recorded.
	ErrGenerationFailed = errors.New("generation failed")
)

// Generator is the black-box text generation capability.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type SynthesizerConfig struct {
	// CharBudget bounds the assembled prompt. Truncation drops oldest
	// history turns first, then lowest-similarity fragments. The current
	// user turn is never dropped.
	CharBudget int
	Timeout    time.Duration
}

// Synthesizer assembles a bounded prompt from history, retrieved fragments
// and the current turn, and invokes generation under a hard timeout. On
// success it appends the exchange to the session before returning, so
// history and reply are never observed out of sync.
type Synthesizer struct {
	sessions *Manager
	gen      Generator
	cfg      SynthesizerConfig
}

func NewSynthesizer(sessions *Manager, gen Generator, cfg SynthesizerConfig) *Synthesizer {
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = 12000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{sessions: sessions, gen: gen, cfg: cfg}
}

const promptPreamble = `You are a personal spending assistant. Answer the user's question
using only the receipt excerpts provided as context. If the context does
not contain the answer, say so plainly.`

// Respond generates a reply for the session. The session is left untouched
// on any failure.
func (s *Synthesizer) Respond(ctx context.Context, sessionID, userText string, fragments []retrieval.Fragment) (string, error) {
	history := s.sessions.History(sessionID)
	prompt := s.assemble(history, fragments, userText)

	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	reply, err := s.gen.Generate(gctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded) {
			slog.WarnContext(ctx, "generation timed out", "session_id", sessionID, "timeout", s.cfg.Timeout)
			return "", fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
		}
		slog.ErrorContext(ctx, "generation failed", "session_id", sessionID, "error", err)
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	s.sessions.AppendExchange(sessionID, userText, reply)
	return reply, nil
}

// assemble builds the prompt within the character budget. History and
// fragments shrink; the preamble and the current turn do not.
func (s *Synthesizer) assemble(history []Turn, fragments []retrieval.Fragment, userText string) string {
	for {
		prompt := render(history, fragments, userText)
		if len(prompt) <= s.cfg.CharBudget {
			return prompt
		}
		if len(history) > 0 {
			history = history[1:]
			continue
		}
		if len(fragments) > 0 {
			// Fragments arrive sorted by descending similarity, so the
			// least relevant one is at the tail.
			fragments = fragments[:len(fragments)-1]
			continue
		}
		return prompt
	}
}

func render(history []Turn, fragments []retrieval.Fragment, userText string) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")

	if len(fragments) > 0 {
		b.WriteString("Receipt context:\n")
		for _, f := range fragments {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "user: %s\nassistant:", userText)
	return b.String()
}
