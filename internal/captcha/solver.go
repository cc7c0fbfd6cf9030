// internal/captcha/solver.go
package captcha

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

const (
	// ImageSelector matches the CAPTCHA image on the login page.
	ImageSelector = "img.captcha-image-dimension"
	// Instruction is sent with every image.
	Instruction = "Return ONLY the alphanumeric text."

	imageVisibleTimeout = 5 * time.Second
)

// Solver captures the CAPTCHA image from a page and asks a Recognizer to
// read it. It never fails hard: every problem is reported as "not solved".
type Solver struct {
	recognizer Recognizer
	logger     *zap.Logger
}

// NewSolver creates a solver. A nil recognizer yields a solver that never
// solves, which is useful for dry runs.
func NewSolver(recognizer Recognizer, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		recognizer: recognizer,
		logger:     logger.Named("captcha"),
	}
}

// Solve locates the CAPTCHA image on page, screenshots it and reads it.
// The attempt carries the captured image whenever one was taken; Solved is
// false when no usable text was produced. Number is left for the caller.
func (s *Solver) Solve(ctx context.Context, page schemas.Page) schemas.CaptchaAttempt {
	var attempt schemas.CaptchaAttempt
	img := page.Locator(ImageSelector)
	count, err := img.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to query CAPTCHA image.", zap.Error(err))
		return attempt
	}
	if count == 0 {
		s.logger.Info("No CAPTCHA image on page.")
		return attempt
	}

	if err := img.WaitVisible(ctx, imageVisibleTimeout); err != nil {
		s.logger.Warn("CAPTCHA image never became visible.", zap.Error(err))
		return attempt
	}

	attempt.Image, err = page.Screenshot(ctx, ImageSelector)
	if err != nil {
		s.logger.Warn("Failed to capture CAPTCHA image.", zap.Error(err))
		return attempt
	}
	attempt.Text, attempt.Solved = s.SolveImage(ctx, attempt.Image)
	return attempt
}

// SolveImage runs recognition on an already captured image.
func (s *Solver) SolveImage(ctx context.Context, image []byte) (string, bool) {
	if s.recognizer == nil {
		s.logger.Debug("No recognizer configured, CAPTCHA left unsolved.")
		return "", false
	}
	if len(image) == 0 {
		return "", false
	}

	raw, err := s.recognizer.Recognize(ctx, image, Instruction)
	if err != nil {
		s.logger.Error("CAPTCHA recognition failed.", zap.Error(err))
		return "", false
	}

	text := Normalize(raw)
	if text == "" {
		s.logger.Warn("Recognizer returned no usable text.", zap.String("raw", raw))
		return "", false
	}
	s.logger.Info("CAPTCHA solved.", zap.String("text", text))
	return text, true
}

// Normalize trims the recognizer output, drops all whitespace and lower
// cases the rest.
func Normalize(raw string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw))
}
