// Package grading checks stage submissions against the level catalog.
package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/physquest/server/game/level"
	"github.com/physquest/server/game/script"
)

var (
	// ErrBadSubmission is returned when the submission cannot be read for the
	// stage kind. The more specific errors below wrap it.
	ErrBadSubmission = errors.New("grading: malformed submission")
	ErrNotANumber    = fmt.Errorf("%w: not a number", ErrBadSubmission)
	ErrMissingAngle  = fmt.Errorf("%w: missing angle", ErrBadSubmission)
	ErrUnknownKind   = errors.New("grading: unknown stage kind")
)

const (
	defaultTolerance = 0.1
	forceEpsilon     = 1e-9
	gravity          = 4.9

	formulaCheckTimeout = 2 * time.Second
)

const (
	msgCorrect      = "Correct!"
	msgIncorrect    = "Incorrect. Try again."
	msgCodeCorrect  = "Code correct. Welcome!"
	msgCodeWrong    = "Incorrect code. Try again."
	msgWrongPlanet  = "That's not the correct destination!"
	msgPlanetFormat = "Correct! Setting course to %s!"
)

// Submission carries the player's answer. Which field is read depends on the
// stage kind.
type Submission struct {
	Answer  string   `json:"answer"`  // choice, selection, code, numeric
	Answers []string `json:"answers"` // text
	Picks   []int    `json:"picks"`   // circuit: resistor indexes
	Path    [][2]int `json:"path"`    // magnetic: [x, y] cells
	Angle   *float64 `json:"angle"`   // projectile: launch bearing in degrees
	Event   string   `json:"event"`   // play
}

// Result is the outcome of one grading call.
type Result struct {
	Correct bool                   `json:"correct"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

// Grader evaluates submissions. It is safe for concurrent use.
type Grader struct {
	eval *script.Evaluator
}

func NewGrader(eval *script.Evaluator) *Grader {
	return &Grader{eval: eval}
}

// Grade checks sub against stage s of level l.
func (g *Grader) Grade(ctx context.Context, l *level.Level, s *level.Stage, sub Submission) (Result, error) {
	switch s.Kind {
	case level.StageChoice:
		return verdict(strings.TrimSpace(sub.Answer) == s.Answer, nil), nil
	case level.StageSelection:
		got := strings.TrimSpace(sub.Answer)
		if got != s.Answer {
			return Result{Message: msgWrongPlanet}, nil
		}
		return Result{Correct: true, Message: fmt.Sprintf(msgPlanetFormat, got)}, nil
	case level.StageCode:
		if strings.TrimSpace(sub.Answer) == strings.TrimSpace(s.Answer) {
			return Result{Correct: true, Message: msgCodeCorrect}, nil
		}
		return Result{Message: msgCodeWrong}, nil
	case level.StageNumeric:
		return g.gradeNumeric(ctx, s, sub.Answer)
	case level.StageText:
		return gradeText(s, sub.Answers)
	case level.StageCircuit:
		return gradeCircuit(s, sub.Picks)
	case level.StageMagnetic:
		return gradeMagnetic(s, sub.Path)
	case level.StageProjectile:
		return gradeProjectile(s, sub.Angle)
	case level.StagePlay:
		return verdict(sub.Event != "" && sub.Event == l.CompletionEvent, nil), nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
}

func verdict(ok bool, detail map[string]interface{}) Result {
	if ok {
		return Result{Correct: true, Message: msgCorrect, Detail: detail}
	}
	return Result{Message: msgIncorrect, Detail: detail}
}

// Expected returns the numeric answer of s, evaluating answer_expr if set.
func (g *Grader) Expected(ctx context.Context, s *level.Stage) (float64, error) {
	if s.Value != nil {
		return *s.Value, nil
	}
	return g.eval.Eval(ctx, s.AnswerExpr, s.Vars)
}

func (g *Grader) gradeNumeric(ctx context.Context, s *level.Stage, raw string) (Result, error) {
	got, err := parseNumber(raw, s.Unit)
	if err != nil {
		return Result{}, err
	}
	want, err := g.Expected(ctx, s)
	if err != nil {
		return Result{}, fmt.Errorf("grading: stage %s: %w", s.ID, err)
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}
	var ok bool
	if s.Relative {
		ok = math.Abs(got-want) <= tol*math.Abs(want)
	} else {
		ok = math.Abs(got-want) < tol
	}
	return verdict(ok, nil), nil
}

// parseNumber accepts "41400", " 41400 Pa", "41400pa" and "4.14e4Pa".
func parseNumber(raw, unit string) (float64, error) {
	s := strings.TrimSpace(raw)
	if n := len(unit); n > 0 && len(s) >= n && strings.EqualFold(s[len(s)-n:], unit) {
		s = strings.TrimSpace(s[:len(s)-n])
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, ErrNotANumber
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotANumber
	}
	return v, nil
}

func gradeText(s *level.Stage, answers []string) (Result, error) {
	if len(answers) != len(s.Answers) {
		return Result{}, fmt.Errorf("%w: expected %d answers", ErrBadSubmission, len(s.Answers))
	}
	wrong := []int{}
	for i, want := range s.Answers {
		if !strings.EqualFold(strings.TrimSpace(answers[i]), strings.TrimSpace(want)) {
			wrong = append(wrong, i)
		}
	}
	return verdict(len(wrong) == 0, map[string]interface{}{"wrong": wrong}), nil
}

// IsBadSubmission reports whether err means the player sent an unusable
// answer rather than a server fault.
func IsBadSubmission(err error) bool {
	return errors.Is(err, ErrBadSubmission)
}

// CheckFormulas evaluates every answer_expr of l, so a catalog with a broken
// or non-numeric formula is rejected when it is loaded.
func (g *Grader) CheckFormulas(l *level.Level) error {
	for _, s := range l.Stages {
		if s.Kind != level.StageNumeric || s.AnswerExpr == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), formulaCheckTimeout)
		_, err := g.eval.Eval(ctx, s.AnswerExpr, s.Vars)
		cancel()
		if err != nil {
			return fmt.Errorf("stage %s: answer_expr: %w", s.ID, err)
		}
	}
	return nil
}
