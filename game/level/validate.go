package level

import (
	"fmt"
	"math"
	"regexp"
)

var keyRe = regexp.MustCompile(`^[a-z0-9_]+$`)

func validateLevel(l *Level) error {
	if !keyRe.MatchString(l.Key) {
		return fmt.Errorf("level %q: key must match %s", l.Key, keyRe)
	}
	switch l.Kind {
	case KindLevel:
		if l.Tier != TierGCSE && l.Tier != TierALevel {
			return fmt.Errorf("level %s: unknown tier %q", l.Key, l.Tier)
		}
	case KindMinigame, KindCutscene:
		if l.Tier != "" && l.Tier != TierGCSE && l.Tier != TierALevel {
			return fmt.Errorf("level %s: unknown tier %q", l.Key, l.Tier)
		}
	default:
		return fmt.Errorf("level %s: unknown kind %q", l.Key, l.Kind)
	}
	if l.Title == "" {
		return fmt.Errorf("level %s: missing title", l.Key)
	}
	if l.CompletionEvent == "" {
		return fmt.Errorf("level %s: missing completion_event", l.Key)
	}
	if l.Points < 0 {
		return fmt.Errorf("level %s: negative points", l.Key)
	}
	if len(l.Stages) == 0 {
		return fmt.Errorf("level %s: no stages", l.Key)
	}
	seen := make(map[string]bool, len(l.Stages))
	for _, s := range l.Stages {
		if s == nil || s.ID == "" {
			return fmt.Errorf("level %s: stage without id", l.Key)
		}
		if seen[s.ID] {
			return fmt.Errorf("level %s: duplicate stage %q", l.Key, s.ID)
		}
		seen[s.ID] = true
		if err := validateStage(s); err != nil {
			return fmt.Errorf("level %s stage %s: %w", l.Key, s.ID, err)
		}
	}
	return nil
}

func validateStage(s *Stage) error {
	switch s.Kind {
	case StageChoice, StageSelection:
		if len(s.Options) < 2 {
			return fmt.Errorf("needs at least two options")
		}
		if !contains(s.Options, s.Answer) {
			return fmt.Errorf("answer %q is not one of the options", s.Answer)
		}
	case StageCode:
		if s.Answer == "" {
			return fmt.Errorf("missing answer")
		}
	case StageNumeric:
		if (s.Value == nil) == (s.AnswerExpr == "") {
			return fmt.Errorf("exactly one of value and answer_expr is required")
		}
		if s.Tolerance < 0 {
			return fmt.Errorf("negative tolerance")
		}
	case StageText:
		if len(s.Blanks) == 0 || len(s.Blanks) != len(s.Answers) {
			return fmt.Errorf("blanks and answers must be non-empty and the same length")
		}
	case StageCircuit:
		return validateCircuit(s)
	case StageMagnetic:
		return validateMagnetic(s)
	case StageProjectile:
		if s.Tolerance <= 0 || s.Power <= 0 {
			return fmt.Errorf("tolerance and power must be positive")
		}
		if s.TargetAngle < 0 || s.TargetAngle > 90 {
			return fmt.Errorf("target_angle must be within 0..90")
		}
	case StagePlay:
	default:
		return fmt.Errorf("unknown stage kind %q", s.Kind)
	}
	return nil
}

func validateCircuit(s *Stage) error {
	if s.Layout == "" {
		s.Layout = LayoutSeries
	}
	switch s.Layout {
	case LayoutSeries:
		if s.Pick < 1 {
			return fmt.Errorf("pick must be positive")
		}
	case LayoutParallelSeries:
		if s.Pick != 3 {
			return fmt.Errorf("parallel_series needs pick 3")
		}
	default:
		return fmt.Errorf("unknown layout %q", s.Layout)
	}
	if s.Pick > len(s.Resistors) {
		return fmt.Errorf("pick %d exceeds %d resistors", s.Pick, len(s.Resistors))
	}
	for _, r := range s.Resistors {
		if r <= 0 || math.IsInf(r, 0) {
			return fmt.Errorf("resistances must be positive")
		}
	}
	if s.Target <= 0 {
		return fmt.Errorf("target must be positive")
	}
	return nil
}

func validateMagnetic(s *Stage) error {
	if len(s.Grid) == 0 {
		return fmt.Errorf("empty grid")
	}
	width := len(s.Grid[0])
	for i, row := range s.Grid {
		if len(row) != width || width == 0 {
			return fmt.Errorf("grid row %d is not %d cells wide", i, width)
		}
		for j := 0; j < len(row); j++ {
			ch := row[j]
			if ch == CellWall || ch == CellSource || ch == CellTarget {
				continue
			}
			if _, ok := s.Legend[string(ch)]; !ok {
				return fmt.Errorf("cell %q at (%d,%d) missing from legend", ch, j, i)
			}
		}
	}
	if _, _, n := s.Find(CellSource); n != 1 {
		return fmt.Errorf("grid needs exactly one source, has %d", n)
	}
	if _, _, n := s.Find(CellTarget); n != 1 {
		return fmt.Errorf("grid needs exactly one target, has %d", n)
	}
	if s.Current == 0 || s.MaxPath <= 0 {
		return fmt.Errorf("current and max_path are required")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
