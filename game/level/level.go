// Package level holds the catalog of playable GCSE and A-level levels.
package level

import "errors"

// ErrNotFound is returned for an unknown level or stage key.
var ErrNotFound = errors.New("level not found")

type Tier string

const (
	TierGCSE   Tier = "gcse"
	TierALevel Tier = "alevel"
)

type Kind string

const (
	KindLevel    Kind = "level"
	KindMinigame Kind = "minigame"
	KindCutscene Kind = "cutscene"
)

type StageKind string

const (
	StageChoice     StageKind = "choice"
	StageNumeric    StageKind = "numeric"
	StageText       StageKind = "text"
	StageCode       StageKind = "code"
	StageSelection  StageKind = "selection"
	StageCircuit    StageKind = "circuit"
	StageMagnetic   StageKind = "magnetic"
	StageProjectile StageKind = "projectile"
	StagePlay       StageKind = "play"
)

// Circuit layouts.
const (
	LayoutSeries         = "series"
	LayoutParallelSeries = "parallel_series" // picks[0] ∥ picks[1], then picks[2] in series
)

// Magnetic grid cells with fixed meaning. Every other cell letter must be in
// the stage legend.
const (
	CellWall   = 'w'
	CellSource = 's'
	CellTarget = 't'
)

// Level is one catalog entry. Answers are tagged json:"-" so a Level can be
// served to clients as-is.
type Level struct {
	Key             string   `yaml:"key" json:"key"`
	Tier            Tier     `yaml:"tier" json:"tier,omitempty"`
	Kind            Kind     `yaml:"kind" json:"kind"`
	Number          int      `yaml:"number" json:"number"`
	Title           string   `yaml:"title" json:"title"`
	Topic           string   `yaml:"topic" json:"topic,omitempty"`
	Summary         string   `yaml:"summary" json:"summary,omitempty"`
	Intro           []string `yaml:"intro" json:"intro,omitempty"`
	Bundle          string   `yaml:"bundle" json:"bundle,omitempty"`
	CompletionEvent string   `yaml:"completion_event" json:"completion_event"`
	Points          int      `yaml:"points" json:"points"`
	Stages          []*Stage `yaml:"stages" json:"stages"`
}

// Stage returns the stage with the given id.
func (l *Level) Stage(id string) (*Stage, error) {
	for _, s := range l.Stages {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// StageIDs returns the stage ids in catalog order.
func (l *Level) StageIDs() []string {
	ids := make([]string, len(l.Stages))
	for i, s := range l.Stages {
		ids[i] = s.ID
	}
	return ids
}

// Stage is one question or puzzle within a level. Only the fields of its
// Kind are meaningful.
type Stage struct {
	ID     string    `yaml:"id" json:"id"`
	Kind   StageKind `yaml:"kind" json:"kind"`
	Title  string    `yaml:"title" json:"title,omitempty"`
	Prompt []string  `yaml:"prompt" json:"prompt,omitempty"`
	Hints  []string  `yaml:"hints" json:"hints,omitempty"`

	// choice, selection, code
	Options []string `yaml:"options" json:"options,omitempty"`
	Answer  string   `yaml:"answer" json:"-"`

	// numeric
	Value      *float64           `yaml:"value" json:"-"`
	AnswerExpr string             `yaml:"answer_expr" json:"-"`
	Vars       map[string]float64 `yaml:"vars" json:"vars,omitempty"`
	Tolerance  float64            `yaml:"tolerance" json:"tolerance,omitempty"`
	Relative   bool               `yaml:"relative" json:"relative,omitempty"`
	Unit       string             `yaml:"unit" json:"unit,omitempty"`

	// text
	Blanks  []string `yaml:"blanks" json:"blanks,omitempty"`
	Answers []string `yaml:"answers" json:"-"`

	// circuit
	Resistors []float64 `yaml:"resistors" json:"resistors,omitempty"`
	Pick      int       `yaml:"pick" json:"pick,omitempty"`
	Layout    string    `yaml:"layout" json:"layout,omitempty"`
	Target    float64   `yaml:"target" json:"target,omitempty"`
	Voltage   float64   `yaml:"voltage" json:"voltage,omitempty"`

	// magnetic
	Grid          []string           `yaml:"grid" json:"grid,omitempty"`
	Legend        map[string]float64 `yaml:"legend" json:"legend,omitempty"`
	Current       float64            `yaml:"current" json:"current,omitempty"`
	RequiredForce float64            `yaml:"required_force" json:"required_force,omitempty"`
	MaxPath       int                `yaml:"max_path" json:"max_path,omitempty"`

	// projectile
	TargetAngle float64 `yaml:"target_angle" json:"-"`
	Power       float64 `yaml:"power" json:"power,omitempty"`
}

// Cell returns the grid letter at (x, y), or 0 when out of range.
func (s *Stage) Cell(x, y int) byte {
	if y < 0 || y >= len(s.Grid) || x < 0 || x >= len(s.Grid[y]) {
		return 0
	}
	return s.Grid[y][x]
}

// Find returns the first cell holding ch and how many cells hold it.
func (s *Stage) Find(ch byte) (x, y, count int) {
	x, y = -1, -1
	for yy, row := range s.Grid {
		for xx := 0; xx < len(row); xx++ {
			if row[xx] == ch {
				if count == 0 {
					x, y = xx, yy
				}
				count++
			}
		}
	}
	return x, y, count
}
