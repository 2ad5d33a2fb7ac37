package grading

import (
	"fmt"
	"math"

	"github.com/physquest/server/game/level"
)

func gradeCircuit(s *level.Stage, picks []int) (Result, error) {
	if len(picks) != s.Pick {
		return Result{}, fmt.Errorf("%w: pick %d resistors", ErrBadSubmission, s.Pick)
	}
	seen := make(map[int]bool, len(picks))
	values := make([]float64, len(picks))
	for i, p := range picks {
		if p < 0 || p >= len(s.Resistors) || seen[p] {
			return Result{}, fmt.Errorf("%w: bad resistor index %d", ErrBadSubmission, p)
		}
		seen[p] = true
		values[i] = s.Resistors[p]
	}

	total := Resistance(s.Layout, values)
	detail := map[string]interface{}{"resistance": total}
	if s.Voltage > 0 && total > 0 {
		detail["current"] = s.Voltage / total
	}
	return verdict(math.Abs(total-s.Target) <= s.Tolerance+forceEpsilon, detail), nil
}

// Resistance combines resistor values according to layout.
func Resistance(layout string, values []float64) float64 {
	if layout == level.LayoutParallelSeries && len(values) >= 2 {
		a, b := values[0], values[1]
		var total float64
		if a > 0 && b > 0 {
			total = 1 / (1/a + 1/b)
		}
		for _, v := range values[2:] {
			total += v
		}
		return total
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// Force returns F = ΣB·I·L for a path, where the sum and L cover the cells
// strictly between the first and last cell.
func Force(s *level.Stage, path [][2]int) (force, totalB float64, length int) {
	if len(path) < 2 {
		return 0, 0, 0
	}
	for _, p := range path[1 : len(path)-1] {
		totalB += s.Legend[string(s.Cell(p[0], p[1]))]
	}
	length = len(path) - 2
	return totalB * s.Current * float64(length), totalB, length
}

// CheckPath reports why a magnetic path is not a valid route from source to
// target, or "" when it is.
func CheckPath(s *level.Stage, path [][2]int) string {
	sx, sy, _ := s.Find(level.CellSource)
	tx, ty, _ := s.Find(level.CellTarget)
	if len(path) < 2 {
		return "The path must lead from the source to the target."
	}
	if path[0] != [2]int{sx, sy} {
		return "The path must start at the source."
	}
	if len(path) > s.MaxPath+2 {
		return fmt.Sprintf("Path length limit = %d", s.MaxPath)
	}
	seen := make(map[[2]int]bool, len(path))
	for i, p := range path {
		c := s.Cell(p[0], p[1])
		if c == 0 {
			return "The path leaves the grid."
		}
		if c == level.CellWall {
			return "The path cannot cross a wall."
		}
		if seen[p] {
			return "The path cannot visit a tile twice."
		}
		seen[p] = true
		if i > 0 {
			prev := path[i-1]
			if abs(p[0]-prev[0])+abs(p[1]-prev[1]) != 1 {
				return "Each step must move to an adjacent tile."
			}
		}
		if c == level.CellTarget && i != len(path)-1 {
			return "The path must end at the target."
		}
	}
	if last := path[len(path)-1]; last != [2]int{tx, ty} {
		return "The path must end at the target."
	}
	return ""
}

func gradeMagnetic(s *level.Stage, path [][2]int) (Result, error) {
	if len(path) == 0 {
		return Result{}, fmt.Errorf("%w: empty path", ErrBadSubmission)
	}
	if reason := CheckPath(s, path); reason != "" {
		return Result{Message: reason}, nil
	}
	force, totalB, length := Force(s, path)
	detail := map[string]interface{}{
		"force":   force,
		"total_b": totalB,
		"length":  length,
	}
	return verdict(math.Abs(force-s.RequiredForce) < forceEpsilon, detail), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Point is one sample of a projectile trajectory.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

const trajectorySamples = 24

// Trajectory samples the flight of a launch on the given bearing (degrees
// from vertical) at the given power until it returns to y = 0.
func Trajectory(bearing, power float64) []Point {
	a := (90 - bearing) * math.Pi / 180
	velx := math.Cos(a) * power
	vely := math.Sin(a) * power
	if vely <= 0 {
		return []Point{{}}
	}
	// y = vely·t − gravity·t²/2 reaches 0 again at t = 2·vely/gravity.
	flight := 2 * vely / gravity
	pts := make([]Point, 0, trajectorySamples+1)
	for i := 0; i <= trajectorySamples; i++ {
		t := flight * float64(i) / trajectorySamples
		y := vely*t - gravity*t*t/2
		if i == trajectorySamples {
			y = 0
		}
		pts = append(pts, Point{X: velx * t, Y: y})
	}
	return pts
}

func gradeProjectile(s *level.Stage, angle *float64) (Result, error) {
	if angle == nil || math.IsNaN(*angle) || math.IsInf(*angle, 0) {
		return Result{}, ErrMissingAngle
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}
	detail := map[string]interface{}{"trajectory": Trajectory(*angle, s.Power)}
	return verdict(math.Abs(*angle-s.TargetAngle) <= tol, detail), nil
}
