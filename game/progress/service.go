// Package progress records stage attempts and level completions and keeps
// the score leaderboard.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/physquest/server/cache"
	"github.com/physquest/server/game/grading"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/model"
	"github.com/physquest/server/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound      = level.ErrNotFound
	ErrStageNotFound = errors.New("stage not found")
	ErrWrongEvent    = errors.New("completion event does not match level")
)

// Outcome is the result of a stage submission together with the updated
// progress of the level.
type Outcome struct {
	grading.Result
	Level         string   `json:"level"`
	Attempts      int      `json:"attempts"`
	StagesCleared []string `json:"stages_cleared"`
	Completed     bool     `json:"completed"`
	JustCompleted bool     `json:"just_completed"`
	Score         int      `json:"score"`
}

// Service ties the catalog, the grader and the level_progress table together.
type Service struct {
	db      *gorm.DB
	cache   cache.Cache
	catalog *level.Catalog
	grader  *grading.Grader
	hooks   *hook.HookCenter
	logger  *zap.Logger
}

func NewService(db *gorm.DB, c cache.Cache, cat *level.Catalog, g *grading.Grader, hooks *hook.HookCenter, logger *zap.Logger) *Service {
	return &Service{db: db, cache: c, catalog: cat, grader: g, hooks: hooks, logger: logger}
}

// Score is the level score after attempts submissions: full points when
// every stage was cleared first time, minus a tenth of the points for each
// extra attempt, never below a tenth of the points.
func Score(points, stages, attempts int) int {
	extra := attempts - stages
	if extra < 0 {
		extra = 0
	}
	floor := points / 10
	score := points - points*extra/10
	if score < floor {
		score = floor
	}
	return score
}

// Submit grades one stage answer and records the attempt.
func (s *Service) Submit(ctx context.Context, userID int64, levelKey, stageID string, sub grading.Submission) (*Outcome, error) {
	lvl, err := s.catalog.Get(levelKey)
	if err != nil {
		return nil, err
	}
	st, err := lvl.Stage(stageID)
	if err != nil {
		return nil, ErrStageNotFound
	}
	res, err := s.grader.Grade(ctx, lvl, st, sub)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Result: res}
	var prevScore int
	err = s.update(ctx, userID, lvl.Key, func(lp *model.LevelProgress, cleared []string) []string {
		lp.Attempts++
		if res.Correct && !contains(cleared, st.ID) {
			cleared = append(cleared, st.ID)
		}
		if !lp.Completed && allCleared(lvl, cleared) {
			prevScore = lp.Score
			s.markComplete(lp, lvl)
			out.JustCompleted = true
		}
		return cleared
	}, out)
	if err != nil {
		return nil, err
	}
	if out.JustCompleted {
		s.completed(ctx, userID, lvl, out.Score, out.Score-prevScore)
	}
	return out, nil
}

// Complete is the browser game's completion callback. event must be the
// level's completion event. elapsedMs, when positive, competes for the best
// time. Completing an already completed level does not change its score.
func (s *Service) Complete(ctx context.Context, userID int64, levelKey, event string, elapsedMs int64) (*Outcome, error) {
	lvl, err := s.catalog.Get(levelKey)
	if err != nil {
		return nil, err
	}
	if event != lvl.CompletionEvent {
		return nil, ErrWrongEvent
	}

	out := &Outcome{Result: grading.Result{Correct: true, Message: "Level complete!"}}
	var prevScore int
	err = s.update(ctx, userID, lvl.Key, func(lp *model.LevelProgress, cleared []string) []string {
		if elapsedMs > 0 && (lp.BestTimeMs == 0 || elapsedMs < lp.BestTimeMs) {
			lp.BestTimeMs = elapsedMs
		}
		if lp.Completed {
			return cleared
		}
		for _, id := range lvl.StageIDs() {
			if !contains(cleared, id) {
				cleared = append(cleared, id)
			}
		}
		prevScore = lp.Score
		s.markComplete(lp, lvl)
		out.JustCompleted = true
		return cleared
	}, out)
	if err != nil {
		return nil, err
	}
	if out.JustCompleted {
		s.completed(ctx, userID, lvl, out.Score, out.Score-prevScore)
	}
	return out, nil
}

// CompleteByEvent resolves the level from its completion event.
func (s *Service) CompleteByEvent(ctx context.Context, userID int64, event string, elapsedMs int64) (*Outcome, error) {
	lvl, err := s.catalog.ByEvent(event)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, userID, lvl.Key, event, elapsedMs)
}

func (s *Service) markComplete(lp *model.LevelProgress, lvl *level.Level) {
	now := time.Now()
	lp.Completed = true
	lp.CompletedAt = &now
	score := Score(lvl.Points, len(lvl.Stages), lp.Attempts)
	if score > lp.Score {
		lp.Score = score
	}
}

// update loads (or creates) the progress row under a row lock, applies fn
// and saves the row. out receives the saved state.
func (s *Service) update(ctx context.Context, userID int64, key string, fn func(*model.LevelProgress, []string) []string, out *Outcome) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lp model.LevelProgress
		err := lockRow(tx, userID, key, &lp)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A concurrent first submission may insert the same pair; the
			// loser's insert is a no-op and both then lock the one row.
			fresh := model.LevelProgress{UserID: userID, LevelKey: key, StagesCleared: datatypes.JSON("[]")}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
				return err
			}
			err = lockRow(tx, userID, key, &lp)
		}
		if err != nil {
			return err
		}

		cleared := decodeCleared(lp.StagesCleared)
		cleared = fn(&lp, cleared)
		raw, err := json.Marshal(cleared)
		if err != nil {
			return err
		}
		lp.StagesCleared = raw
		if err := tx.Save(&lp).Error; err != nil {
			return err
		}
		out.Level = key
		out.Attempts = lp.Attempts
		out.StagesCleared = cleared
		out.Completed = lp.Completed
		out.Score = lp.Score
		return nil
	})
}

func lockRow(tx *gorm.DB, userID int64, key string, lp *model.LevelProgress) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND level_key = ?", userID, key).
		First(lp).Error
}

// completed updates the leaderboard and fires OnLevelComplete. delta is the
// score gained over the previous best, so repeats never double count.
func (s *Service) completed(ctx context.Context, userID int64, lvl *level.Level, score, delta int) {
	if delta > 0 {
		if _, err := s.cache.ZIncrBy(ctx, RankingKey, float64(delta), memberOf(userID)); err != nil {
			s.logger.Warn("ranking update failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	var u model.User
	_ = s.db.WithContext(ctx).Select("id", "username").First(&u, userID).Error
	s.logger.Info("level complete",
		zap.Int64("user_id", userID), zap.String("level", lvl.Key), zap.Int("score", score))
	ev := &hook.LevelEvent{
		UserID: userID, Username: u.Username,
		LevelKey: lvl.Key, Title: lvl.Title,
		Score: score, Delta: delta,
	}
	if _, err := s.hooks.Trigger(ctx, hook.OnLevelComplete, ev); err != nil {
		s.logger.Debug("hook returned error", zap.String("event", hook.OnLevelComplete), zap.Error(err))
	}
}

// ForUser lists all progress rows of a user.
func (s *Service) ForUser(ctx context.Context, userID int64) ([]model.LevelProgress, error) {
	var rows []model.LevelProgress
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("level_key").Find(&rows).Error
	return rows, err
}

// CompletedKeys returns the set of level keys the user has completed.
func (s *Service) CompletedKeys(ctx context.Context, userID int64) (map[string]bool, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&model.LevelProgress{}).
		Where("user_id = ? AND completed = ?", userID, true).
		Pluck("level_key", &keys).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out, nil
}

// Summary is a user's completion overview.
type Summary struct {
	GCSE       int `json:"gcse"`
	ALevel     int `json:"alevel"`
	Minigames  int `json:"minigames"`
	Cutscenes  int `json:"cutscenes"`
	TotalScore int `json:"total_score"`
	Levels     int `json:"levels"`
}

func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	rows, err := s.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Levels: s.catalog.Len()}
	for _, r := range rows {
		if !r.Completed {
			continue
		}
		sum.TotalScore += r.Score
		lvl, err := s.catalog.Get(r.LevelKey)
		if err != nil {
			// Level removed from the catalog since; the score still counts.
			continue
		}
		switch {
		case lvl.Kind == level.KindMinigame:
			sum.Minigames++
		case lvl.Kind == level.KindCutscene:
			sum.Cutscenes++
		case lvl.Tier == level.TierGCSE:
			sum.GCSE++
		case lvl.Tier == level.TierALevel:
			sum.ALevel++
		}
	}
	return sum, nil
}

func decodeCleared(raw datatypes.JSON) []string {
	var ids []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ids)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids
}

func allCleared(lvl *level.Level, cleared []string) bool {
	for _, id := range lvl.StageIDs() {
		if !contains(cleared, id) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
