package progress

import (
	"context"
	"sort"
	"strconv"

	"github.com/physquest/server/model"
	"go.uber.org/zap"
)

// RankingKey is the sorted set of total score per user id.
const RankingKey = "ranking:score"

const maxRanking = 100

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	ProfileIcon string `json:"profile_icon"`
	Score       int64  `json:"score"`
}

type scoreRow struct {
	UserID int64
	Total  int64
}

func memberOf(userID int64) string { return strconv.FormatInt(userID, 10) }

// Top returns the best players by total score. The cached sorted set is
// used when present; otherwise the totals come from the database and the
// cache is repopulated.
func (s *Service) Top(ctx context.Context, limit int) ([]RankEntry, error) {
	if limit <= 0 || limit > maxRanking {
		limit = 20
	}
	zs, err := s.cache.ZRevRangeWithScores(ctx, RankingKey, 0, int64(limit-1))
	if err == nil && len(zs) > 0 {
		entries := make([]RankEntry, 0, len(zs))
		for _, z := range zs {
			id, err := strconv.ParseInt(z.Member, 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, RankEntry{UserID: id, Score: int64(z.Score)})
		}
		return s.finish(ctx, entries)
	}
	if err != nil {
		s.logger.Warn("ranking cache read failed", zap.Error(err))
	}

	rows, err := s.totals(ctx, nil, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]RankEntry, len(rows))
	for i, r := range rows {
		entries[i] = RankEntry{UserID: r.UserID, Score: r.Total}
		_ = s.cache.ZAdd(ctx, RankingKey, float64(r.Total), memberOf(r.UserID))
	}
	return s.finish(ctx, entries)
}

// Among ranks the given users by their database totals. Users with no
// completed level appear with score 0.
func (s *Service) Among(ctx context.Context, ids []int64) ([]RankEntry, error) {
	if len(ids) == 0 {
		return []RankEntry{}, nil
	}
	rows, err := s.totals(ctx, ids, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]int64, len(rows))
	for _, r := range rows {
		byID[r.UserID] = r.Total
	}
	entries := make([]RankEntry, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, RankEntry{UserID: id, Score: byID[id]})
	}
	entries, err = s.finish(ctx, entries)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// RefreshRanking rebuilds the sorted set from level_progress. It is run by
// the scheduler and from the admin API.
func (s *Service) RefreshRanking(ctx context.Context) (int, error) {
	rows, err := s.totals(ctx, nil, 0)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Del(ctx, RankingKey); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := s.cache.ZAdd(ctx, RankingKey, float64(r.Total), memberOf(r.UserID)); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// totals sums completed scores per user, best first. ids restricts the
// users and limit caps the rows when positive.
func (s *Service) totals(ctx context.Context, ids []int64, limit int) ([]scoreRow, error) {
	q := s.db.WithContext(ctx).Model(&model.LevelProgress{}).
		Select("user_id, SUM(score) AS total").
		Where("completed = ?", true).
		Group("user_id").
		Order("total DESC, user_id")
	if len(ids) > 0 {
		q = q.Where("user_id IN ?", ids)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []scoreRow
	err := q.Scan(&rows).Error
	return rows, err
}

// finish fills in names and ranks, dropping users that no longer exist.
func (s *Service) finish(ctx context.Context, entries []RankEntry) ([]RankEntry, error) {
	if len(entries) == 0 {
		return []RankEntry{}, nil
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Select("id", "username", "profile_icon").
		Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := entries[:0]
	for _, e := range entries {
		u, ok := byID[e.UserID]
		if !ok {
			continue
		}
		e.Username, e.ProfileIcon = u.Username, u.ProfileIcon
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, nil
}
