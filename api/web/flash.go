package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/physquest/server/cache"
	"go.uber.org/zap"
)

// Flash categories.
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

const (
	flashCookie = "pq_flash"
	flashTTL    = 10 * time.Minute
	flashOpTime = 2 * time.Second
)

// Flash is a one-time message shown on the next rendered page.
type Flash struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

func flashKey(box string) string { return "flash:" + box }

// FlashStore keeps flash messages in the cache, keyed by a random box id
// carried in the pq_flash cookie.
type FlashStore struct {
	cache  cache.Cache
	secure bool
	logger *zap.Logger
}

func NewFlashStore(c cache.Cache, secureCookie bool, logger *zap.Logger) *FlashStore {
	return &FlashStore{cache: c, secure: secureCookie, logger: logger}
}

// Add queues a message for the client's next page.
func (f *FlashStore) Add(c *gin.Context, category, text string) {
	box := f.box(c, true)
	data, _ := json.Marshal(Flash{Category: category, Text: text})
	ctx, cancel := context.WithTimeout(c.Request.Context(), flashOpTime)
	defer cancel()
	if err := f.cache.RPush(ctx, flashKey(box), string(data)); err != nil {
		f.logger.Warn("flash push failed", zap.Error(err))
		return
	}
	_ = f.cache.Expire(ctx, flashKey(box), flashTTL)
}

// Pop returns and removes every queued message, so each is shown once.
func (f *FlashStore) Pop(c *gin.Context) []Flash {
	box := f.box(c, false)
	if box == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), flashOpTime)
	defer cancel()
	raw, err := f.cache.LDrain(ctx, flashKey(box))
	if err != nil || len(raw) == 0 {
		return nil
	}
	out := make([]Flash, 0, len(raw))
	for _, r := range raw {
		var fl Flash
		if json.Unmarshal([]byte(r), &fl) == nil {
			out = append(out, fl)
		}
	}
	return out
}

// box returns the client's flash box id, issuing a cookie when create is set.
func (f *FlashStore) box(c *gin.Context, create bool) string {
	if id, err := c.Cookie(flashCookie); err == nil {
		if _, perr := uuid.Parse(id); perr == nil {
			return id
		}
	}
	if v, ok := c.Get(flashCookie); ok {
		return v.(string)
	}
	if !create {
		return ""
	}
	id := uuid.NewString()
	c.Set(flashCookie, id)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, id, 0, "/", "", f.secure, true)
	return id
}
