package webserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/publisher"
)

type QueueHandler struct {
	db         *gorm.DB
	queue      *publisher.Queue
	cronSecret string
}

func NewQueueHandler(db *gorm.DB, queue *publisher.Queue, cronSecret string) QueueHandler {
	return QueueHandler{db: db, queue: queue, cronSecret: cronSecret}
}

type queueItem struct {
	ID          uint64     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Recurring   bool       `json:"recurring"`
	Platforms   []string   `json:"platforms"`
}

// List splits the client's scheduled posts into ready-to-publish and
// upcoming, ordered soonest first.
func (q QueueHandler) List(c *gin.Context) {
	_, cid, _ := actorFrom(c)
	now := time.Now()

	var posts []types.Post
	if err := q.db.Where("client_id = ? AND status = ?", cid, types.PostStatusScheduled).
		Order("scheduled_at ASC").Find(&posts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "load queue"})
		return
	}

	ready := make([]queueItem, 0)
	upcoming := make([]queueItem, 0)
	for _, p := range posts {
		item := queueItem{
			ID:          p.ID,
			Title:       p.Title,
			Status:      p.Status,
			ScheduledAt: p.ScheduledAt,
			Recurring:   p.Recurring,
			Platforms:   platformsOf(q.db, p.ID),
		}
		if p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			ready = append(ready, item)
		} else {
			upcoming = append(upcoming, item)
		}
	}

	c.JSON(http.StatusOK, gin.H{"ready_to_publish": ready, "upcoming_scheduled": upcoming})
}

// ProcessQueue is the cron entry point. It authenticates with a shared
// secret header instead of a user token.
func (q QueueHandler) ProcessQueue(c *gin.Context) {
	if q.cronSecret == "" || c.GetHeader("X-Cron-Auth") != q.cronSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"err": "bad cron auth"})
		return
	}

	stats, err := q.queue.ProcessDue(c.Request.Context())
	if err != nil {
		log.Printf("queue: cron tick failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "tick failed"})
		return
	}
	log.Printf("queue: cron tick processed=%d published=%d partial=%d",
		stats.Processed, stats.Published, stats.Partial)
	c.JSON(http.StatusOK, stats)
}
