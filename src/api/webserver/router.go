package webserver

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/relaypost/relaypost/src/api/config"
	"github.com/relaypost/relaypost/src/approval"
	"github.com/relaypost/relaypost/src/platforms"
	"github.com/relaypost/relaypost/src/publisher"
)

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client, reg *platforms.Registry, states platforms.StateIssuer, machine *approval.Machine, queue *publisher.Queue, disp *publisher.Dispatcher, sealer *publisher.Sealer) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", cfg.PublicURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Cron-Auth"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	postsH := NewPosts(db, machine, queue, disp)
	queueH := NewQueueHandler(db, queue, cfg.CronSecret)
	oauthH := NewOAuth(db, rdb, reg, states, sealer, time.Duration(cfg.StateTTL)*time.Second)

	limiter := NewRateLimiter(30, time.Minute)

	v1 := r.Group("/v1")
	{
		// Cron trigger and the OAuth callback carry their own auth.
		v1.POST("/posts/process-queue", queueH.ProcessQueue)
		v1.GET("/social-accounts/oauth/callback", RateLimitMiddleware(limiter), oauthH.Callback)

		secured := v1.Group("")
		secured.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
		{
			secured.POST("/posts", postsH.Create)
			secured.POST("/posts/:id/submit", postsH.Submit)
			secured.POST("/posts/:id/approve", postsH.Approve)
			secured.POST("/posts/:id/reject", postsH.Reject)
			secured.POST("/posts/:id/schedule", postsH.Schedule)
			secured.POST("/posts/:id/publish", postsH.Publish)
			secured.POST("/posts/:id/retry", postsH.Retry)
			secured.POST("/posts/:id/cancel", postsH.Cancel)
			secured.GET("/posts/:id", postsH.Get)
			secured.GET("/posts/queue", queueH.List)

			secured.POST("/social-accounts/oauth/init", oauthH.Init)
			secured.GET("/social-accounts", oauthH.ListAccounts)
		}
	}
}
