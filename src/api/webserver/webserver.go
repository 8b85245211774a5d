package webserver

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/relaypost/relaypost/src/api/config"
	"github.com/relaypost/relaypost/src/approval"
	"github.com/relaypost/relaypost/src/platforms"
	"github.com/relaypost/relaypost/src/publisher"
)

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client, reg *platforms.Registry, states platforms.StateIssuer, queue *publisher.Queue, disp *publisher.Dispatcher, sealer *publisher.Sealer) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	machine := approval.New(db)
	attachRoutes(g, cfg, db, rdb, reg, states, machine, queue, disp, sealer)
	return g
}
