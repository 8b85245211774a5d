package data

import (
	"log"

	"github.com/relaypost/relaypost/src/api/types"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func MustMySQL(dsn string) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	return db
}

// Migrate keeps the schema current on startup.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Client{},
		&types.User{},
		&types.Post{},
		&types.PostPlatform{},
		&types.PostMedia{},
		&types.SocialAccount{},
		&types.ApprovalRecord{},
		&types.Setting{},
	)
}
