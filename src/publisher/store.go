package publisher

import (
	"time"

	"github.com/relaypost/relaypost/src/api/types"
	"gorm.io/gorm"
)

// Store is the slice of persistence the publisher needs. The MySQL
// implementation below is the production one; tests swap in a memory
// fake.
type Store interface {
	DuePosts(now time.Time) ([]types.Post, error)
	PostStatus(postID uint64) (string, error)
	FinishPost(postID uint64, status string, publishedAt time.Time) error
	ReschedulePost(postID uint64, next time.Time) error

	LinksForPost(postID uint64) ([]types.PostPlatform, error)
	UpdateLink(link *types.PostPlatform) error

	MediaForPost(postID uint64) ([]types.PostMedia, error)

	Account(id uint64) (types.SocialAccount, error)
	SaveAccount(account *types.SocialAccount) error
}

type mysqlStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &mysqlStore{db: db}
}

func (s *mysqlStore) DuePosts(now time.Time) ([]types.Post, error) {
	var posts []types.Post
	err := s.db.Where("status = ? AND scheduled_at <= ?", types.PostStatusScheduled, now).
		Order("scheduled_at").Find(&posts).Error
	return posts, err
}

func (s *mysqlStore) PostStatus(postID uint64) (string, error) {
	var post types.Post
	if err := s.db.Select("status").First(&post, postID).Error; err != nil {
		return "", err
	}
	return post.Status, nil
}

func (s *mysqlStore) FinishPost(postID uint64, status string, publishedAt time.Time) error {
	return s.db.Model(&types.Post{}).Where("id = ?", postID).
		Updates(map[string]interface{}{
			"status":       status,
			"published_at": publishedAt,
		}).Error
}

func (s *mysqlStore) ReschedulePost(postID uint64, next time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.Post{}).Where("id = ?", postID).
			Updates(map[string]interface{}{
				"status":       types.PostStatusScheduled,
				"scheduled_at": next,
				"published_at": nil,
			}).Error; err != nil {
			return err
		}
		// Fresh occurrence, fresh links.
		return tx.Model(&types.PostPlatform{}).Where("post_id = ?", postID).
			Updates(map[string]interface{}{
				"status":       types.LinkStatusPending,
				"external_id":  "",
				"error_detail": "",
				"published_at": nil,
			}).Error
	})
}

func (s *mysqlStore) LinksForPost(postID uint64) ([]types.PostPlatform, error) {
	var links []types.PostPlatform
	err := s.db.Where("post_id = ?", postID).Find(&links).Error
	return links, err
}

func (s *mysqlStore) UpdateLink(link *types.PostPlatform) error {
	return s.db.Save(link).Error
}

func (s *mysqlStore) MediaForPost(postID uint64) ([]types.PostMedia, error) {
	var media []types.PostMedia
	err := s.db.Where("post_id = ?", postID).Order("position").Find(&media).Error
	return media, err
}

func (s *mysqlStore) Account(id uint64) (types.SocialAccount, error) {
	var account types.SocialAccount
	err := s.db.First(&account, id).Error
	return account, err
}

func (s *mysqlStore) SaveAccount(account *types.SocialAccount) error {
	return s.db.Save(account).Error
}
