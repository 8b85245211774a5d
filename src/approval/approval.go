// Package approval owns the post status state machine. Author and
// reviewer actions go through Machine; the publish queue persists
// dispatch outcomes through its own store, along the
// scheduled/approved edges this table also lists.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaypost/relaypost/src/api/types"
	"gorm.io/gorm"
)

var (
	ErrNotAllowed     = errors.New("transition not allowed")
	ErrManagerOnly    = errors.New("manager role required")
	ErrEmptyContent   = errors.New("post content is empty")
	ErrNoPlatforms    = errors.New("post has no platforms attached")
	ErrFeedbackNeeded = errors.New("rejection requires feedback")
	ErrPastSchedule   = errors.New("scheduled time must be in the future")
)

// transitions lists every legal (from -> to) pair. published and
// cancelled are terminal; partially_published accepts the retry action,
// which re-enters dispatch rather than changing status here.
var transitions = map[string][]string{
	types.PostStatusDraft:              {types.PostStatusPendingApproval, types.PostStatusCancelled},
	types.PostStatusPendingApproval:    {types.PostStatusApproved, types.PostStatusDraft, types.PostStatusCancelled},
	types.PostStatusApproved:           {types.PostStatusScheduled, types.PostStatusPublished, types.PostStatusPartiallyPublished, types.PostStatusCancelled},
	types.PostStatusScheduled:          {types.PostStatusPublished, types.PostStatusPartiallyPublished, types.PostStatusCancelled},
	types.PostStatusPartiallyPublished: {types.PostStatusPublished},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanEdit reports whether an actor may change content or platforms.
// Only drafts are editable, with a manager override.
func CanEdit(post types.Post, actor types.User) bool {
	return post.Status == types.PostStatusDraft || actor.Role == types.RoleManager
}

// ValidateSubmit guards draft -> pending_approval.
func ValidateSubmit(post types.Post, linkCount int) error {
	if !CanTransition(post.Status, types.PostStatusPendingApproval) {
		return fmt.Errorf("%w: %s -> %s", ErrNotAllowed, post.Status, types.PostStatusPendingApproval)
	}
	if post.Content == "" {
		return ErrEmptyContent
	}
	if linkCount == 0 {
		return ErrNoPlatforms
	}
	return nil
}

// ValidateSchedule guards approved -> scheduled.
func ValidateSchedule(post types.Post, at, now time.Time) error {
	if !CanTransition(post.Status, types.PostStatusScheduled) {
		return fmt.Errorf("%w: %s -> %s", ErrNotAllowed, post.Status, types.PostStatusScheduled)
	}
	if !at.After(now) {
		return ErrPastSchedule
	}
	return nil
}

// Machine applies transitions transactionally and keeps the approval
// history append-only.
type Machine struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Machine {
	return &Machine{db: db}
}

// Submit moves a draft into review.
func (m *Machine) Submit(post *types.Post) error {
	var linkCount int64
	if err := m.db.Model(&types.PostPlatform{}).Where("post_id = ?", post.ID).Count(&linkCount).Error; err != nil {
		return err
	}
	if err := ValidateSubmit(*post, int(linkCount)); err != nil {
		return err
	}
	return m.setStatus(post, types.PostStatusPendingApproval)
}

// Approve records the decision and, when a schedule already exists,
// advances straight to scheduled in the same transaction.
func (m *Machine) Approve(post *types.Post, actor types.User) error {
	if actor.Role != types.RoleManager {
		return ErrManagerOnly
	}
	if !CanTransition(post.Status, types.PostStatusApproved) {
		return fmt.Errorf("%w: %s -> %s", ErrNotAllowed, post.Status, types.PostStatusApproved)
	}

	target := types.PostStatusApproved
	if post.ScheduledAt != nil {
		target = types.PostStatusScheduled
	}
	return m.db.Transaction(func(tx *gorm.DB) error {
		record := types.ApprovalRecord{
			PostID:    post.ID,
			Status:    "approved",
			ActorID:   actor.ID,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		post.Status = target
		return tx.Model(&types.Post{}).Where("id = ?", post.ID).
			Update("status", target).Error
	})
}

// Reject sends the post back to draft with mandatory feedback.
func (m *Machine) Reject(post *types.Post, actor types.User, feedback string) error {
	if actor.Role != types.RoleManager {
		return ErrManagerOnly
	}
	if feedback == "" {
		return ErrFeedbackNeeded
	}
	if !CanTransition(post.Status, types.PostStatusDraft) {
		return fmt.Errorf("%w: %s -> %s", ErrNotAllowed, post.Status, types.PostStatusDraft)
	}
	return m.db.Transaction(func(tx *gorm.DB) error {
		record := types.ApprovalRecord{
			PostID:    post.ID,
			Status:    "rejected",
			Feedback:  feedback,
			ActorID:   actor.ID,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		post.Status = types.PostStatusDraft
		return tx.Model(&types.Post{}).Where("id = ?", post.ID).
			Update("status", types.PostStatusDraft).Error
	})
}

// Schedule pins an approved post to a future time.
func (m *Machine) Schedule(post *types.Post, at time.Time) error {
	if err := ValidateSchedule(*post, at, time.Now()); err != nil {
		return err
	}
	post.Status = types.PostStatusScheduled
	post.ScheduledAt = &at
	return m.db.Model(&types.Post{}).Where("id = ?", post.ID).
		Updates(map[string]interface{}{
			"status":       types.PostStatusScheduled,
			"scheduled_at": at,
		}).Error
}

// Cancel is allowed before anything went out the door.
func (m *Machine) Cancel(post *types.Post, actor types.User) error {
	if !CanTransition(post.Status, types.PostStatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrNotAllowed, post.Status, types.PostStatusCancelled)
	}
	if actor.Role != types.RoleManager && actor.ID != post.CreatorID {
		return ErrManagerOnly
	}
	return m.setStatus(post, types.PostStatusCancelled)
}

// History returns the approval records, newest first. Only the head is
// "active" for display; the rest is audit trail.
func (m *Machine) History(postID uint64) ([]types.ApprovalRecord, error) {
	var records []types.ApprovalRecord
	err := m.db.Where("post_id = ?", postID).Order("created_at DESC").Find(&records).Error
	return records, err
}

func (m *Machine) setStatus(post *types.Post, status string) error {
	post.Status = status
	return m.db.Model(&types.Post{}).Where("id = ?", post.ID).
		Update("status", status).Error
}
