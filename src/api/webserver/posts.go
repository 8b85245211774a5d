package webserver

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/approval"
	"github.com/relaypost/relaypost/src/optimizer"
	"github.com/relaypost/relaypost/src/publisher"
)

type Posts struct {
	db      *gorm.DB
	machine *approval.Machine
	queue   *publisher.Queue
	disp    *publisher.Dispatcher
}

func NewPosts(db *gorm.DB, machine *approval.Machine, queue *publisher.Queue, disp *publisher.Dispatcher) Posts {
	return Posts{db: db, machine: machine, queue: queue, disp: disp}
}

type mediaInput struct {
	URL      string `json:"url" binding:"required"`
	MIMEType string `json:"mime_type" binding:"required"`
	Size     int64  `json:"size"`
}

func (p Posts) Create(c *gin.Context) {
	var req struct {
		ClientID         uint64       `json:"client_id" binding:"required"`
		Title            string       `json:"title"`
		Content          string       `json:"content" binding:"required"`
		SocialAccountIDs []uint64     `json:"social_account_ids" binding:"required,min=1"`
		ScheduledAt      *time.Time   `json:"scheduled_at"`
		Media            []mediaInput `json:"media"`
		Recurring        bool         `json:"recurring"`
		RecurrencePat    string       `json:"recurrence_pattern"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	uid, cid, _ := actorFrom(c)
	if req.ClientID != cid {
		c.JSON(http.StatusForbidden, gin.H{"err": "client mismatch"})
		return
	}

	var accounts []types.SocialAccount
	if err := p.db.Where("id IN ? AND client_id = ?", req.SocialAccountIDs, cid).Find(&accounts).Error; err != nil || len(accounts) != len(req.SocialAccountIDs) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "unknown social account"})
		return
	}

	post := types.Post{
		ClientID:          cid,
		CreatorID:         uid,
		Title:             req.Title,
		Content:           req.Content,
		Status:            types.PostStatusDraft,
		ScheduledAt:       req.ScheduledAt,
		Recurring:         req.Recurring,
		RecurrencePattern: req.RecurrencePat,
	}

	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		for _, account := range accounts {
			link := types.PostPlatform{PostID: post.ID, SocialAccountID: account.ID, Status: types.LinkStatusPending}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		for i, m := range req.Media {
			media := types.PostMedia{PostID: post.ID, URL: m.URL, MIMEType: m.MIMEType, Size: m.Size, Position: i}
			if err := tx.Create(&media).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("posts: create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "create failed"})
		return
	}

	// A schedule at creation time means the author is done composing.
	if req.ScheduledAt != nil {
		if err := p.machine.Submit(&post); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"err": err.Error(), "post": post})
			return
		}
	}

	selected := make([]string, 0, len(accounts))
	for _, a := range accounts {
		selected = append(selected, a.Platform)
	}
	c.JSON(http.StatusCreated, gin.H{"post": post, "char_budget": optimizer.MinBudget(selected)})
}

func (p Posts) Submit(c *gin.Context) {
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if err := p.machine.Submit(&post); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (p Posts) Approve(c *gin.Context) {
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if err := p.machine.Approve(&post, p.actor(c)); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, approval.ErrManagerOnly) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (p Posts) Reject(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "feedback required"})
		return
	}
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if err := p.machine.Reject(&post, p.actor(c), req.Feedback); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, approval.ErrManagerOnly) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (p Posts) Schedule(c *gin.Context) {
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "scheduled_at required"})
		return
	}
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if err := p.machine.Schedule(&post, req.ScheduledAt); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// Publish runs an immediate dispatch for an approved post. A
// validation problem fails only its own platform; the post keeps its
// status untouched only when no link at all would reach a platform.
func (p Posts) Publish(c *gin.Context) {
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if post.Status != types.PostStatusApproved {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": "post must be approved before publishing"})
		return
	}

	var links []types.PostPlatform
	if err := p.db.Where("post_id = ?", post.ID).Find(&links).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "load links"})
		return
	}
	issues, pending, err := p.disp.Preflight(post, links)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "preflight"})
		return
	}
	if pending > 0 && len(issues) == pending {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": "validation failed", "issues": issues})
		return
	}

	outcome := p.queue.ProcessPost(c.Request.Context(), post)
	resp := gin.H{"outcome": outcome}
	if len(issues) > 0 {
		resp["issues"] = issues
	}
	c.JSON(http.StatusOK, resp)
}

// Retry re-dispatches only the failed links of a partially published
// post. Published links keep their external ids untouched.
func (p Posts) Retry(c *gin.Context) {
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if post.Status != types.PostStatusPartiallyPublished {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": "only partially published posts can be retried"})
		return
	}
	outcome := p.queue.ProcessPost(c.Request.Context(), post)
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (p Posts) Cancel(c *gin.Context) {
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	if err := p.machine.Cancel(&post, p.actor(c)); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, approval.ErrManagerOnly) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (p Posts) Get(c *gin.Context) {
	post, ok := p.loadPost(c)
	if !ok {
		return
	}
	var links []types.PostPlatform
	if err := p.db.Preload("Account").Where("post_id = ?", post.ID).Find(&links).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "load links"})
		return
	}
	history, err := p.machine.History(post.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "load history"})
		return
	}

	type linkView struct {
		ID          uint64     `json:"id"`
		Platform    string     `json:"platform"`
		Account     string     `json:"account"`
		Status      string     `json:"status"`
		ExternalID  string     `json:"external_id,omitempty"`
		ErrorDetail string     `json:"error_detail,omitempty"`
		PublishedAt *time.Time `json:"published_at,omitempty"`
	}
	views := make([]linkView, 0, len(links))
	for _, l := range links {
		views = append(views, linkView{
			ID:          l.ID,
			Platform:    l.Account.Platform,
			Account:     l.Account.AccountName,
			Status:      l.Status,
			ExternalID:  l.ExternalID,
			ErrorDetail: l.ErrorDetail,
			PublishedAt: l.PublishedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "links": views, "approvals": history})
}

func (p Posts) actor(c *gin.Context) types.User {
	uid, cid, role := actorFrom(c)
	return types.User{ID: uid, ClientID: cid, Role: role}
}

func (p Posts) loadPost(c *gin.Context) (types.Post, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad post id"})
		return types.Post{}, false
	}
	_, cid, _ := actorFrom(c)

	var post types.Post
	if err := p.db.First(&post, "id = ? AND client_id = ?", id, cid).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "post not found"})
		return types.Post{}, false
	}
	return post, true
}

// platformsOf is shared with the queue listing.
func platformsOf(db *gorm.DB, postID uint64) []string {
	var names []string
	db.Model(&types.PostPlatform{}).
		Joins("JOIN social_accounts ON social_accounts.id = post_platforms.social_account_id").
		Where("post_platforms.post_id = ?", postID).
		Pluck("social_accounts.platform", &names)
	return names
}
