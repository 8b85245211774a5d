package webserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/relaypost/relaypost/src/api/data"
	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/platforms"
	"github.com/relaypost/relaypost/src/publisher"
)

type OAuth struct {
	db       *gorm.DB
	rdb      *redis.Client
	reg      *platforms.Registry
	states   platforms.StateIssuer
	sealer   *publisher.Sealer
	stateTTL time.Duration
}

func NewOAuth(db *gorm.DB, rdb *redis.Client, reg *platforms.Registry, states platforms.StateIssuer, sealer *publisher.Sealer, stateTTL time.Duration) OAuth {
	return OAuth{db: db, rdb: rdb, reg: reg, states: states, sealer: sealer, stateTTL: stateTTL}
}

// Init starts the authorization flow for one platform and returns the
// URL the browser should be sent to.
func (o OAuth) Init(c *gin.Context) {
	var req struct {
		Platform string `json:"platform" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "platform required"})
		return
	}
	_, cid, _ := actorFrom(c)

	adapter, err := o.reg.Get(req.Platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	authURL, err := adapter.AuthorizationURL(cid)
	if err != nil {
		log.Printf("oauth: %s init for client %d: %v", req.Platform, cid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "authorization url"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": authURL})
}

// Callback handles the provider redirect. The signed state token carries
// the tenant and platform, so one callback route serves all six flows.
func (o OAuth) Callback(c *gin.Context) {
	if msg := c.Query("error"); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"err": "authorization denied: " + msg})
		return
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"err": "missing code or state"})
		return
	}

	cid, platform, nonce, err := o.states.Inspect(state)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"err": "invalid state"})
		return
	}

	// Each state is good for exactly one callback.
	if o.rdb != nil {
		fresh, err := data.MarkStateUsed(c.Request.Context(), o.rdb, nonce, o.stateTTL)
		if err != nil {
			log.Printf("oauth: state bookkeeping: %v", err)
		} else if !fresh {
			c.JSON(http.StatusUnauthorized, gin.H{"err": "state already used"})
			return
		}
	}

	adapter, err := o.reg.Get(platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	creds, err := adapter.ExchangeCode(c.Request.Context(), code, state, cid)
	if err != nil {
		log.Printf("oauth: %s exchange for client %d: %v", platform, cid, err)
		c.JSON(http.StatusBadGateway, gin.H{"err": "code exchange failed"})
		return
	}

	account, err := o.upsertAccount(cid, platform, creds)
	if err != nil {
		log.Printf("oauth: %s save account for client %d: %v", platform, cid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "save account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"platform":     platform,
		"account_id":   account.ID,
		"account_name": account.AccountName,
	})
}

// upsertAccount keys on (client, platform, platform-side account id) so
// reconnecting refreshes tokens in place and clears a reauth flag.
func (o OAuth) upsertAccount(cid uint64, platform string, creds platforms.Credentials) (types.SocialAccount, error) {
	meta := ""
	if len(creds.Metadata) > 0 {
		if raw, err := json.Marshal(creds.Metadata); err == nil {
			meta = string(raw)
		}
	}

	var account types.SocialAccount
	err := o.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("client_id = ? AND platform = ? AND account_id = ?", cid, platform, creds.AccountID).
			First(&account)
		if res.Error != nil && res.Error != gorm.ErrRecordNotFound {
			return res.Error
		}

		account.ClientID = cid
		account.Platform = platform
		account.AccountID = creds.AccountID
		account.AccountName = creds.AccountName
		account.AccessToken = o.sealer.Seal(creds.AccessToken)
		account.RefreshToken = o.sealer.Seal(creds.RefreshToken)
		account.TokenExpiresAt = creds.ExpiresAt
		account.NeedsReauth = false
		account.Metadata = meta
		return tx.Save(&account).Error
	})
	return account, err
}

type accountView struct {
	ID             uint64     `json:"id"`
	Platform       string     `json:"platform"`
	AccountID      string     `json:"account_id"`
	AccountName    string     `json:"account_name"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	NeedsReauth    bool       `json:"needs_reauth"`
}

// ListAccounts returns the client's connected accounts. Tokens never
// leave the database.
func (o OAuth) ListAccounts(c *gin.Context) {
	_, cid, _ := actorFrom(c)

	var accounts []types.SocialAccount
	if err := o.db.Where("client_id = ?", cid).Order("platform ASC").Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "load accounts"})
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			ID:             a.ID,
			Platform:       a.Platform,
			AccountID:      a.AccountID,
			AccountName:    a.AccountName,
			TokenExpiresAt: a.TokenExpiresAt,
			NeedsReauth:    a.NeedsReauth,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": views})
}
