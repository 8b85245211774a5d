package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const youtubeChunkSize = 8 << 20 // resumable upload chunk, multiple of 256KiB

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// YouTubeAdapter uploads videos through the resumable upload protocol:
// one init request yields an upload session URL, then the bytes go up in
// Content-Range chunks. The session lives only within a single Publish
// call.
type YouTubeAdapter struct {
	app       App
	states    StateIssuer
	hc        *http.Client
	apiURL    string
	uploadURL string
	tokenURL  string
}

func NewYouTube(app App, states StateIssuer, timeout time.Duration) *YouTubeAdapter {
	return &YouTubeAdapter{
		app:       app,
		states:    states,
		hc:        newHTTPClient(timeout),
		apiURL:    "https://www.googleapis.com",
		uploadURL: "https://www.googleapis.com/upload",
		tokenURL:  googleEndpoint.TokenURL,
	}
}

func (y *YouTubeAdapter) Platform() string { return YouTube }

func (y *YouTubeAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     y.app.ClientID,
		ClientSecret: y.app.ClientSecret,
		RedirectURL:  y.app.RedirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/youtube.upload",
			"https://www.googleapis.com/auth/youtube.readonly",
		},
		Endpoint: googleEndpoint,
	}
}

func (y *YouTubeAdapter) AuthorizationURL(clientID uint64) (string, error) {
	if y.app.ClientID == "" {
		return "", fmt.Errorf("youtube: app not configured")
	}
	state, _, err := y.states.Issue(clientID, YouTube)
	if err != nil {
		return "", err
	}
	// offline access is required to receive a refresh token at all.
	return y.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

func (y *YouTubeAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error) {
	if _, err := y.states.Verify(state, YouTube, clientID); err != nil {
		return Credentials{}, err
	}
	tok, err := y.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("youtube: code exchange: %w", err)
	}

	var channels struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	headers := map[string]string{"Authorization": "Bearer " + tok.AccessToken}
	u := y.apiURL + "/youtube/v3/channels?part=snippet&mine=true"
	if err := getJSON(ctx, y.hc, YouTube, u, headers, &channels); err != nil {
		return Credentials{}, err
	}
	if len(channels.Items) == 0 {
		return Credentials{}, fmt.Errorf("youtube: account has no channel")
	}

	creds := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccountID:    channels.Items[0].ID,
		AccountName:  channels.Items[0].Snippet.Title,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		creds.ExpiresAt = &expiry
	}
	return creds, nil
}

func (y *YouTubeAdapter) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	if refreshToken == "" {
		return Credentials{}, ErrUnsupported
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {y.app.ClientID},
		"client_secret": {y.app.ClientSecret},
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := postForm(ctx, y.hc, YouTube, y.tokenURL, nil, form, &tok); err != nil {
		return Credentials{}, err
	}
	expiry := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	// Google does not rotate refresh tokens; the caller keeps the old one.
	return Credentials{AccessToken: tok.AccessToken, RefreshToken: refreshToken, ExpiresAt: &expiry}, nil
}

func (y *YouTubeAdapter) TestConnection(ctx context.Context, accessToken string) bool {
	var channels struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	u := y.apiURL + "/youtube/v3/channels?part=id&mine=true"
	return getJSON(ctx, y.hc, YouTube, u, headers, &channels) == nil && len(channels.Items) > 0
}

func (y *YouTubeAdapter) Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error) {
	var video *Media
	for i := range content.Media {
		if isVideo(content.Media[i].MIMEType) {
			video = &content.Media[i]
			break
		}
	}
	if video == nil {
		return PublishResult{}, &ValidationError{Platform: YouTube, Reason: "requires a video file"}
	}

	data, err := fetchMedia(ctx, y.hc, YouTube, video.URL)
	if err != nil {
		return PublishResult{}, err
	}

	sessionURL, err := y.initUpload(ctx, accessToken, content, video.MIMEType, len(data))
	if err != nil {
		return PublishResult{}, err
	}

	id, err := y.uploadChunks(ctx, accessToken, sessionURL, video.MIMEType, data)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Platform: YouTube, ExternalID: id, PostedAt: time.Now()}, nil
}

func (y *YouTubeAdapter) initUpload(ctx context.Context, accessToken string, content Content, mimeType string, totalBytes int) (string, error) {
	title := content.Title
	if title == "" {
		title = firstLine(content.Text)
	}
	meta := map[string]interface{}{
		"snippet": map[string]string{
			"title":       title,
			"description": content.Text,
		},
		"status": map[string]string{"privacyStatus": "public"},
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("youtube: marshal metadata: %w", err)
	}

	u := y.uploadURL + "/youtube/v3/videos?uploadType=resumable&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("youtube: build init: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upload-Content-Type", mimeType)
	req.Header.Set("X-Upload-Content-Length", strconv.Itoa(totalBytes))

	resp, err := y.hc.Do(req)
	if err != nil {
		return "", &TransientError{Platform: YouTube, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if e := classifyStatus(YouTube, resp.StatusCode, body); e != nil {
		return "", e
	}
	session := resp.Header.Get("Location")
	if session == "" {
		return "", &PermanentError{Platform: YouTube, Detail: "resumable init returned no session URL"}
	}
	return session, nil
}

func (y *YouTubeAdapter) uploadChunks(ctx context.Context, accessToken, sessionURL, mimeType string, data []byte) (string, error) {
	total := len(data)
	for start := 0; start < total; start += youtubeChunkSize {
		end := start + youtubeChunkSize
		if end > total {
			end = total
		}

		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(data[start:end]))
			if err != nil {
				return "", fmt.Errorf("youtube: build chunk: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+accessToken)
			req.Header.Set("Content-Type", mimeType)
			req.Header.Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))

			resp, err := y.hc.Do(req)
			if err != nil {
				lastErr = &TransientError{Platform: YouTube, Err: err}
				continue
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()

			// 308 means the chunk landed and the session wants more.
			if resp.StatusCode == 308 {
				lastErr = nil
				break
			}
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
				var video struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(body, &video); err != nil || video.ID == "" {
					return "", &PermanentError{Platform: YouTube, Detail: "upload finished without a video id"}
				}
				return video.ID, nil
			}
			if e := classifyStatus(YouTube, resp.StatusCode, body); e != nil {
				if !IsTransient(e) {
					return "", e
				}
				lastErr = e
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
	}
	return "", &PermanentError{Platform: YouTube, Detail: "upload ended without a final response"}
}

func (y *YouTubeAdapter) UploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	return "", ErrUnsupported // upload happens inside Publish's resumable session
}

func (y *YouTubeAdapter) Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error) {
	var resp struct {
		Items []struct {
			Statistics struct {
				ViewCount    string `json:"viewCount"`
				LikeCount    string `json:"likeCount"`
				CommentCount string `json:"commentCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	u := y.apiURL + "/youtube/v3/videos?part=statistics&id=" + url.QueryEscape(externalID)
	if err := getJSON(ctx, y.hc, YouTube, u, headers, &resp); err != nil {
		return Metrics{}, err
	}
	if len(resp.Items) == 0 {
		return Metrics{}, nil
	}
	st := resp.Items[0].Statistics
	return Metrics{
		Impressions: parseCount(st.ViewCount),
		Likes:       parseCount(st.LikeCount),
		Comments:    parseCount(st.CommentCount),
	}, nil
}

func (y *YouTubeAdapter) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"publish":   {Limit: 6, Window: 24 * time.Hour}, // quota units, effectively
		"analytics": {Limit: 100, Window: time.Hour},
	}
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
		if i > 90 {
			return s[:i]
		}
	}
	return s
}
