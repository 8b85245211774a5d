package platforms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTwitter(srvURL string) (*TwitterAdapter, StateIssuer) {
	states := NewStateIssuer([]byte("secret"), time.Hour)
	tw := NewTwitter(App{ClientID: "app-id", ClientSecret: "app-secret", RedirectURI: "http://localhost/cb"}, states, 5*time.Second)
	tw.apiURL = srvURL
	tw.uploadURL = srvURL
	tw.authURL = srvURL + "/authorize"
	return tw, states
}

func TestTwitterPublishThreadChainsReplies(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	var replyTo []string

	mux := http.NewServeMux()
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text  string `json:"text"`
			Reply struct {
				InReplyTo string `json:"in_reply_to_tweet_id"`
			} `json:"reply"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		texts = append(texts, body.Text)
		replyTo = append(replyTo, body.Reply.InReplyTo)
		id := []string{"100", "101", "102"}[len(texts)-1]
		mu.Unlock()

		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"id": id}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tw, _ := newTestTwitter(srv.URL)
	content := Content{
		Text:   "one (1/3)",
		Thread: []string{"one (1/3)", "two (2/3)", "three (3/3)"},
	}
	res, err := tw.Publish(context.Background(), "tok", content, PublishOptions{})
	require.NoError(t, err)

	// External id is the root of the chain.
	assert.Equal(t, "100", res.ExternalID)
	assert.Equal(t, []string{"one (1/3)", "two (2/3)", "three (3/3)"}, texts)
	assert.Equal(t, []string{"", "100", "101"}, replyTo)
}

func TestTwitterPublishSingleTweetWithMedia(t *testing.T) {
	payload := []byte("fake-jpeg-bytes")

	mux := http.NewServeMux()
	mux.HandleFunc("/media/a.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	var uploaded []byte
	mux.HandleFunc("/1.1/media/upload.json", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("command") {
		case "INIT":
			json.NewEncoder(w).Encode(map[string]string{"media_id_string": "m1"})
		case "APPEND":
			data, err := base64.StdEncoding.DecodeString(r.PostForm.Get("media_data"))
			require.NoError(t, err)
			uploaded = append(uploaded, data...)
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			json.NewEncoder(w).Encode(map[string]string{"media_id_string": "m1"})
		}
	})
	var tweetBody map[string]interface{}
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tweetBody))
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"id": "200"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tw, _ := newTestTwitter(srv.URL)
	content := Content{
		Text:  "with picture",
		Media: []Media{{URL: srv.URL + "/media/a.jpg", MIMEType: "image/jpeg"}},
	}
	res, err := tw.Publish(context.Background(), "tok", content, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, "200", res.ExternalID)
	assert.Equal(t, payload, uploaded)

	media, ok := tweetBody["media"].(map[string]interface{})
	require.True(t, ok, "tweet body missing media attachment")
	assert.Equal(t, []interface{}{"m1"}, media["media_ids"])
}

func TestTwitterExchangeCodeRecomputesVerifier(t *testing.T) {
	var gotVerifier string

	mux := http.NewServeMux()
	mux.HandleFunc("/2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotVerifier = r.PostForm.Get("code_verifier")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    7200,
		})
	})
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "u1", "username": "tester"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tw, states := newTestTwitter(srv.URL)
	state, nonce, err := states.Issue(5, Twitter)
	require.NoError(t, err)

	creds, err := tw.ExchangeCode(context.Background(), "the-code", state, 5)
	require.NoError(t, err)

	assert.Equal(t, states.PKCEVerifier(nonce), gotVerifier)
	assert.Equal(t, "at", creds.AccessToken)
	assert.Equal(t, "rt", creds.RefreshToken)
	assert.Equal(t, "u1", creds.AccountID)
	assert.Equal(t, "tester", creds.AccountName)
	require.NotNil(t, creds.ExpiresAt)
	assert.True(t, creds.ExpiresAt.After(time.Now()))
}

func TestTwitterExchangeCodeRejectsForeignState(t *testing.T) {
	tw, states := newTestTwitter("http://unused.invalid")
	state, _, err := states.Issue(5, Facebook) // bound to another platform
	require.NoError(t, err)

	_, err = tw.ExchangeCode(context.Background(), "code", state, 5)
	assert.Error(t, err)
}

func TestTwitterPublishAuthError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tw, _ := newTestTwitter(srv.URL)
	_, err := tw.Publish(context.Background(), "dead-token", Content{Text: "hi"}, PublishOptions{})
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}
