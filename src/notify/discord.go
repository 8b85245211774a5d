// Package notify pushes operational alerts to Discord. It is optional:
// without a bot token the queue simply runs without alerting.
package notify

import (
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
	"github.com/relaypost/relaypost/src/api/types"
)

type Discord struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord: token and channel required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	return &Discord{session: session, channelID: channelID}, nil
}

// PublishFailure posts one alert per failed link so on-call can see
// which platform broke without opening the dashboard.
func (d *Discord) PublishFailure(post types.Post, platform string, detail string) {
	title := post.Title
	if title == "" {
		title = fmt.Sprintf("post %d", post.ID)
	}
	msg := fmt.Sprintf("⚠️ publish failed: **%s** on %s\n```%s```", title, platform, detail)
	if _, err := d.session.ChannelMessageSend(d.channelID, msg); err != nil {
		log.Printf("discord: failed to send alert: %v", err)
	}
}
