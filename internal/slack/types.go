package slack

import (
	"strconv"
	"strings"
)

// Raw shapes of the Slack web client's internal API payloads. These mirror
// whatever the current client ships and are expected to break when Slack
// changes them; nothing here is a public contract.

type Self struct {
	ID       string `json:"id"`
	TeamID   string `json:"team_id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
}

type BootChannel struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	IsChannel bool     `json:"is_channel"`
	IsGroup   bool     `json:"is_group"`
	IsMPIM    bool     `json:"is_mpim"`
	IsIM      bool     `json:"is_im"`
	IsPrivate bool     `json:"is_private"`
	Members   []string `json:"members"`
}

type BootIM struct {
	ID   string `json:"id"`
	User string `json:"user"`
}

type BootPrefs struct {
	// Comma-separated channel ids.
	MutedChannels string `json:"muted_channels"`
}

// ClientBootResponse is the client.boot payload: session identity plus the
// channel and IM directory. Captured once per session, immutable afterward.
type ClientBootResponse struct {
	Self     Self          `json:"self"`
	Prefs    BootPrefs     `json:"prefs"`
	Channels []BootChannel `json:"channels"`
	IMs      []BootIM      `json:"ims"`
}

func (b *ClientBootResponse) Channel(id string) *BootChannel {
	for i := range b.Channels {
		if b.Channels[i].ID == id {
			return &b.Channels[i]
		}
	}
	return nil
}

func (b *ClientBootResponse) IMUser(imID string) string {
	for _, im := range b.IMs {
		if im.ID == imID {
			return im.User
		}
	}
	return ""
}

func (b *ClientBootResponse) IsMuted(channelID string) bool {
	for _, id := range strings.Split(b.Prefs.MutedChannels, ",") {
		if id == channelID {
			return true
		}
	}
	return false
}

// ChannelCounts is the per-conversation unread indicator from client.counts,
// shared by channels, MPIMs and IMs.
type ChannelCounts struct {
	ID           string `json:"id"`
	HasUnreads   bool   `json:"has_unreads"`
	MentionCount int    `json:"mention_count"`
	// Last-read watermark, a float timestamp encoded as string.
	LastRead string `json:"last_read"`
}

type ThreadCounts struct {
	UnreadCountByChannel map[string]int `json:"unread_count_by_channel"`
}

type ClientCountsResponse struct {
	Threads  ThreadCounts    `json:"threads"`
	Channels []ChannelCounts `json:"channels"`
	MPIMs    []ChannelCounts `json:"mpims"`
	IMs      []ChannelCounts `json:"ims"`
}

// LastRead returns the last-read watermark recorded for a conversation id,
// or "" when the counts snapshot does not mention it.
func (c *ClientCountsResponse) LastRead(id string) string {
	for _, group := range [][]ChannelCounts{c.Channels, c.MPIMs, c.IMs} {
		for _, counts := range group {
			if counts.ID == id {
				return counts.LastRead
			}
		}
	}
	return ""
}

type Attachment struct {
	Fallback string `json:"fallback"`
	Text     string `json:"text"`
}

type File struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// RawMessage is the wire shape shared by history messages and thread replies.
type RawMessage struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	User        string       `json:"user"`
	TS          string       `json:"ts"`
	Attachments []Attachment `json:"attachments"`
	Files       []File       `json:"files"`
}

type ThreadRoot struct {
	RawMessage
	Channel    string `json:"channel"`
	ReplyCount int    `json:"reply_count"`
}

type Thread struct {
	RootMsg       ThreadRoot   `json:"root_msg"`
	UnreadReplies []RawMessage `json:"unread_replies"`
}

type ThreadsViewResponse struct {
	Threads []Thread `json:"threads"`
}

type ConversationsHistoryResponse struct {
	Latest   string       `json:"latest"`
	Oldest   string       `json:"oldest"`
	Messages []RawMessage `json:"messages"`
}

type User struct {
	ID       string `json:"id"`
	TeamID   string `json:"team_id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
}

type EdgeUsersResponse struct {
	Results []User `json:"results"`
}

// parseTS converts Slack's string-encoded float timestamps; malformed input
// yields zero, which sorts first and never counts as unread.
func parseTS(ts string) float64 {
	value, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return value
}
