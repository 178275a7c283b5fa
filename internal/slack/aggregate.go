package slack

import (
	"log"
	"sort"
	"strings"
)

// SlackbotID is the built-in slackbot pseudo-user; its DM is pure noise and
// is excluded everywhere.
const SlackbotID = "USLACKBOT"

// Message is a normalized message inside an unread stream.
type Message struct {
	FromName string  `json:"fromName"`
	FromID   string  `json:"fromId"`
	Text     string  `json:"text"`
	TS       float64 `json:"ts"`
	Unread   bool    `json:"unread"`
}

// UnreadStream is one conversation with at least one unread message: a
// channel, group DM, direct message or subscribed thread. Summary and
// PromptParts are filled by the enrichment pass, not by aggregation.
type UnreadStream struct {
	Name            string    `json:"name"`
	Badge           int       `json:"badge"`
	RootMessage     *Message  `json:"rootMessage,omitempty"`
	Messages        []Message `json:"messages"`
	LatestTimestamp float64   `json:"latestTimestamp"`
	Summary         *string   `json:"summary,omitempty"`
	PromptParts     []string  `json:"promptParts,omitempty"`
}

// UnreadChannels builds streams for channels and group DMs. A conversation
// is skipped when it is muted, when its history was never fetched, when its
// id is missing from the boot directory, or when nothing in the fetched
// window is newer than the last-read watermark.
func UnreadChannels(boot *ClientBootResponse, counts *ClientCountsResponse, histories map[string]*ConversationsHistoryResponse, users map[string]User) []UnreadStream {
	if boot == nil || counts == nil {
		return nil
	}
	var streams []UnreadStream
	for _, group := range [][]ChannelCounts{counts.Channels, counts.MPIMs} {
		for _, c := range group {
			if !c.HasUnreads && c.MentionCount == 0 {
				continue
			}
			if boot.IsMuted(c.ID) {
				continue
			}
			channel := boot.Channel(c.ID)
			if channel == nil {
				continue
			}
			stream, ok := buildStream(channelDisplayName(channel.Name), c, histories[c.ID], users)
			if !ok {
				continue
			}
			streams = append(streams, stream)
		}
	}
	return streams
}

// UnreadIMs builds streams for direct messages. Slackbot and IMs whose peer
// cannot be resolved to a user are skipped.
func UnreadIMs(boot *ClientBootResponse, counts *ClientCountsResponse, histories map[string]*ConversationsHistoryResponse, users map[string]User) []UnreadStream {
	if boot == nil || counts == nil {
		return nil
	}
	var streams []UnreadStream
	for _, c := range counts.IMs {
		if !c.HasUnreads && c.MentionCount == 0 {
			continue
		}
		userID := boot.IMUser(c.ID)
		if userID == "" || userID == SlackbotID {
			continue
		}
		user, ok := users[userID]
		if !ok {
			continue
		}
		stream, ok := buildStream(displayName(user), c, histories[c.ID], users)
		if !ok {
			continue
		}
		streams = append(streams, stream)
	}
	return streams
}

// UnreadThreads builds streams for subscribed threads with unread replies.
// A thread whose root channel or root author cannot be resolved is dropped;
// every reply in the thread view is unread by construction.
func UnreadThreads(boot *ClientBootResponse, threads *ThreadsViewResponse, users map[string]User) []UnreadStream {
	if boot == nil || threads == nil {
		return nil
	}
	var streams []UnreadStream
	for _, thread := range threads.Threads {
		if len(thread.UnreadReplies) == 0 {
			continue
		}
		channel := boot.Channel(thread.RootMsg.Channel)
		if channel == nil {
			log.Printf("skipping thread: channel %s not in boot directory", thread.RootMsg.Channel)
			continue
		}
		if _, ok := users[thread.RootMsg.User]; !ok {
			log.Printf("skipping thread in %s: root author %s unresolved", channel.Name, thread.RootMsg.User)
			continue
		}
		name := "[thread] in " + channelDisplayName(channel.Name)
		root := normalizeMessage(thread.RootMsg.RawMessage, users, false)
		messages := make([]Message, 0, len(thread.UnreadReplies))
		for _, reply := range thread.UnreadReplies {
			messages = append(messages, normalizeMessage(reply, users, true))
		}
		sortByTS(messages)
		streams = append(streams, UnreadStream{
			Name:            name,
			Badge:           len(messages),
			RootMessage:     &root,
			Messages:        messages,
			LatestTimestamp: messages[len(messages)-1].TS,
		})
	}
	return streams
}

// UnreadConversationIDs lists the conversations whose history is worth
// fetching: unread, unmuted, present in the boot directory, and not the
// slackbot DM.
func UnreadConversationIDs(boot *ClientBootResponse, counts *ClientCountsResponse) []string {
	if boot == nil || counts == nil {
		return nil
	}
	var ids []string
	for _, group := range [][]ChannelCounts{counts.Channels, counts.MPIMs} {
		for _, c := range group {
			if !c.HasUnreads && c.MentionCount == 0 {
				continue
			}
			if boot.IsMuted(c.ID) || boot.Channel(c.ID) == nil {
				continue
			}
			ids = append(ids, c.ID)
		}
	}
	for _, c := range counts.IMs {
		if !c.HasUnreads && c.MentionCount == 0 {
			continue
		}
		if user := boot.IMUser(c.ID); user == "" || user == SlackbotID {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids
}

func buildStream(name string, c ChannelCounts, history *ConversationsHistoryResponse, users map[string]User) (UnreadStream, bool) {
	if history == nil {
		return UnreadStream{}, false
	}
	lastRead := parseTS(c.LastRead)
	var messages []Message
	for _, raw := range history.Messages {
		if raw.Type != "message" {
			continue
		}
		messages = append(messages, normalizeMessage(raw, users, parseTS(raw.TS) > lastRead))
	}
	if len(messages) == 0 {
		return UnreadStream{}, false
	}
	sortByTS(messages)
	return UnreadStream{
		Name:            name,
		Badge:           c.MentionCount,
		Messages:        messages,
		LatestTimestamp: messages[len(messages)-1].TS,
	}, true
}

func normalizeMessage(raw RawMessage, users map[string]User, unread bool) Message {
	parts := make([]string, 0, 1+len(raw.Attachments)+len(raw.Files))
	if raw.Text != "" {
		parts = append(parts, raw.Text)
	}
	for _, attachment := range raw.Attachments {
		switch {
		case attachment.Text != "":
			parts = append(parts, attachment.Text)
		case attachment.Fallback != "":
			parts = append(parts, attachment.Fallback)
		}
	}
	for _, file := range raw.Files {
		switch {
		case file.Title != "":
			parts = append(parts, file.Title)
		case file.Name != "":
			parts = append(parts, file.Name)
		}
	}

	fromName := "unknown"
	if user, ok := users[raw.User]; ok {
		fromName = displayName(user)
	}
	return Message{
		FromName: fromName,
		FromID:   raw.User,
		Text:     strings.Join(parts, "\n\n"),
		TS:       parseTS(raw.TS),
		Unread:   unread,
	}
}

func displayName(user User) string {
	if user.RealName != "" {
		return user.RealName
	}
	return user.Name
}

// channelDisplayName renders a channel name for humans. Group DMs arrive as
// "mpdm-alice--bob--carol-1": the prefix and the trailing numeric suffix are
// dropped and the member names joined.
func channelDisplayName(name string) string {
	if trimmed, ok := strings.CutPrefix(name, "mpdm-"); ok {
		if i := strings.LastIndex(trimmed, "-"); i >= 0 {
			trimmed = trimmed[:i]
		}
		return strings.Join(strings.Split(trimmed, "--"), ", ")
	}
	return "#" + name
}

func sortByTS(messages []Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].TS < messages[j].TS
	})
}
