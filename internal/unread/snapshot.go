package unread

import "github.com/catchup-hq/catchup/internal/slack"

// Snapshot is the full state of one workspace's unreads as seen by clients.
// Every publish replaces the previous snapshot wholesale; there are no
// incremental patches. ValidSession is nil until the session check has run.
type Snapshot struct {
	Loading      bool                 `json:"loading"`
	ValidSession *bool                `json:"validSession,omitempty"`
	Self         *slack.Self          `json:"self,omitempty"`
	Streams      []slack.UnreadStream `json:"streams"`
}

func emptySnapshot(loading bool) Snapshot {
	return Snapshot{Loading: loading, Streams: []slack.UnreadStream{}}
}
