// Package protocol defines the wire types exchanged between validators and
// miners, and the shape of a miner-published dataset snapshot.
package protocol

// Version is the protocol version both sides must agree on during discovery.
const Version = 1.0

// Edge type tags carried by dataset entries.
const (
	EdgeMentions    = "MENTIONS"
	EdgePosted      = "POSTED"
	EdgeLocatedIn   = "LOCATED_IN"
	EdgeMentionedIn = "MENTIONED_IN"
)

// DiscoveryRequest is sent by a validator to open a challenge round.
type DiscoveryRequest struct {
	ValidatorVersion string `json:"validator_version"`
	ValidatorKey     string `json:"validator_key"`
}

// Discovery is a miner's handshake answer: what token it scrapes, which
// protocol version it speaks, which graph engine backs it and, in snapshot
// mode, where its latest dataset lives.
type Discovery struct {
	Token        string  `json:"token"`
	Version      float64 `json:"version"`
	GraphDB      string  `json:"graph_db"`
	SnapshotLink string  `json:"snapshot_link,omitempty"`
}

// ChallengeRequest asks a miner to answer with specific factual claims.
type ChallengeRequest struct {
	ValidatorKey string `json:"validator_key"`
}

// ChallengeOutput is the factual tuple a miner claims during a live challenge.
type ChallengeOutput struct {
	TweetID       string `json:"tweet_id"`
	UserID        string `json:"user_id"`
	TweetDate     string `json:"tweet_date"`
	FollowerCount int64  `json:"follower_count"`
	Verified      bool   `json:"verified"`
}

// ChallengeResponse is the miner's answer to a challenge round.
type ChallengeResponse struct {
	Token  string          `json:"token"`
	Output ChallengeOutput `json:"output"`
}

// SnapshotInfo points at a miner's content-addressed dataset export.
type SnapshotInfo struct {
	Token        string `json:"token"`
	SnapshotLink string `json:"snapshot_link"`
}

// Tweet is the tweet sub-record of a dataset entry.
type Tweet struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Text      string   `json:"text"`
	Likes     int64    `json:"likes"`
	Images    []string `json:"images"`
	Timestamp string   `json:"timestamp"`
}

// UserAccount is the user sub-record of a dataset entry.
type UserAccount struct {
	Username        string `json:"username"`
	UserID          string `json:"user_id"`
	IsVerified      bool   `json:"is_verified"`
	FollowerCount   int64  `json:"follower_count"`
	AccountAge      string `json:"account_age"`
	EngagementLevel int64  `json:"engagement_level"`
	TotalTweets     int64  `json:"total_tweets"`
}

// Region is the region sub-record; Name may be the sentinel "Unknown".
type Region struct {
	Name string `json:"name"`
}

// Edge is a typed relation between two dataset nodes.
type Edge struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Attributes map[string]any `json:"attributes"`
}

// DatasetEntry is one element of a miner-submitted dataset.
type DatasetEntry struct {
	Token       string      `json:"token"`
	Tweet       Tweet       `json:"tweet"`
	UserAccount UserAccount `json:"user_account"`
	Region      Region      `json:"region"`
	Edges       []Edge      `json:"edges"`
}
