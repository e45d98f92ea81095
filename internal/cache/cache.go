// Package cache holds the verified ground-truth caches used to avoid
// repeated external lookups. Entries are upserted and never expire.
package cache

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tokengraph-labs/tokengraph/internal/storage"
)

const (
	tweetKeyPrefix = "tweet:"
	userKeyPrefix  = "user:"
)

// ErrNotFound is returned on a cache miss.
var ErrNotFound = storage.ErrNotFound

// TweetFacts are the verified ground-truth fields for a tweet id.
type TweetFacts struct {
	TweetID   string    `json:"tweet_id"`
	TweetDate time.Time `json:"tweet_date"`
}

// UserFacts are the verified ground-truth fields for a user id.
type UserFacts struct {
	UserID        string `json:"user_id"`
	FollowerCount int64  `json:"follower_count"`
	Verified      bool   `json:"verified"`
}

// TweetCacheInterface is the read-through cache in front of tweet lookups.
type TweetCacheInterface interface {
	Get(tweetID string) (*TweetFacts, error)
	Store(facts TweetFacts) error
}

// UserCacheInterface is the read-through cache in front of user lookups.
type UserCacheInterface interface {
	Get(userID string) (*UserFacts, error)
	Store(facts UserFacts) error
}

// TweetCache maps tweet id -> creation timestamp.
type TweetCache struct {
	db *storage.LevelDB
}

func NewTweetCache(db *storage.LevelDB) *TweetCache {
	return &TweetCache{db: db}
}

func (c *TweetCache) Get(tweetID string) (*TweetFacts, error) {
	data, err := c.db.Get([]byte(tweetKeyPrefix + tweetID))
	if err != nil {
		return nil, err
	}
	var facts TweetFacts
	if err := sonic.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("unmarshal tweet facts: %w", err)
	}
	return &facts, nil
}

func (c *TweetCache) Store(facts TweetFacts) error {
	data, err := sonic.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal tweet facts: %w", err)
	}
	return c.db.Put([]byte(tweetKeyPrefix+facts.TweetID), data)
}

// UserCache maps user id -> (follower count, verification flag).
type UserCache struct {
	db *storage.LevelDB
}

func NewUserCache(db *storage.LevelDB) *UserCache {
	return &UserCache{db: db}
}

func (c *UserCache) Get(userID string) (*UserFacts, error) {
	data, err := c.db.Get([]byte(userKeyPrefix + userID))
	if err != nil {
		return nil, err
	}
	var facts UserFacts
	if err := sonic.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("unmarshal user facts: %w", err)
	}
	return &facts, nil
}

func (c *UserCache) Store(facts UserFacts) error {
	data, err := sonic.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal user facts: %w", err)
	}
	return c.db.Put([]byte(userKeyPrefix+facts.UserID), data)
}
