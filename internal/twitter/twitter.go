// Package twitter is the external ground-truth lookup collaborator: it
// resolves tweet and user ids against the upstream data API.
package twitter

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/config"
)

// ErrNotFound marks a tweet or user id the upstream source does not know.
// During dataset scoring this is the fraud signal.
var ErrNotFound = errors.New("twitter: not found")

// TweetDetails is the verified ground truth for a tweet id.
type TweetDetails struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserDetails is the verified ground truth for a user id.
type UserDetails struct {
	ID             string `json:"id"`
	FollowersCount int64  `json:"followers_count"`
	Verified       bool   `json:"verified"`
}

// ServiceInterface is the lookup contract consumed by the scoring engine.
type ServiceInterface interface {
	GetTweetDetails(tweetID string) (*TweetDetails, error)
	GetUserDetails(userID string) (*UserDetails, error)
}

// Service is the HTTP implementation of the lookup contract.
type Service struct {
	client  *resty.Client
	BaseURL string
}

// NewService creates a lookup client using the provided environment configuration.
func NewService(cfg *config.TwitterEnvConfig) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	client := resty.New().
		SetBaseURL(cfg.TwitterAPIURL).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetAuthToken(cfg.TwitterBearerToken).
		SetTimeout(15 * time.Second)

	return &Service{client: client, BaseURL: cfg.TwitterAPIURL}, nil
}

// GetTweetDetails resolves a tweet id, returning ErrNotFound when the
// upstream source has no such tweet.
func (s *Service) GetTweetDetails(tweetID string) (*TweetDetails, error) {
	var details TweetDetails
	resp, err := s.client.R().
		SetResult(&details).
		Get(fmt.Sprintf("/tweets/%s", tweetID))
	if err != nil {
		log.Error().Err(err).Str("tweet_id", tweetID).Msg("tweet lookup failed")
		return nil, fmt.Errorf("get tweet %s: %w", tweetID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tweet lookup returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return &details, nil
}

// GetUserDetails resolves a user id, returning ErrNotFound when the upstream
// source has no such user.
func (s *Service) GetUserDetails(userID string) (*UserDetails, error) {
	var details UserDetails
	resp, err := s.client.R().
		SetResult(&details).
		Get(fmt.Sprintf("/users/%s", userID))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("user lookup failed")
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("user lookup returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return &details, nil
}
