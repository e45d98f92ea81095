// Package dataset validates the structure and content of miner-submitted
// dataset snapshots before they reach the scoring engine.
package dataset

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/protocol"
)

var (
	requiredTopLevelKeys = []string{"token", "tweet", "user_account", "region", "edges"}
	requiredTweetKeys    = []string{"id", "url", "text", "likes", "images", "timestamp"}
	requiredUserKeys     = []string{"username", "user_id", "is_verified", "follower_count", "account_age", "engagement_level", "total_tweets"}
	requiredEdgeKeys     = []string{"type", "from", "to", "attributes"}
)

// Validate checks a raw snapshot against the dataset schema. Data-shape
// problems return false after logging the first violation found; an error is
// returned only for malformed JSON.
func Validate(raw []byte) (bool, error) {
	var records []map[string]any
	if err := sonic.Unmarshal(raw, &records); err != nil {
		var top any
		if jsonErr := sonic.Unmarshal(raw, &top); jsonErr != nil {
			return false, fmt.Errorf("dataset is not valid JSON: %w", jsonErr)
		}
		// Valid JSON, wrong shape: a data violation, not a transport error.
		log.Warn().Msg("dataset validation failed: top level is not a sequence of records")
		return false, nil
	}

	if len(records) == 0 {
		log.Warn().Msg("dataset validation failed: no records")
		return false, nil
	}

	for i, record := range records {
		if err := validateRecord(record); err != nil {
			log.Warn().Err(err).Int("record", i).Msg("dataset validation failed")
			return false, nil
		}
	}
	return true, nil
}

func validateRecord(record map[string]any) error {
	for _, key := range requiredTopLevelKeys {
		if _, ok := record[key]; !ok {
			return fmt.Errorf("missing required key %q", key)
		}
	}

	token, ok := record["token"].(string)
	if !ok || token == "" {
		return fmt.Errorf("token must be a non-empty string")
	}

	tweet, ok := record["tweet"].(map[string]any)
	if !ok {
		return fmt.Errorf("tweet must be a record")
	}
	if err := validateTweet(tweet); err != nil {
		return err
	}

	user, ok := record["user_account"].(map[string]any)
	if !ok {
		return fmt.Errorf("user_account must be a record")
	}
	if err := validateUserAccount(user); err != nil {
		return err
	}

	region, ok := record["region"].(map[string]any)
	if !ok {
		return fmt.Errorf("region must be a record")
	}
	if _, ok := region["name"].(string); !ok {
		return fmt.Errorf("region.name must be a string")
	}

	edges, ok := record["edges"].([]any)
	if !ok {
		return fmt.Errorf("edges must be a sequence")
	}
	for i, e := range edges {
		edge, ok := e.(map[string]any)
		if !ok {
			return fmt.Errorf("edge %d must be a record", i)
		}
		for _, key := range requiredEdgeKeys {
			if _, ok := edge[key]; !ok {
				return fmt.Errorf("edge %d missing required key %q", i, key)
			}
		}
		if _, ok := edge["attributes"].(map[string]any); !ok {
			return fmt.Errorf("edge %d attributes must be a record", i)
		}
	}

	return nil
}

func validateTweet(tweet map[string]any) error {
	for _, key := range requiredTweetKeys {
		if _, ok := tweet[key]; !ok {
			return fmt.Errorf("tweet missing required key %q", key)
		}
	}
	ts, ok := tweet["timestamp"].(string)
	if !ok {
		return fmt.Errorf("tweet.timestamp must be a string")
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return fmt.Errorf("tweet.timestamp is not a valid ISO-8601 date-time: %w", err)
	}
	if !isNonNegativeInt(tweet["likes"]) {
		return fmt.Errorf("tweet.likes must be a non-negative integer")
	}
	if _, ok := tweet["images"].([]any); !ok {
		return fmt.Errorf("tweet.images must be a sequence")
	}
	return nil
}

func validateUserAccount(user map[string]any) error {
	for _, key := range requiredUserKeys {
		if _, ok := user[key]; !ok {
			return fmt.Errorf("user_account missing required key %q", key)
		}
	}
	age, ok := user["account_age"].(string)
	if !ok {
		return fmt.Errorf("user_account.account_age must be a string")
	}
	if _, err := time.Parse(time.RFC3339, age); err != nil {
		return fmt.Errorf("user_account.account_age is not a valid ISO-8601 date-time: %w", err)
	}
	for _, key := range []string{"follower_count", "engagement_level", "total_tweets"} {
		if !isNonNegativeInt(user[key]) {
			return fmt.Errorf("user_account.%s must be a non-negative integer", key)
		}
	}
	return nil
}

// JSON numbers decode to float64; an integer field must hold a whole,
// non-negative value.
func isNonNegativeInt(v any) bool {
	switch n := v.(type) {
	case float64:
		return n >= 0 && n == float64(int64(n))
	case int64:
		return n >= 0
	case int:
		return n >= 0
	}
	return false
}

// Decode parses a validated snapshot into typed entries. Callers must run
// Validate first so the typed shape can be assumed downstream.
func Decode(raw []byte) ([]protocol.DatasetEntry, error) {
	var entries []protocol.DatasetEntry
	if err := sonic.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return entries, nil
}
