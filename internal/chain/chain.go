// Package chain provides the client for the subnet's chain RPC service:
// module discovery, address resolution and weight votes.
package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/config"
)

// ModuleInfo is the per-module metadata resolved from the chain.
type ModuleInfo struct {
	UID      int     `json:"uid"`
	Key      string  `json:"key"`
	Emission float64 `json:"emission"`
}

// ClientInterface is the narrow contract the validator consumes.
type ClientInterface interface {
	ResolveModules(netuid int) (map[string]ModuleInfo, error)
	ResolveAddresses(netuid int) (map[int]string, error)
	Vote(key string, uids []int, weights []int, netuid int) error
}

// Response is the chain RPC envelope.
type Response[T any] struct {
	StatusCode int            `json:"statusCode"`
	Success    bool           `json:"success"`
	Data       T              `json:"data"`
	Error      map[string]any `json:"error"`
}

// Client talks to the chain RPC service over HTTP.
type Client struct {
	client  *resty.Client
	BaseURL string
}

// NewClient creates a chain client using the provided environment configuration.
func NewClient(cfg *config.ChainEnvConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	url := fmt.Sprintf("http://%s:%s", cfg.ChainHost, cfg.ChainPort)

	client := resty.New().
		SetBaseURL(url).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(15 * time.Second)

	return &Client{client: client, BaseURL: url}, nil
}

func getJSON[T any](client *resty.Client, path string) (Response[T], error) {
	var result Response[T]
	resp, err := client.R().
		SetResult(&result).
		Get(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("get request failed")
		return Response[T]{}, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Str("path", path).Msg("get non-2xx")
		return Response[T]{}, fmt.Errorf("request returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		log.Error().Interface("error", result.Error).Str("path", path).Msg("response contains error")
		return Response[T]{}, fmt.Errorf("response error: %v", result.Error)
	}
	return result, nil
}

func postJSON[T any](client *resty.Client, path string, body any) (Response[T], error) {
	var result Response[T]
	resp, err := client.R().
		SetBody(body).
		SetResult(&result).
		Post(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("post request failed")
		return Response[T]{}, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Str("path", path).Msg("post non-2xx")
		return Response[T]{}, fmt.Errorf("request returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		log.Error().Interface("error", result.Error).Str("path", path).Msg("response contains error")
		return Response[T]{}, fmt.Errorf("response error: %v", result.Error)
	}
	return result, nil
}

// ResolveModules fetches the full module map for the subnet, keyed by module key.
func (c *Client) ResolveModules(netuid int) (map[string]ModuleInfo, error) {
	path := fmt.Sprintf("/chain/modules/%d", netuid)
	resp, err := getJSON[map[string]ModuleInfo](c.client, path)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ResolveAddresses fetches the uid -> "ip:port" map for the subnet. A
// sentinel "None:<port>" host is normalized to the wildcard address.
func (c *Client) ResolveAddresses(netuid int) (map[int]string, error) {
	path := fmt.Sprintf("/chain/addresses/%d", netuid)
	resp, err := getJSON[map[int]string](c.client, path)
	if err != nil {
		return nil, err
	}
	addresses := make(map[int]string, len(resp.Data))
	for uid, addr := range resp.Data {
		addresses[uid] = NormalizeAddress(addr)
	}
	return addresses, nil
}

// VoteParams is the payload for a weight vote.
type VoteParams struct {
	Key     string `json:"key"`
	Uids    []int  `json:"uids"`
	Weights []int  `json:"weights"`
	Netuid  int    `json:"netuid"`
}

// Vote submits a single weight vote with parallel uid/weight sequences.
func (c *Client) Vote(key string, uids []int, weights []int, netuid int) error {
	if len(uids) != len(weights) {
		return fmt.Errorf("uids and weights must have the same length, got %d and %d", len(uids), len(weights))
	}
	_, err := postJSON[string](c.client, "/chain/vote", VoteParams{
		Key:     key,
		Uids:    uids,
		Weights: weights,
		Netuid:  netuid,
	})
	return err
}

// NormalizeAddress rewrites a "None:<port>" sentinel to a wildcard host.
func NormalizeAddress(addr string) string {
	if strings.HasPrefix(addr, "None:") {
		parts := strings.SplitN(addr, ":", 2)
		return "0.0.0.0:" + parts[1]
	}
	return addr
}

// IsRegistered reports whether the given key appears in the resolved module
// map. The validator treats a false result for its own key as fatal.
func IsRegistered(key string, modules map[string]ModuleInfo) bool {
	_, ok := modules[key]
	return ok
}
