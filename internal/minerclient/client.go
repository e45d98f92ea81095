// Package minerclient is the RPC client for a miner's discovery, challenge
// and snapshot endpoints.
package minerclient

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/pkg/signature"
)

// ClientInterface is the miner RPC surface consumed by the orchestrator.
type ClientInterface interface {
	Discovery(ctx context.Context, addr string, req protocol.DiscoveryRequest) (*protocol.Discovery, error)
	Challenge(ctx context.Context, addr string, req protocol.ChallengeRequest) (*protocol.ChallengeResponse, error)
	Snapshot(ctx context.Context, addr string) (*protocol.SnapshotInfo, error)
}

// Client calls miner endpoints over HTTP, signing each request body so the
// miner can verify the calling validator.
type Client struct {
	httpClient *resty.Client
	signer     signature.SignatureProvider
	hotkey     string
}

func NewClient(cfg *config.ClientEnvConfig, signer signature.SignatureProvider, hotkey string) *Client {
	cli := resty.New().
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(cfg.ClientTimeout).
		SetRetryCount(cfg.RetryMax)

	return &Client{httpClient: cli, signer: signer, hotkey: hotkey}
}

func (c *Client) post(ctx context.Context, url string, body, result any) error {
	b, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req := c.httpClient.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(b).
		SetResult(result)

	if c.signer != nil {
		sig, err := c.signer.Sign(string(b))
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.SetHeader("X-Hotkey", c.hotkey)
		req.SetHeader("X-Signature", sig)
	}

	resp, err := req.Post(url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("miner call failed")
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("bad status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

// Discovery performs the handshake establishing a miner's token, protocol
// version and dataset location.
func (c *Client) Discovery(ctx context.Context, addr string, req protocol.DiscoveryRequest) (*protocol.Discovery, error) {
	var disc protocol.Discovery
	if err := c.post(ctx, fmt.Sprintf("http://%s/discovery", addr), req, &disc); err != nil {
		return nil, err
	}
	return &disc, nil
}

// Challenge asks the miner for its factual claims on the current token.
func (c *Client) Challenge(ctx context.Context, addr string, req protocol.ChallengeRequest) (*protocol.ChallengeResponse, error) {
	var resp protocol.ChallengeResponse
	if err := c.post(ctx, fmt.Sprintf("http://%s/challenge", addr), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot asks the miner for its latest content-addressed dataset export.
func (c *Client) Snapshot(ctx context.Context, addr string) (*protocol.SnapshotInfo, error) {
	var info protocol.SnapshotInfo
	resp, err := c.httpClient.R().SetContext(ctx).
		SetResult(&info).
		Get(fmt.Sprintf("http://%s/snapshot", addr))
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("snapshot call failed")
		return nil, err
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return &info, nil
}
