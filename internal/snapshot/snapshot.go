// Package snapshot retrieves miner-published dataset exports by content hash
// from an IPFS gateway.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/config"
)

// zstd frame magic, used to detect compressed snapshot files.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FetcherInterface is the content-addressed fetch contract.
type FetcherInterface interface {
	Fetch(ctx context.Context, link string) ([]byte, error)
}

// Fetcher downloads snapshot files through an IPFS gateway, with retries.
type Fetcher struct {
	client     *retryablehttp.Client
	gatewayURL string
}

// NewFetcher creates a fetcher using the provided environment configuration.
func NewFetcher(cfg *config.IpfsEnvConfig) (*Fetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 60 * time.Second
	client.Logger = nil

	return &Fetcher{
		client:     client,
		gatewayURL: strings.TrimRight(cfg.IpfsGatewayURL, "/"),
	}, nil
}

// ExtractHash accepts either a bare content hash or a full gateway URL and
// returns the hash (the final path segment).
func ExtractHash(link string) string {
	link = strings.TrimRight(strings.TrimSpace(link), "/")
	if idx := strings.LastIndex(link, "/"); idx >= 0 {
		return link[idx+1:]
	}
	return link
}

// GatewayLink builds the public gateway URL for a content hash.
func (f *Fetcher) GatewayLink(hash string) string {
	return f.gatewayURL + "/" + hash
}

// Fetch retrieves the raw snapshot bytes for a dataset link. Compressed
// snapshots are decompressed transparently.
func (f *Fetcher) Fetch(ctx context.Context, link string) ([]byte, error) {
	hash := ExtractHash(link)
	if hash == "" {
		return nil, fmt.Errorf("empty dataset link")
	}
	url := f.GatewayLink(hash)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("snapshot fetch failed")
		return nil, fmt.Errorf("fetch snapshot %s: %w", hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("snapshot fetch returned status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}

	return Decompress(data)
}

// Decompress unpacks a zstd-compressed snapshot; plain payloads pass through.
func Decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to create reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to decompress snapshot: %w", err)
	}
	return out, nil
}

// Compress packs a snapshot payload with zstd. Used by the reference miner
// before pinning.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to create writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("zstd: failed to compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zstd: failed to flush snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName names a snapshot export for a miner key.
func FileName(minerKey string, ts time.Time) string {
	return fmt.Sprintf("%s_%d.json", minerKey, ts.Unix())
}
