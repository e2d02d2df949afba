// Package generals is a thin client for the generals.io public API. It covers
// only the endpoints the tracker needs: latest replays, current stars/ranks,
// username validation, and the supporter flag.
package generals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"genwatch/pkg/logx"
)

const DefaultBaseURL = "https://generals.io"

type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

type Client struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Replay is one finished game as reported by replaysForUsername.
type Replay struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Started int64          `json:"started"` // unix millis
	Turns   int            `json:"turns"`
	Ranking []ReplayPlayer `json:"ranking"`
}

type ReplayPlayer struct {
	Name  string    `json:"name"`
	Stars FlexFloat `json:"stars"`
}

// Duration derives wall-clock game length; the game ticks two turns per second.
func (r Replay) Duration() time.Duration {
	return time.Duration(r.Turns) * time.Second / 2
}

// PermalinkURL builds the public replay link for a replay id.
func (c *Client) PermalinkURL(replayID string) string {
	return c.base + "/replays/" + url.PathEscape(replayID)
}

// Standings is the current per-mode standing of one player. Keys are the
// API's rank keys ("duel", "2v2", "ffa"). Missing entries mean unranked.
type Standings struct {
	Stars map[string]float64
	Ranks map[string]int
}

// LatestReplays returns the player's most recent replays, newest first.
// The slice may be empty for players with no match history.
func (c *Client) LatestReplays(ctx context.Context, username string, count int) ([]Replay, error) {
	if count <= 0 {
		count = 1
	}
	q := url.Values{}
	q.Set("u", username)
	q.Set("offset", "0")
	q.Set("count", strconv.Itoa(count))

	var replays []Replay
	if err := c.getJSON(ctx, "/api/replaysForUsername", q, &replays); err != nil {
		return nil, err
	}
	return replays, nil
}

func (c *Client) StarsAndRanks(ctx context.Context, username string) (Standings, error) {
	q := url.Values{}
	q.Set("u", username)

	// The API mixes value types: stars may come back as numbers, numeric
	// strings, or null.
	var raw struct {
		Stars map[string]FlexFloat `json:"stars"`
		Ranks map[string]FlexInt   `json:"ranks"`
	}
	if err := c.getJSON(ctx, "/api/starsAndRanks", q, &raw); err != nil {
		return Standings{}, err
	}

	out := Standings{
		Stars: make(map[string]float64, len(raw.Stars)),
		Ranks: make(map[string]int, len(raw.Ranks)),
	}
	for k, v := range raw.Stars {
		out.Stars[k] = float64(v)
	}
	for k, v := range raw.Ranks {
		out.Ranks[k] = int(v)
	}
	return out, nil
}

func (c *Client) ValidateUsername(ctx context.Context, username string) (bool, error) {
	q := url.Values{}
	q.Set("u", username)
	return c.getBool(ctx, "/api/validateUsername", q)
}

func (c *Client) IsSupporter(ctx context.Context, username string) (bool, error) {
	q := url.Values{}
	q.Set("u", username)
	return c.getBool(ctx, "/api/isSupporter", q)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}

func (c *Client) getBool(ctx context.Context, path string, q url.Values) (bool, error) {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(body)) == "true", nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return body, nil
}
