// Package peer calls other room actors through their internal HTTP endpoints. Every call carries the
// internal secret header.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	domainworld "farmrealm-server/internal/domain/world"
)

const SecretHeader = "X-Internal-Secret"

const maxResponseBody = 64 << 10

type Client struct {
	baseURL string
	secret  string
	lobbyID string
	http    *http.Client
}

func NewClient(baseURL, secret, lobbyID string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		lobbyID: lobbyID,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint(roomID, op string, query url.Values) string {
	u := fmt.Sprintf("%s/v1/rooms/%s/internal/%s", c.baseURL, url.PathEscape(roomID), op)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, target string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode peer request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build peer request: %w", err)
	}
	req.Header.Set(SecretHeader, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read peer response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("peer %s: status %d: %s", target, resp.StatusCode, gjson.GetBytes(data, "error").String())
	}
	return data, nil
}

// InitRealm pushes the realm's configuration to its own actor.
func (c *Client) InitRealm(ctx context.Context, cfg domainworld.RealmConfig) error {
	body := map[string]any{"expiresAt": cfg.ExpiresAt, "roles": cfg.Roles}
	_, err := c.do(ctx, http.MethodPost, c.endpoint(cfg.RealmID, "init-realm", nil), body)
	return err
}

func (c *Client) RealmStats(ctx context.Context, realmID string) (domainworld.RealmStats, error) {
	data, err := c.do(ctx, http.MethodGet, c.endpoint(realmID, "stats", nil), nil)
	if err != nil {
		return domainworld.RealmStats{}, err
	}
	res := gjson.ParseBytes(data)
	return domainworld.RealmStats{
		RoomID:        res.Get("roomId").String(),
		Configured:    res.Get("configured").Bool(),
		ActivePlayers: int(res.Get("activePlayers").Int()),
		ExpiresAt:     res.Get("expiresAt").Int(),
	}, nil
}

func (c *Client) ClearPlayerRealm(ctx context.Context, playerID string) error {
	q := url.Values{"playerId": {playerID}}
	_, err := c.do(ctx, http.MethodPost, c.endpoint(c.lobbyID, "clear-player-realm", q), nil)
	return err
}

func (c *Client) ClearRealmPlayers(ctx context.Context, playerIDs []string) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoint(c.lobbyID, "clear-realm-players", nil), map[string]any{"playerIds": playerIDs})
	return err
}
