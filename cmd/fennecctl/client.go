package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fennec/internal/catalog"
	"fennec/internal/contentdir"
)

// client talks to the daemon's admin API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string, timeout time.Duration) *client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type statusReply struct {
	Catalog    catalog.Stats `json:"catalog"`
	Rebuilding bool          `json:"rebuilding"`
	UptimeS    int64         `json:"uptime_s"`
	Sessions   int           `json:"sessions"`
}

type browseReply struct {
	Parent  int64              `json:"parent"`
	Entries []contentdir.Entry `json:"entries"`
}

type rebuildReply struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
}

type errorReply struct {
	Error string `json:"error"`
}

func (c *client) Status(ctx context.Context) (*statusReply, error) {
	var reply statusReply
	if err := c.do(ctx, "GET", "/api/status", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *client) Browse(ctx context.Context, parent int64, device string) (*browseReply, error) {
	query := url.Values{}
	query.Set("parent", fmt.Sprintf("%d", parent))
	if device != "" {
		query.Set("device", device)
	}
	var reply browseReply
	if err := c.do(ctx, "GET", "/api/browse", query, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *client) Rebuild(ctx context.Context, mode string) (*rebuildReply, error) {
	query := url.Values{}
	if mode != "" {
		query.Set("mode", mode)
	}
	var reply rebuildReply
	if err := c.do(ctx, "POST", "/api/rebuild", query, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *client) RebuildVFolders(ctx context.Context) (*rebuildReply, error) {
	var reply rebuildReply
	if err := c.do(ctx, "POST", "/api/vfolders/rebuild", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr errorReply
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return json.Unmarshal(body, out)
}
