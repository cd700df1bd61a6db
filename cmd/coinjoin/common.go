package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const requestTimeout = 2 * time.Minute

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(ctx *cli.Context) *client {
	return &client{
		baseURL: strings.TrimSuffix(ctx.String("url"), "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) post(
	ctx context.Context, path string, body interface{},
) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *client) do(
	ctx context.Context, method, path string, body interface{},
) (map[string]interface{}, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %s", err)
	}
	defer resp.Body.Close()

	result := make(map[string]interface{})
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid response from daemon: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s (%d)", result["error"], resp.StatusCode)
	}
	return result, nil
}

func parseOutpoint(s string) (string, uint32, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid outpoint %s, must be txid:vout", s)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid outpoint vout %s", parts[1])
	}
	return parts[0], uint32(vout), nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}

	fmt.Println(string(jsonBytes))
	return nil
}
