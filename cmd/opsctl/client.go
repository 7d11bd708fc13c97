package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// adminClient calls the provisioner's admin API.
type adminClient struct {
	baseURL string
	apiKey  string
	httpCli *http.Client
}

func newAdminClient() (*adminClient, error) {
	baseURL := os.Getenv("PROVISIONER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8020"
	}
	apiKey := os.Getenv("ADMIN_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ADMIN_API_KEY is not set")
	}

	return &adminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpCli: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// do performs one admin API call and decodes the JSON response into out
// (pass nil to discard).
func (c *adminClient) do(method, path string, out interface{}) error {
	req, err := http.NewRequest(method, c.baseURL+"/api/admin"+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-API-Key", c.apiKey)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
