// client/client.go
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attic/internal/branch"
	"attic/internal/commit"
	"attic/internal/fork"
)

type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

func New(baseURL, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

func (c *Client) do(method, path string, body any, out any, wantStatus int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// PutBlob stores a payload and returns its content hash.
func (c *Client) PutBlob(projectID, content string) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}
	err := c.do(http.MethodPost, "/api/blobs", map[string]string{
		"project_id": projectID,
		"content":    content,
	}, &result, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return result.Hash, nil
}

// GetBlob reads a payload using a previously obtained read capability.
func (c *Client) GetBlob(hash, token string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/api/blobs/%s?token=%s", c.baseURL, hash, url.QueryEscape(token)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// CreateCommit appends a commit to a branch of the project.
func (c *Client) CreateCommit(projectID string, req commit.CreateRequest) (*commit.Commit, error) {
	var result commit.Commit
	err := c.do(http.MethodPost, fmt.Sprintf("/api/projects/%s/commits", projectID), req, &result, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCommit fetches a commit's metadata plus a read capability for its blob.
func (c *Client) GetCommit(projectID, commitID string) (*commit.Commit, string, error) {
	var result struct {
		Commit    *commit.Commit `json:"commit"`
		BlobToken string         `json:"blob_token"`
	}
	err := c.do(http.MethodGet, fmt.Sprintf("/api/projects/%s/commits/%s", projectID, commitID), nil, &result, http.StatusOK)
	if err != nil {
		return nil, "", err
	}
	return result.Commit, result.BlobToken, nil
}

// History lists commits reachable from the named branches, newest first.
func (c *Client) History(projectID string, branches []string) ([]*commit.Commit, error) {
	var result []*commit.Commit
	path := fmt.Sprintf("/api/projects/%s/history?branches=%s", projectID, url.QueryEscape(strings.Join(branches, ",")))
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result, nil
}

// Branches lists the project's branches.
func (c *Client) Branches(projectID string) ([]*branch.Branch, error) {
	var result []*branch.Branch
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/projects/%s/branches", projectID), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result, nil
}

// Fork seeds targetProjectID's branch directory from projectID.
func (c *Client) Fork(projectID string, req fork.Request) ([]*branch.Branch, error) {
	var result []*branch.Branch
	err := c.do(http.MethodPost, fmt.Sprintf("/api/projects/%s/fork", projectID), req, &result, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return result, nil
}
