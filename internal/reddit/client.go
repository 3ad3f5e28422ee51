// Package reddit implements the platform API client used for streaming
// submissions and posting comments.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

// Config controls the Reddit HTTP client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the Reddit JSON API. One client is shared across workers;
// it keeps no per-worker state.
type Client struct {
	cfg  Config
	http *http.Client
}

var (
	_ lead.SubmissionSource = (*Client)(nil)
	_ lead.Poster           = (*Client)(nil)
)

// New creates a reusable Reddit client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://oauth.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "aitino-leadapi/1.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

type listingResponse struct {
	Data struct {
		Children []struct {
			Data struct {
				ID         string  `json:"id"`
				Name       string  `json:"name"`
				Title      string  `json:"title"`
				Selftext   string  `json:"selftext"`
				Subreddit  string  `json:"subreddit"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchNew returns the newest submissions for the multireddit formed by
// joining the topic set with "+". Listings arrive newest-first; the result
// is reversed so callers process in arrival order. before is the fullname
// of the newest submission already seen, or empty on the first fetch.
func (c *Client) FetchNew(ctx context.Context, subreddits []string, before string) ([]lead.Submission, error) {
	if len(subreddits) == 0 {
		return nil, fmt.Errorf("no subreddits to fetch")
	}

	endpoint := fmt.Sprintf("%s/r/%s/new.json", strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(strings.Join(subreddits, "+")))
	query := url.Values{"limit": {"100"}}
	if before != "" {
		query.Set("before", before)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch new submissions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reddit listing %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	children := listing.Data.Children
	subs := make([]lead.Submission, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		d := children[i].Data
		subs = append(subs, lead.Submission{
			SourceID:  d.ID,
			Title:     d.Title,
			Body:      d.Selftext,
			Subreddit: d.Subreddit,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
	}
	return subs, nil
}

type commentResponse struct {
	JSON struct {
		Data struct {
			Things []struct {
				Data struct {
					Body string `json:"body"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// PostComment publishes a comment on the submission and returns the
// platform-echoed body, which is authoritative over the draft.
func (c *Client) PostComment(ctx context.Context, creds lead.Credentials, submissionID, text string) (string, error) {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {"t3_" + submissionID},
		"text":     {text},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/comment"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &lead.PublishError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &lead.PublishError{
			Err: fmt.Errorf("reddit comment %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	var out commentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &lead.PublishError{Err: fmt.Errorf("decode comment response: %w", err)}
	}
	if len(out.JSON.Data.Things) == 0 {
		// Some endpoints echo nothing useful; the submitted text stands.
		return text, nil
	}
	return out.JSON.Data.Things[0].Data.Body, nil
}
