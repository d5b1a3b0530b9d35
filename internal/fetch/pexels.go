package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for search provider failures.
var (
	ErrNoCredentials     = errors.New("search provider credentials not configured")
	ErrSearchUnreachable = errors.New("search provider unreachable")
	ErrSearchRejected    = errors.New("search provider rejected request")
	ErrSearchTimeout     = errors.New("search provider timeout")
)

// placeholderKey is what sample .env files ship with.
const placeholderKey = "YOUR_DEFAULT_KEY"

// Searcher returns candidate image URLs for one page of a text query.
type Searcher interface {
	Search(ctx context.Context, query string, page, perPage int) ([]string, error)
}

// CredentialChecker is implemented by searchers that can tell, without a
// network call, whether they are able to authenticate.
type CredentialChecker interface {
	HasCredentials() bool
}

// PexelsClient implements Searcher using the Pexels REST API.
type PexelsClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewPexelsClient creates a new Pexels search client.
func NewPexelsClient(baseURL, apiKey string, timeout time.Duration) *PexelsClient {
	return &PexelsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// HasCredentials reports whether a usable API key is configured.
func (c *PexelsClient) HasCredentials() bool {
	return c.apiKey != "" && !strings.Contains(c.apiKey, placeholderKey)
}

func (c *PexelsClient) Search(ctx context.Context, query string, page, perPage int) ([]string, error) {
	if !c.HasCredentials() {
		return nil, ErrNoCredentials
	}

	params := url.Values{
		"query":    {query},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	u := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSearchRejected, resp.StatusCode)
	}

	var searchResp pexelsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding pexels response: %w", err)
	}

	urls := make([]string, 0, len(searchResp.Photos))
	for _, p := range searchResp.Photos {
		if p.Src.Original != "" {
			urls = append(urls, p.Src.Original)
		}
	}
	return urls, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrSearchTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSearchTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrSearchUnreachable, err)
}

// --- Pexels response types ---

type pexelsSearchResponse struct {
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	TotalResults int           `json:"total_results"`
	Photos       []pexelsPhoto `json:"photos"`
}

type pexelsPhoto struct {
	ID  int64          `json:"id"`
	Src pexelsPhotoSrc `json:"src"`
}

type pexelsPhotoSrc struct {
	Original string `json:"original"`
	Large    string `json:"large"`
}

// Compile-time check that PexelsClient implements Searcher.
var _ Searcher = (*PexelsClient)(nil)
