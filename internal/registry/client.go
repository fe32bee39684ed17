package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"poflow/internal"
	"poflow/internal/config"
)

const maxAttempts = 5

// Client pulls the master vendor registry from the procurement API.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
	sleep      func(time.Duration)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type vendorPage struct {
	Vendors []apiVendor `json:"vendors"`
	Cursor  *string     `json:"cursor"`
}

type apiVendor struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone"`
	ContactPerson string   `json:"contactPerson"`
	Aliases       []string `json:"aliases"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.RegistryTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.RegistryRateLimitRPS),
		sleep:      time.Sleep,
	}
}

// FetchAll walks every page of the vendor listing. Entries without a name
// are skipped; a repeated cursor ends the walk.
func (c *Client) FetchAll(ctx context.Context) ([]internal.Vendor, error) {
	all := make([]internal.Vendor, 0)
	seen := map[string]struct{}{}
	var cursor string

	for {
		query := map[string]string{}
		if cursor != "" {
			query["cursor"] = cursor
		}

		body, err := c.fetchJSON(ctx, "vendors", query)
		if err != nil {
			return nil, err
		}

		var page vendorPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode vendor page: %w", err)
		}

		for _, raw := range page.Vendors {
			if v, ok := toVendor(raw); ok {
				all = append(all, v)
			}
		}

		if page.Cursor == nil || *page.Cursor == "" || len(page.Vendors) == 0 {
			break
		}
		if _, ok := seen[*page.Cursor]; ok {
			break
		}
		seen[*page.Cursor] = struct{}{}
		cursor = *page.Cursor
	}

	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.RegistryAPIToken) == "" {
		return nil, errors.New("missing REGISTRY_API_TOKEN")
	}
	if strings.TrimSpace(c.cfg.RegistryAPIBaseURL) == "" {
		return nil, errors.New("missing REGISTRY_API_BASE_URL")
	}

	baseURL := strings.TrimRight(c.cfg.RegistryAPIBaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.RegistryAPIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				c.sleep(backoff)
				lastErr = fmt.Errorf("registry status %d", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("registry api error: status=%d body=%s", resp.StatusCode, string(body))
		}

		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, err
		}
		if !apiResp.Success {
			return nil, fmt.Errorf("registry api unsuccessful: %s %s", apiResp.Message, string(apiResp.Errors))
		}
		return apiResp.Data, nil
	}

	if lastErr == nil {
		lastErr = errors.New("registry request failed")
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func toVendor(raw apiVendor) (internal.Vendor, bool) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return internal.Vendor{}, false
	}
	kind := internal.KindVendor
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "delivery", string(internal.KindDelivery):
		kind = internal.KindDelivery
	}

	aliases := make([]string, 0, len(raw.Aliases))
	for _, a := range raw.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}

	return internal.Vendor{
		ID:            raw.ID,
		Name:          name,
		Kind:          kind,
		Email:         strings.TrimSpace(raw.Email),
		Phone:         strings.TrimSpace(raw.Phone),
		ContactPerson: strings.TrimSpace(raw.ContactPerson),
		Aliases:       aliases,
	}, true
}
