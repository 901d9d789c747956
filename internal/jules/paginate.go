package jules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrTooManyPages is returned when Options.MaxPages is set and
// a listing keeps returning continuation tokens.
var ErrTooManyPages = errors.New("page limit exceeded")

// fetchAll walks every page of a collection and returns the
// items under key in server order. A missing or non-array
// items field counts as an empty page; items that do not decode
// into T are logged and skipped.
func fetchAll[T any](
	ctx context.Context, c *Client, path, key string,
) ([]T, error) {
	var (
		all   []T
		token string
	)
	for page := 0; ; page++ {
		if c.maxPages > 0 && page >= c.maxPages {
			return nil, fmt.Errorf(
				"listing %s: %d pages: %w", path, page, ErrTooManyPages,
			)
		}

		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if token != "" {
			q.Set("pageToken", token)
		}
		body, err := c.Get(ctx, path, q)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", path, err)
		}

		items := gjson.GetBytes(body, key)
		if items.IsArray() {
			items.ForEach(func(_, v gjson.Result) bool {
				var item T
				if err := json.Unmarshal([]byte(v.Raw), &item); err != nil {
					c.logger.Warn().Err(err).
						Str("path", path).
						Msg("skipping undecodable item")
					return true
				}
				all = append(all, item)
				return true
			})
		}

		token = gjson.GetBytes(body, "nextPageToken").String()
		if token == "" {
			return all, nil
		}
	}
}

// ListSessions returns every session of the account.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	return fetchAll[Session](ctx, c, "/sessions", "sessions")
}

// ListSources returns every connected source.
func (c *Client) ListSources(ctx context.Context) ([]Source, error) {
	return fetchAll[Source](ctx, c, "/sources", "sources")
}

// ListActivities returns the full timeline of the session with
// the given resource name (for example "sessions/123").
func (c *Client) ListActivities(
	ctx context.Context, sessionName string,
) ([]Activity, error) {
	path := "/" + strings.Trim(sessionName, "/") + "/activities"
	return fetchAll[Activity](ctx, c, path, "activities")
}
