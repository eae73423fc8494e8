package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/punt/stream"
)

// Subscribe opens a server-sent event stream on topics and returns a
// channel of lifecycle events. With no topics the firehose is used.
// The channel is closed when ctx is cancelled or the server ends the
// stream.
//
// Topics follow the feed convention:
//   - "job:<name>"  events for one job name
//   - "jobs"        every job lifecycle event
//   - "retries"     retry scheduling and promotion
//   - "firehose"    everything
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	q := url.Values{}
	for _, topic := range topics {
		q.Add("topic", topic)
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("punt/client: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("punt/client: subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan *stream.Event, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data:")
			if !ok {
				continue
			}
			var evt stream.Event
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				c.logger.Warn("punt/client: decode event", slog.String("error", err.Error()))
				continue
			}
			select {
			case ch <- &evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
