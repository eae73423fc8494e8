package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/punt"
	"github.com/xraph/punt/api"
	"github.com/xraph/punt/broker/memory"
	"github.com/xraph/punt/engine"
	"github.com/xraph/punt/stream"
)

func setupFeed(t *testing.T) (*engine.Engine, *stream.Feed, http.Handler) {
	t.Helper()
	b := memory.New()
	eng, err := engine.Build(punt.DefaultConfig(), b, b.Session())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	feed := stream.NewFeed(eng.Logger())
	eng.Extensions().Register(feed)
	return eng, feed, api.New(eng, api.WithFeed(feed)).Handler()
}

func TestEventsWithoutFeed(t *testing.T) {
	_, _, h := setup(t)

	if rec := do(t, h, http.MethodGet, "/v1/events", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEventsInvalidTopic(t *testing.T) {
	_, feed, h := setupFeed(t)

	rec := do(t, h, http.MethodGet, "/v1/events?topic=workflows", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := feed.Stats().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d", got)
	}
}

func TestEventsStream(t *testing.T) {
	eng, feed, h := setupFeed(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events?topic=job:sayHello", nil)
	if err != nil {
		t.Fatal(err)
	}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := srv.Client().Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	deadline := time.Now().Add(2 * time.Second)
	for feed.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := eng.EnqueueRaw(context.Background(), "other", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	id, err := eng.EnqueueRaw(context.Background(), "sayHello", json.RawMessage(`{"name":"Punt"}`))
	if err != nil {
		t.Fatal(err)
	}

	var resp *http.Response
	select {
	case resp = <-respCh:
	case err := <-errCh:
		t.Fatalf("request: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			eventLine = strings.TrimPrefix(line, "event:")
		}
		if strings.HasPrefix(line, "data:") {
			dataLine = strings.TrimPrefix(line, "data:")
			break
		}
	}
	if eventLine != "job.enqueued" {
		t.Fatalf("event = %q", eventLine)
	}

	var evt stream.Event
	if err := json.Unmarshal([]byte(dataLine), &evt); err != nil {
		t.Fatalf("decode %q: %v", dataLine, err)
	}
	var data stream.JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatal(err)
	}
	if evt.Topic != "job:sayHello" || data.DeliveryID != id {
		t.Errorf("event = %+v, data = %+v", evt, data)
	}
}
