package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names:
//
//	job:<name>   events for one job name
//	jobs         every job.* event
//	retries      job.retrying and retry.promoted
//	firehose     everything
const (
	TopicJobs     = "jobs"
	TopicRetries  = "retries"
	TopicFirehose = "firehose"
)

// JobTopic returns the topic for a job name.
func JobTopic(name string) string { return "job:" + name }

// ValidateTopic reports whether topic is one a client may subscribe to.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicRetries, TopicFirehose:
		return nil
	}
	name, ok := strings.CutPrefix(topic, "job:")
	if !ok || name == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	return nil
}

// resolveTopics lists every topic evt is published on.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if strings.HasPrefix(string(evt.Type), "job.") {
		topics = append(topics, TopicJobs)
	}
	if evt.Type == EventJobRetrying || evt.Type == EventRetryPromoted {
		topics = append(topics, TopicRetries)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// topicSet maps topic names to their subscribers. It is safe for
// concurrent use.
type topicSet struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicSet() *topicSet {
	return &topicSet{topics: make(map[string]map[string]*Subscriber)}
}

func (ts *topicSet) add(topic string, sub *Subscriber) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	subs, ok := ts.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		ts.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

func (ts *topicSet) removeAll(subscriberID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for topic, subs := range ts.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(ts.topics, topic)
		}
	}
}

func (ts *topicSet) count() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.topics)
}

// broadcast delivers evt once to every subscriber on any of topics and
// returns how many accepted it.
func (ts *topicSet) broadcast(topics []string, evt *Event) int {
	ts.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range ts.topics[topic] {
			seen[id] = sub
		}
	}
	ts.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}
