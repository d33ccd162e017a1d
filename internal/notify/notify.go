// Package notify delivers run summaries to push notification services.
// Gotify and ntfy are supported; both are optional and configured sinks are
// fanned out to together.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jsprague84/updatectl/internal/log"
)

// Action is an ntfy action button attached to a notification. Gotify has no
// equivalent and ignores them.
type Action struct {
	Action  string            `json:"action"`
	Label   string            `json:"label"`
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HTTPPostAction fires a POST request when tapped, e.g. at one of our own
// webhook endpoints.
func HTTPPostAction(label, url string) Action {
	return Action{Action: "http", Label: label, URL: url, Method: http.MethodPost}
}

// Message is one notification.
type Message struct {
	Title   string
	Body    string
	Actions []Action
}

// Notifier delivers messages to one service.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// Gotify posts to a Gotify server's /message endpoint.
type Gotify struct {
	URL    string
	Key    string
	Client *http.Client
}

func (g *Gotify) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"title":    msg.Title,
		"message":  msg.Body,
		"priority": 5,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gotify-Key", g.Key)

	return doRequest(g.Client, req, "gotify")
}

// Ntfy posts JSON to an ntfy server's base URL; the topic rides in the
// payload.
type Ntfy struct {
	URL    string
	Topic  string
	Auth   string
	Client *http.Client
}

func (n *Ntfy) Send(ctx context.Context, msg Message) error {
	body := map[string]any{
		"topic":    n.Topic,
		"title":    msg.Title,
		"message":  msg.Body,
		"priority": 4,
		"markdown": true,
	}
	if len(msg.Actions) > 0 {
		body["actions"] = msg.Actions
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(n.URL, "/"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Auth != "" {
		req.Header.Set("Authorization", "Bearer "+n.Auth)
	}

	return doRequest(n.Client, req, "ntfy")
}

func doRequest(client *http.Client, req *http.Request, service string) error {
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s notification: %w", service, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", service, resp.StatusCode)
	}
	return nil
}

// Multi fans one message out to every configured sink. All sinks are tried
// even when earlier ones fail.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every message. Used when no service is configured.
type Discard struct{}

func (Discard) Send(context.Context, Message) error { return nil }

// Options selects which services a Notifier built by New talks to. Empty
// fields disable their service.
type Options struct {
	GotifyURL string
	GotifyKey string
	NtfyURL   string
	NtfyTopic string
	NtfyAuth  string
}

// New builds a Notifier from the configured services. With nothing
// configured it returns a Discard sink, so callers never need a nil check.
func New(opts Options, logger *log.Logger) Notifier {
	var sinks Multi
	if opts.GotifyURL != "" && opts.GotifyKey != "" {
		sinks = append(sinks, &Gotify{URL: opts.GotifyURL, Key: opts.GotifyKey})
	}
	if opts.NtfyTopic != "" {
		url := opts.NtfyURL
		if url == "" {
			url = "https://ntfy.sh"
		}
		sinks = append(sinks, &Ntfy{URL: url, Topic: opts.NtfyTopic, Auth: opts.NtfyAuth})
	}
	if len(sinks) == 0 {
		logger.Debug("no notification service configured")
		return Discard{}
	}
	return sinks
}
