package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsprague84/updatectl/internal/log"
)

func TestGotifySend(t *testing.T) {
	var got map[string]any
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Gotify-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	g := &Gotify{URL: srv.URL, Key: "s3cret", Client: srv.Client()}
	err := g.Send(context.Background(), Message{Title: "Update complete", Body: "3 servers updated"})
	require.NoError(t, err)

	assert.Equal(t, "s3cret", key)
	assert.Equal(t, "Update complete", got["title"])
	assert.Equal(t, "3 servers updated", got["message"])
	assert.Equal(t, float64(5), got["priority"])
}

func TestGotifySendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := &Gotify{URL: srv.URL, Key: "bad", Client: srv.Client()}
	err := g.Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNtfySendWithActions(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := &Ntfy{URL: srv.URL + "/", Topic: "updates", Auth: "tok123", Client: srv.Client()}
	err := n.Send(context.Background(), Message{
		Title:   "Updates available",
		Body:    "web: 3 packages",
		Actions: []Action{HTTPPostAction("Update now", "https://example.com/webhook/update/os?server=web&token=x")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok123", auth)
	assert.Equal(t, "updates", got["topic"])
	assert.Equal(t, true, got["markdown"])
	assert.Equal(t, float64(4), got["priority"])

	actions, ok := got["actions"].([]any)
	require.True(t, ok)
	require.Len(t, actions, 1)
	action := actions[0].(map[string]any)
	assert.Equal(t, "http", action["action"])
	assert.Equal(t, "POST", action["method"])
	assert.Equal(t, "Update now", action["label"])
}

func TestNtfySendWithoutActionsOmitsField(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := &Ntfy{URL: srv.URL, Topic: "updates", Client: srv.Client()}
	require.NoError(t, n.Send(context.Background(), Message{Title: "t", Body: "b"}))

	_, present := got["actions"]
	assert.False(t, present)
}

type stubNotifier struct {
	sent []Message
	err  error
}

func (s *stubNotifier) Send(_ context.Context, msg Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func TestMultiSendsToAllEvenOnFailure(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	working := &stubNotifier{}

	err := Multi{failing, working}.Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Len(t, failing.sent, 1)
	assert.Len(t, working.sent, 1)
}

func TestNewSelectsConfiguredSinks(t *testing.T) {
	logger := log.New()

	n := New(Options{}, logger)
	assert.IsType(t, Discard{}, n)

	n = New(Options{GotifyURL: "https://push.example.com/message", GotifyKey: "k"}, logger)
	multi, ok := n.(Multi)
	require.True(t, ok)
	assert.Len(t, multi, 1)

	n = New(Options{NtfyTopic: "updates"}, logger)
	multi = n.(Multi)
	require.Len(t, multi, 1)
	assert.Equal(t, "https://ntfy.sh", multi[0].(*Ntfy).URL)

	// Gotify without a key stays disabled.
	n = New(Options{GotifyURL: "https://push.example.com/message"}, logger)
	assert.IsType(t, Discard{}, n)
}
