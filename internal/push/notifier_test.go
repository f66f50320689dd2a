package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/chatsync/internal/model"
)

type fakeSockets struct {
	connected map[string]bool
}

func (f fakeSockets) IsConnected(handle string) bool { return f.connected[handle] }

type fakeDirectory struct {
	users map[string]*model.User
}

func (f fakeDirectory) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("no such user")
}

func TestNotifySkipsSenderAndConnectedRecipients(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req NotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode notify body: %v", err)
		}
		if !utf8.ValidString(req.Body) {
			t.Errorf("notify body is not valid UTF-8: %q", req.Body)
		}
		mu.Lock()
		delivered = append(delivered, req.UserID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewMessageNotifier(NewClient(srv.URL))
	n.SetSocketTracker(
		fakeSockets{connected: map[string]bool{"bob": true}},
		fakeDirectory{users: map[string]*model.User{
			"u-alice": {ID: "u-alice", Handle: "alice", Name: "Alice"},
			"u-bob":   {ID: "u-bob", Handle: "bob"},
			"u-carol": {ID: "u-carol", Handle: "carol"},
		}},
	)

	conv := &model.Conversation{
		ID:           "c1",
		Participants: []string{"u-alice", "u-bob", "u-carol"},
		IsGroup:      true,
		GroupName:    "team",
	}
	msg := &model.Message{ID: "m1", Content: strings.Repeat("😀", 200)}
	n.NotifyNewMessage(conv, msg, &model.User{ID: "u-alice", Handle: "alice", Name: "Alice"})

	mu.Lock()
	defer mu.Unlock()
	// Not the sender, not bob (socket open): only carol gets a push.
	if len(delivered) != 1 || delivered[0] != "u-carol" {
		t.Fatalf("delivered to %v, want only u-carol", delivered)
	}
}

func TestNotifyWithoutTrackerReachesAllRecipients(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req NotifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		delivered = append(delivered, req.UserID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewMessageNotifier(NewClient(srv.URL))
	conv := &model.Conversation{ID: "c1", Participants: []string{"u-alice", "u-bob"}}
	n.NotifyNewMessage(conv, &model.Message{ID: "m1", Content: "hi"}, &model.User{ID: "u-alice", Handle: "alice"})

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "u-bob" {
		t.Fatalf("delivered to %v, want u-bob", delivered)
	}
}

func TestTruncatePreviewRespectsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("😀", 200)
	got := truncatePreview(long, 120)
	if !utf8.ValidString(got) {
		t.Fatal("truncated preview is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != 120 {
		t.Fatalf("rune count = %d, want 120", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatal("truncated preview missing ellipsis")
	}
	short := "short message"
	if truncatePreview(short, 120) != short {
		t.Fatal("short body should pass through untouched")
	}
}
