package generals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"genwatch/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, HTTPTimeout: 2 * time.Second}, logx.Nop())
}

func TestLatestReplays(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/replaysForUsername" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("u") != "alice" || q.Get("count") != "1" || q.Get("offset") != "0" {
			t.Errorf("query = %v", q)
		}
		// stars arrive as numbers, numeric strings, or null depending on the
		// player; all three must decode.
		w.Write([]byte(`[{"id":"R1","type":"1v1","started":1700000000000,"turns":120,
			"ranking":[{"name":"alice","stars":42.5},{"name":"bob","stars":"37"},{"name":"anon","stars":null}]}]`))
	})

	replays, err := c.LatestReplays(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("LatestReplays: %v", err)
	}
	if len(replays) != 1 {
		t.Fatalf("replays = %d, want 1", len(replays))
	}
	r := replays[0]
	if r.ID != "R1" || r.Type != "1v1" || r.Started != 1700000000000 || r.Turns != 120 {
		t.Fatalf("replay mangled: %+v", r)
	}
	if len(r.Ranking) != 3 {
		t.Fatalf("ranking = %d, want 3", len(r.Ranking))
	}
	if float64(r.Ranking[0].Stars) != 42.5 || float64(r.Ranking[1].Stars) != 37 || float64(r.Ranking[2].Stars) != 0 {
		t.Fatalf("stars mangled: %+v", r.Ranking)
	}
	if r.Duration() != time.Minute {
		t.Fatalf("Duration = %v, want 1m (two turns per second)", r.Duration())
	}
}

func TestLatestReplaysEmpty(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})
	replays, err := c.LatestReplays(context.Background(), "newbie", 1)
	if err != nil {
		t.Fatalf("LatestReplays: %v", err)
	}
	if len(replays) != 0 {
		t.Fatalf("replays = %d, want 0", len(replays))
	}
}

func TestStarsAndRanksMixedTypes(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/starsAndRanks" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"stars":{"duel":"42.0","ffa":17.3,"2v2":null},"ranks":{"duel":3,"ffa":"120"}}`))
	})

	s, err := c.StarsAndRanks(context.Background(), "alice")
	if err != nil {
		t.Fatalf("StarsAndRanks: %v", err)
	}
	if s.Stars["duel"] != 42.0 || s.Stars["ffa"] != 17.3 || s.Stars["2v2"] != 0 {
		t.Fatalf("stars = %v", s.Stars)
	}
	if s.Ranks["duel"] != 3 || s.Ranks["ffa"] != 120 {
		t.Fatalf("ranks = %v", s.Ranks)
	}
}

func TestValidateUsernameAndSupporter(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/validateUsername":
			if r.URL.Query().Get("u") == "alice" {
				w.Write([]byte("true"))
			} else {
				w.Write([]byte("false"))
			}
		case "/api/isSupporter":
			w.Write([]byte("true"))
		default:
			http.NotFound(w, r)
		}
	})

	ok, err := c.ValidateUsername(context.Background(), "alice")
	if err != nil || !ok {
		t.Fatalf("ValidateUsername(alice) = (%v, %v)", ok, err)
	}
	ok, err = c.ValidateUsername(context.Background(), "ghost")
	if err != nil || ok {
		t.Fatalf("ValidateUsername(ghost) = (%v, %v)", ok, err)
	}
	sup, err := c.IsSupporter(context.Background(), "alice")
	if err != nil || !sup {
		t.Fatalf("IsSupporter = (%v, %v)", sup, err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.LatestReplays(context.Background(), "alice", 1); err == nil {
		t.Fatal("expected error on 500")
	}
	if _, err := c.StarsAndRanks(context.Background(), "alice"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestPermalinkURL(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{}, logx.Nop())
	if got := c.PermalinkURL("AbC123"); got != "https://generals.io/replays/AbC123" {
		t.Fatalf("PermalinkURL = %s", got)
	}
}
