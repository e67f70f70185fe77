package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeRelay accepts one WebSocket conversation and answers with canned
// behavior: stored events for REQs and an OK for EVENTs.
func fakeRelay(t *testing.T, stored []nostr.Event, acceptPublish bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			msg := gjson.ParseBytes(data).Array()
			if len(msg) == 0 {
				continue
			}
			switch msg[0].Str {
			case "EVENT":
				id := msg[1].Get("id").Str
				frame, _ := json.Marshal([]any{"OK", id, acceptPublish, "duplicate: already have it"})
				_ = conn.Write(ctx, websocket.MessageText, frame)
			case "REQ":
				subID := msg[1].Str
				for _, ev := range stored {
					frame, _ := json.Marshal([]any{"EVENT", subID, ev})
					_ = conn.Write(ctx, websocket.MessageText, frame)
				}
				frame, _ := json.Marshal([]any{"EOSE", subID})
				_ = conn.Write(ctx, websocket.MessageText, frame)
			case "CLOSE":
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	return signer
}

func signedNote(t *testing.T, signer *Signer, content string) nostr.Event {
	t.Helper()
	ev, err := signer.TextNote(content, nil)
	require.NoError(t, err)
	return ev
}

func TestSigner_TextNote(t *testing.T) {
	signer := newTestSigner(t)

	ev, err := signer.TextNote("hello from the monitor", nostr.Tags{{"t", "status"}})
	require.NoError(t, err)

	assert.Equal(t, nostr.KindTextNote, ev.Kind)
	assert.Equal(t, signer.PublicKey(), ev.PubKey)
	assert.NotEmpty(t, ev.ID)
	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSigner_RejectsGarbage(t *testing.T) {
	_, err := NewSigner("")
	require.Error(t, err)

	_, err = NewSigner("nsec1notavalidkey")
	require.Error(t, err)
}

func TestPublish_Accepted(t *testing.T) {
	signer := newTestSigner(t)
	srv := fakeRelay(t, nil, true)

	c := NewClient([]string{wsURL(srv)}, 2*time.Second, 2*time.Second)
	accepted, err := c.Publish(context.Background(), signedNote(t, signer, "status report"))
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
}

func TestPublish_AllRejected(t *testing.T) {
	signer := newTestSigner(t)
	srv := fakeRelay(t, nil, false)

	c := NewClient([]string{wsURL(srv)}, 2*time.Second, 2*time.Second)
	_, err := c.Publish(context.Background(), signedNote(t, signer, "status report"))
	require.Error(t, err)
}

func TestPublish_CountsAcrossRelays(t *testing.T) {
	signer := newTestSigner(t)
	good := fakeRelay(t, nil, true)
	bad := fakeRelay(t, nil, false)

	c := NewClient([]string{wsURL(good), wsURL(bad)}, 2*time.Second, 2*time.Second)
	accepted, err := c.Publish(context.Background(), signedNote(t, signer, "status report"))
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
}

func TestLatestNote_PrefersShortestAboveFiveWords(t *testing.T) {
	signer := newTestSigner(t)
	stored := []nostr.Event{
		signedNote(t, signer, "too short"),
		signedNote(t, signer, "this one has exactly seven useful words total"),
		signedNote(t, signer, "a much longer note with many more words than the other candidates in the set"),
	}
	srv := fakeRelay(t, stored, true)

	c := NewClient([]string{wsURL(srv)}, 2*time.Second, 2*time.Second)
	note, err := c.LatestNote(context.Background(), signer.PublicKey())
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "this one has exactly seven useful words total", note.Content)
}

func TestLatestNote_IgnoresOtherAuthors(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)
	stored := []nostr.Event{
		signedNote(t, other, "an impostor note with plenty of words inside it"),
	}
	srv := fakeRelay(t, stored, true)

	c := NewClient([]string{wsURL(srv)}, 2*time.Second, 2*time.Second)
	note, err := c.LatestNote(context.Background(), signer.PublicKey())
	require.NoError(t, err)
	assert.Nil(t, note)
}

func TestLatestNote_NoRelaysReachable(t *testing.T) {
	c := NewClient([]string{"ws://127.0.0.1:1"}, 200*time.Millisecond, 200*time.Millisecond)
	note, err := c.LatestNote(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, note)
}
