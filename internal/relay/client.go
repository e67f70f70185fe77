// Package relay publishes status notes to Nostr relays and queries the bot's
// previous notes back. Transport is a plain WebSocket per relay; the Nostr
// wire protocol is small enough that each conversation is one dial, a couple
// of frames, and a close.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/routstr/gateway-monitor/internal/utils"
)

// Client fans out to a fixed relay set. Publishing tries every relay;
// querying returns the best candidate seen across all of them.
type Client struct {
	relays         []string
	publishTimeout time.Duration
	fetchTimeout   time.Duration
}

// NewClient creates a relay client. Timeouts are per relay conversation, not
// per fan-out: one dead relay never starves the rest.
func NewClient(relays []string, publishTimeout, fetchTimeout time.Duration) *Client {
	return &Client{
		relays:         relays,
		publishTimeout: publishTimeout,
		fetchTimeout:   fetchTimeout,
	}
}

// Publish sends a signed event to all relays and returns how many accepted
// it. An error is returned only when no relay accepted the event.
func (c *Client) Publish(ctx context.Context, ev nostr.Event) (int, error) {
	// No HTML escaping: published notes carry free text and the signature
	// covers the exact content bytes.
	frame, err := utils.MarshalNoEscape([]any{"EVENT", ev})
	if err != nil {
		return 0, fmt.Errorf("encoding event frame: %w", err)
	}

	accepted := 0
	for _, relayURL := range c.relays {
		if err := c.publishOne(ctx, relayURL, ev.ID, frame); err != nil {
			log.Warn().Err(err).Str("relay", relayURL).Msg("publish failed")
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return 0, fmt.Errorf("no relay accepted event %s", ev.ID)
	}
	return accepted, nil
}

func (c *Client) publishOne(ctx context.Context, relayURL, eventID string, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, relayURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	// Wait for the OK acknowledging our event id.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("waiting for OK: %w", err)
		}
		msg := gjson.ParseBytes(data).Array()
		if len(msg) < 3 || msg[0].Str != "OK" || msg[1].Str != eventID {
			continue
		}
		if !msg[2].Bool() {
			reason := ""
			if len(msg) > 3 {
				reason = msg[3].Str
			}
			return fmt.Errorf("relay rejected event: %s", reason)
		}
		return nil
	}
}

// LatestNote returns the bot's most recent published note across all relays,
// or nil when none is found. Candidates are ranked by the original bot's
// heuristic: the shortest note longer than five words wins, which skips
// relay spam and truncated mirrors while preferring the tightest copy.
func (c *Client) LatestNote(ctx context.Context, pubkey string) (*nostr.Event, error) {
	var best *nostr.Event
	for _, relayURL := range c.relays {
		events, err := c.queryOne(ctx, relayURL, pubkey)
		if err != nil {
			log.Warn().Err(err).Str("relay", relayURL).Msg("query failed")
			continue
		}
		for i := range events {
			best = pickNote(best, &events[i])
		}
	}
	return best, nil
}

func (c *Client) queryOne(ctx context.Context, relayURL, pubkey string) ([]nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, relayURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	subID := uuid.NewString()
	filter := map[string]any{
		"kinds":   []int{int(nostr.KindTextNote)},
		"authors": []string{pubkey},
		"limit":   21,
	}
	frame, err := json.Marshal([]any{"REQ", subID, filter})
	if err != nil {
		return nil, fmt.Errorf("encoding REQ frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, fmt.Errorf("writing REQ: %w", err)
	}

	var events []nostr.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Timeout after some events is a partial success, not a failure.
			if len(events) > 0 {
				return events, nil
			}
			return nil, fmt.Errorf("reading events: %w", err)
		}

		msg := gjson.ParseBytes(data).Array()
		if len(msg) < 2 || msg[1].Str != subID {
			continue
		}
		switch msg[0].Str {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			var ev nostr.Event
			if err := json.Unmarshal([]byte(msg[2].Raw), &ev); err != nil {
				log.Debug().Err(err).Str("relay", relayURL).Msg("skipping undecodable event")
				continue
			}
			if ev.PubKey != pubkey {
				continue
			}
			events = append(events, ev)
		case "EOSE":
			closeFrame, _ := json.Marshal([]any{"CLOSE", subID})
			_ = conn.Write(ctx, websocket.MessageText, closeFrame)
			return events, nil
		}
	}
}

func pickNote(best, candidate *nostr.Event) *nostr.Event {
	if wordCount(candidate.Content) <= 5 {
		return best
	}
	if best == nil || wordCount(candidate.Content) < wordCount(best.Content) {
		return candidate
	}
	return best
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
