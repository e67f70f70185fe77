package relay

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Signer holds the bot's Nostr keypair and produces signed events.
type Signer struct {
	sk string
	pk string
}

// NewSigner decodes a private key given as bech32 nsec or raw hex.
func NewSigner(key string) (*Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	sk := key
	if strings.HasPrefix(key, "nsec") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("decoding nsec: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("expected nsec key, got %s", prefix)
		}
		sk = value.(string)
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	return &Signer{sk: sk, pk: pk}, nil
}

// PublicKey returns the hex public key.
func (s *Signer) PublicKey() string {
	return s.pk
}

// TextNote builds and signs a kind-1 note.
func (s *Signer) TextNote(content string, tags nostr.Tags) (nostr.Event, error) {
	ev := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}
	if err := ev.Sign(s.sk); err != nil {
		return nostr.Event{}, fmt.Errorf("signing event: %w", err)
	}
	return ev, nil
}

// NoteID encodes an event id as a bech32 note reference for display.
func NoteID(id string) string {
	encoded, err := nip19.EncodeNote(id)
	if err != nil {
		return id
	}
	return encoded
}
