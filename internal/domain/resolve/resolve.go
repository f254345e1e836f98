// Package resolve turns a urlparse.Parsed target into a usable tg.InputPeerClass
// (§4.1 "Entity Resolver" half of the component), joining invite links where
// needed and persisting resolved peers across restarts.
//
// Grounded on original_source/url_parser.py's resolve_entity_advanced/
// _resolve_invite_link/_resolve_private_entity/_resolve_public_entity for the
// dispatch-by-kind shape and the already-participant/expired/invalid invite
// branches, reimplemented against github.com/gotd/td/tg RPCs (ContactsResolveUsername,
// MessagesCheckChatInvite, MessagesImportChatInvite) in the call style of
// other_examples' tg-digest-bot collector.go (manual InputPeerChannel
// construction from a resolved chat). The teacher's internal/infra/telegram/peersmgr
// bbolt-backed cache supplied the idea of persisting resolved peers so the
// engine does not re-resolve on every cycle; its dialog-warmup fetch
// (peersmgr/dialogs_fetch.go) is adapted directly in dialogs.go, since a bare
// chat_id/private target (§4.1) cannot be addressed by MTProto without an
// access hash, and the account's own dialog list is the only source of one
// short of an invite join.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"

	"telegram-forwarder/internal/domain/classify"
	"telegram-forwarder/internal/domain/urlparse"
)

var peersBucket = []byte("peers")

// entry is the persisted shape of a resolved peer.
type entry struct {
	Kind       string `json:"kind"` // "user" | "chat" | "channel"
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash"`
	Title      string `json:"title"`
}

// Cache is a bbolt-backed store of previously resolved peers, one per account
// (§4.6 entity_cache.bbolt). It avoids a network round trip for targets the
// engine has already resolved, and is the only place access hashes for
// private channels/groups can come from once an invite join has happened.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt cache file at dbPath.
func Open(dbPath string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("resolve: ensure cache dir: %w", err)
		}
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("resolve: open cache: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve: init cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying bbolt file.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) get(key string) (entry, bool, error) {
	var e entry
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(peersBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &e)
	})
	return e, found, err
}

func (c *Cache) put(key string, e entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("resolve: marshal cache entry: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(peersBucket).Put([]byte(key), raw)
	})
}

// Resolved is a ready-to-use forwarding destination. JoinAttempted/
// JoinSuccessful/Kind+Title are the resolver's side of §4.2's
// join_attempted?/join_successful?/entity_info? observable outputs — set here
// because only the resolver knows whether an invite join happened.
type Resolved struct {
	InputPeer      tg.InputPeerClass
	Title          string
	Kind           string
	TopicID        int
	HasTopic       bool
	JoinAttempted  bool
	JoinSuccessful bool
}

// EntityInfo renders a short human-readable description of the resolved
// entity (§4.2 entity_info?), e.g. "channel:Announcements".
func (r Resolved) EntityInfo() string {
	if r.Title == "" {
		return r.Kind
	}
	return r.Kind + ":" + r.Title
}

// Resolve dispatches on p.Kind per §4.1's resolution table.
func (c *Cache) Resolve(ctx context.Context, api *tg.Client, p urlparse.Parsed) (Resolved, error) {
	if !p.Valid {
		return Resolved{}, fmt.Errorf("resolve: target %q failed parsing", p.OriginalURL)
	}
	switch p.Kind {
	case urlparse.KindInviteLink:
		return c.resolveInvite(ctx, api, p)
	case urlparse.KindPrivateChannel, urlparse.KindPrivateTopic, urlparse.KindChatID:
		return c.resolveByChatID(ctx, api, p)
	case urlparse.KindPublicChannel, urlparse.KindPublicTopic, urlparse.KindUsername:
		return c.resolveUsername(ctx, api, p)
	default:
		return Resolved{}, fmt.Errorf("resolve: unsupported kind %v", p.Kind)
	}
}

func (c *Cache) resolveUsername(ctx context.Context, api *tg.Client, p urlparse.Parsed) (Resolved, error) {
	username := strings.TrimPrefix(strings.ToLower(p.Identifier), "@")
	key := "username:" + username

	if e, ok, err := c.get(key); err == nil && ok {
		return Resolved{
			InputPeer: inputPeerFromEntry(e),
			Title:     e.Title,
			Kind:      e.Kind,
			TopicID:   p.TopicID,
			HasTopic:  p.HasTopicID,
		}, nil
	}

	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve username %s: %w", username, err)
	}

	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok && strings.EqualFold(ch.Username, username) {
			e := entry{Kind: "channel", ID: ch.ID, AccessHash: ch.AccessHash, Title: ch.Title}
			_ = c.put(key, e)
			return Resolved{InputPeer: inputPeerFromEntry(e), Title: e.Title, Kind: e.Kind, TopicID: p.TopicID, HasTopic: p.HasTopicID}, nil
		}
	}
	for _, user := range resolved.Users {
		if u, ok := user.(*tg.User); ok && strings.EqualFold(u.Username, username) {
			e := entry{Kind: "user", ID: u.ID, AccessHash: u.AccessHash, Title: u.Username}
			_ = c.put(key, e)
			return Resolved{InputPeer: inputPeerFromEntry(e), Title: e.Title, Kind: e.Kind}, nil
		}
	}

	return Resolved{}, fmt.Errorf("resolve username %s: no matching chat or user in response", username)
}

func (c *Cache) resolveByChatID(ctx context.Context, api *tg.Client, p urlparse.Parsed) (Resolved, error) {
	key := "chatid:" + strconv.FormatInt(p.ChatID, 10)
	// WarmDialogs stores entities under their bare id, while p.ChatID may
	// carry the -100 (channel) or - (basic group) prefix.
	bareKey := "chatid:" + strings.TrimPrefix(strings.TrimPrefix(strconv.FormatInt(p.ChatID, 10), "-100"), "-")
	lookup := func() (entry, bool) {
		for _, k := range []string{key, bareKey} {
			if e, ok, err := c.get(k); err == nil && ok {
				return e, true
			}
		}
		return entry{}, false
	}
	if e, ok := lookup(); ok {
		return Resolved{
			InputPeer: inputPeerFromEntry(e),
			Title:     e.Title,
			Kind:      e.Kind,
			TopicID:   p.TopicID,
			HasTopic:  p.HasTopicID,
		}, nil
	}

	// MTProto requires an access hash to address a channel/chat by id, and
	// there is no RPC that returns one for a bare id alone. WarmDialogs
	// populates the cache from the account's own dialog list (the entity
	// must be a chat/channel/user the account is already part of — this
	// mirrors original_source/url_parser.py's _resolve_private_entity
	// fallback, which only succeeds when the entity was already known to
	// the session), then the lookup is retried once.
	if err := c.WarmDialogs(ctx, api); err != nil {
		return Resolved{}, fmt.Errorf("resolve chat id %d: warm dialogs: %w", p.ChatID, err)
	}
	if e, ok := lookup(); ok {
		return Resolved{
			InputPeer: inputPeerFromEntry(e),
			Title:     e.Title,
			Kind:      e.Kind,
			TopicID:   p.TopicID,
			HasTopic:  p.HasTopicID,
		}, nil
	}

	return Resolved{}, fmt.Errorf("resolve chat id %d: not found in account's dialogs; target must be joined via invite link first", p.ChatID)
}

func (c *Cache) resolveInvite(ctx context.Context, api *tg.Client, p urlparse.Parsed) (Resolved, error) {
	key := "invite:" + p.InviteHash

	invite, err := api.MessagesCheckChatInvite(ctx, &tg.MessagesCheckChatInviteRequest{Hash: p.InviteHash})
	if err == nil {
		if already, ok := invite.(*tg.ChatInviteAlready); ok {
			// Already a participant: no join RPC was issued.
			return c.cacheAndBuild(key, already.Chat, p, false, true)
		}
	}

	updates, joinErr := api.MessagesImportChatInvite(ctx, &tg.MessagesImportChatInviteRequest{Hash: p.InviteHash})
	if joinErr != nil {
		if classify.Classify(joinErr).Kind == classify.KindAlreadyParticipant {
			invite, recheckErr := api.MessagesCheckChatInvite(ctx, &tg.MessagesCheckChatInviteRequest{Hash: p.InviteHash})
			if recheckErr == nil {
				if already, ok := invite.(*tg.ChatInviteAlready); ok {
					return c.cacheAndBuild(key, already.Chat, p, true, true)
				}
			}
		}
		return Resolved{JoinAttempted: true, JoinSuccessful: false}, fmt.Errorf("join invite %s: %w", p.InviteHash, joinErr)
	}

	chats := extractChats(updates)
	if len(chats) == 0 {
		return Resolved{JoinAttempted: true, JoinSuccessful: false}, fmt.Errorf("join invite %s: no chat in join result", p.InviteHash)
	}
	return c.cacheAndBuild(key, chats[0], p, true, true)
}

func (c *Cache) cacheAndBuild(key string, chat tg.ChatClass, p urlparse.Parsed, joinAttempted, joinSuccessful bool) (Resolved, error) {
	e, err := entryFromChat(chat)
	if err != nil {
		return Resolved{}, err
	}
	_ = c.put(key, e)
	// a private channel/group reached via invite is now resolvable by chat id too.
	_ = c.put("chatid:"+strconv.FormatInt(urlparse.NormalizeChatID(e.ID), 10), e)
	return Resolved{
		InputPeer:      inputPeerFromEntry(e),
		Title:          e.Title,
		Kind:           e.Kind,
		TopicID:        p.TopicID,
		HasTopic:       p.HasTopicID,
		JoinAttempted:  joinAttempted,
		JoinSuccessful: joinSuccessful,
	}, nil
}

func entryFromChat(chat tg.ChatClass) (entry, error) {
	switch ch := chat.(type) {
	case *tg.Channel:
		return entry{Kind: "channel", ID: ch.ID, AccessHash: ch.AccessHash, Title: ch.Title}, nil
	case *tg.Chat:
		return entry{Kind: "chat", ID: ch.ID, Title: ch.Title}, nil
	default:
		return entry{}, fmt.Errorf("resolve: unsupported chat type %T", chat)
	}
}

func inputPeerFromEntry(e entry) tg.InputPeerClass {
	switch e.Kind {
	case "channel":
		return &tg.InputPeerChannel{ChannelID: e.ID, AccessHash: e.AccessHash}
	case "user":
		return &tg.InputPeerUser{UserID: e.ID, AccessHash: e.AccessHash}
	default:
		return &tg.InputPeerChat{ChatID: e.ID}
	}
}

// extractChats pulls the Chats slice out of the common tg.UpdatesClass
// variants returned by messages.importChatInvite.
func extractChats(u tg.UpdatesClass) []tg.ChatClass {
	switch updates := u.(type) {
	case *tg.Updates:
		return updates.Chats
	case *tg.UpdatesCombined:
		return updates.Chats
	default:
		return nil
	}
}
