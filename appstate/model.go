// Package appstate defines the synchronized application-state snapshot
// and the pure merge engine that reconciles a remote snapshot into
// local state. Merging is deterministic: the same two snapshots and the
// same clock instant always produce the same output.
package appstate

import (
	"strings"
	"time"
)

// Slice names the top-level state slices carried in a snapshot.
type Slice string

const (
	SliceChat   Slice = "chat"
	SliceAccess Slice = "access"
	SliceConfig Slice = "config"
	SliceMask   Slice = "mask"
	SlicePrompt Slice = "prompt"
)

// Slices lists every synchronized slice in canonical order.
func Slices() []Slice {
	return []Slice{SliceChat, SliceAccess, SliceConfig, SliceMask, SlicePrompt}
}

// StatusStreaming marks a message whose content is still being
// produced. Streaming messages never cross the sync boundary.
const StatusStreaming = "streaming"

// emptyResponseMarker identifies a recorded failed-completion message
// eligible for healing from a remote copy that has real content.
const emptyResponseMarker = "empty response"

// Message is one chat transcript entry.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
	// Date is the display timestamp the message was created with. It is
	// the ordering fallback when UpdatedAt is absent.
	Date string `json:"date,omitempty"`
	// UpdatedAt is the last edit time in epoch milliseconds, 0 if never
	// edited.
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
	Status    string `json:"status,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

// IsStreaming reports whether the message is still being produced.
func (m Message) IsStreaming() bool {
	return m.Streaming || m.Status == StatusStreaming
}

// IsEmptyResponse reports whether the message records a failed
// completion that a remote copy with content may heal.
func (m Message) IsEmptyResponse() bool {
	return m.IsError && strings.Contains(m.Content, emptyResponseMarker)
}

// HasContent reports whether the message carries non-blank content.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

// dateLayouts are tried in order when parsing Message.Date. The display
// field has accumulated a few formats across app versions.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006/01/02 15:04:05",
	"1/2/2006, 3:04:05 PM",
}

func parseDateMillis(date string) int64 {
	if date == "" {
		return 0
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// EffectiveUpdatedAt is the message's merge-comparison timestamp:
// UpdatedAt when set, otherwise the parsed Date, otherwise 0.
func (m Message) EffectiveUpdatedAt() int64 {
	if m.UpdatedAt != 0 {
		return m.UpdatedAt
	}
	return parseDateMillis(m.Date)
}

// ChatSession is one conversation transcript.
type ChatSession struct {
	ID       string    `json:"id"`
	Topic    string    `json:"topic,omitempty"`
	Messages []Message `json:"messages"`
	// LastUpdate is the session's last modification in epoch
	// milliseconds; sessions are presented newest first.
	LastUpdate int64 `json:"lastUpdate"`
}

func (s ChatSession) clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// hasStreaming reports whether any message in the session is streaming.
func (s ChatSession) hasStreaming() bool {
	for _, m := range s.Messages {
		if m.IsStreaming() {
			return true
		}
	}
	return false
}

// ChatState is the chat slice: transcripts plus deletion tombstones.
// Tombstone maps record id -> deletion time (epoch ms); entries expire
// after TombstoneTTL regardless of whether the entity still exists.
type ChatState struct {
	Sessions        []ChatSession    `json:"sessions"`
	DeletedSessions map[string]int64 `json:"deletedSessions,omitempty"`
	DeletedMessages map[string]int64 `json:"deletedMessages,omitempty"`
	LastUpdateTime  int64            `json:"lastUpdateTime,omitempty"`
}

// Clone deep-copies the chat slice.
func (c ChatState) Clone() ChatState {
	out := c
	out.Sessions = make([]ChatSession, len(c.Sessions))
	for i, s := range c.Sessions {
		out.Sessions[i] = s.clone()
	}
	out.DeletedSessions = cloneTombstones(c.DeletedSessions)
	out.DeletedMessages = cloneTombstones(c.DeletedMessages)
	return out
}

func cloneTombstones(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DictState is a keyed-collection slice (masks, prompts): a flat map of
// entry id to entry payload.
type DictState struct {
	Entries map[string]any `json:"entries,omitempty"`
}

// Clone deep-copies the dictionary slice.
func (d DictState) Clone() DictState {
	return DictState{Entries: cloneMap(d.Entries)}
}

// TimestampedState is a whole-blob slice (config, access): an arbitrary
// JSON object whose "lastUpdateTime" field orders writers.
type TimestampedState map[string]any

// LastUpdateTime extracts the slice's writer timestamp, 0 when absent
// or non-numeric.
func (t TimestampedState) LastUpdateTime() int64 {
	switch v := t["lastUpdateTime"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// Clone deep-copies the slice.
func (t TimestampedState) Clone() TimestampedState {
	return TimestampedState(cloneMap(t))
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AppState is the full synchronized snapshot.
type AppState struct {
	Chat   ChatState        `json:"chat"`
	Access TimestampedState `json:"access,omitempty"`
	Config TimestampedState `json:"config,omitempty"`
	Mask   DictState        `json:"mask"`
	Prompt DictState        `json:"prompt"`
}

// Clone deep-copies the snapshot.
func (s AppState) Clone() AppState {
	return AppState{
		Chat:   s.Chat.Clone(),
		Access: s.Access.Clone(),
		Config: s.Config.Clone(),
		Mask:   s.Mask.Clone(),
		Prompt: s.Prompt.Clone(),
	}
}
