package appstate

import (
	"reflect"
	"testing"
	"time"
)

var mergeNow = time.UnixMilli(1_700_000_000_000)

func ms(offset time.Duration) int64 {
	return mergeNow.Add(offset).UnixMilli()
}

func dateAt(offset time.Duration) string {
	return mergeNow.Add(offset).UTC().Format(time.RFC3339)
}

func msg(id string, offset time.Duration, content string) Message {
	return Message{
		ID:        id,
		Role:      "assistant",
		Content:   content,
		Date:      dateAt(offset),
		UpdatedAt: ms(offset),
	}
}

func chatWith(sessions ...ChatSession) ChatState {
	return ChatState{Sessions: sessions}
}

func findSession(t *testing.T, state ChatState, id string) ChatSession {
	t.Helper()
	for _, s := range state.Sessions {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("session %q not in merge output", id)
	return ChatSession{}
}

func TestMergeChatSessionTombstonePrecedence(t *testing.T) {
	// Scenario: local deleted session B at T2; remote still has B with
	// lastUpdate T1 < T2. B must stay deleted and the tombstone must
	// survive.
	local := chatWith()
	local.DeletedSessions = map[string]int64{"B": ms(-time.Hour)}
	remote := chatWith(ChatSession{
		ID:         "B",
		Messages:   []Message{msg("b1", -3*time.Hour, "hello")},
		LastUpdate: ms(-2 * time.Hour),
	})

	merged := MergeChat(local, remote, mergeNow)

	for _, s := range merged.Sessions {
		if s.ID == "B" {
			t.Fatalf("tombstoned session resurrected by an older edit")
		}
	}
	if _, ok := merged.DeletedSessions["B"]; !ok {
		t.Fatalf("effective tombstone dropped from merge output")
	}
}

func TestMergeChatSessionResurrection(t *testing.T) {
	local := chatWith()
	local.DeletedSessions = map[string]int64{"B": ms(-2 * time.Hour)}
	remote := chatWith(ChatSession{
		ID:         "B",
		Messages:   []Message{msg("b1", -time.Hour, "edited later")},
		LastUpdate: ms(-time.Hour),
	})

	merged := MergeChat(local, remote, mergeNow)

	findSession(t, merged, "B")
	if _, ok := merged.DeletedSessions["B"]; ok {
		t.Fatalf("stale tombstone kept after resurrection")
	}
}

func TestMergeChatMessageResurrection(t *testing.T) {
	tomb := ms(-time.Hour)
	local := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{msg("keep", -3*time.Hour, "base")},
		LastUpdate: ms(-time.Minute),
	})
	local.DeletedMessages = map[string]int64{
		"resurrected": tomb,
		"stays-dead":  tomb,
	}
	remote := chatWith(ChatSession{
		ID: "A",
		Messages: []Message{
			msg("resurrected", -30*time.Minute, "edited after deletion"),
			msg("stays-dead", -2*time.Hour, "edited before deletion"),
		},
		LastUpdate: ms(-time.Minute),
	})

	merged := MergeChat(local, remote, mergeNow)
	session := findSession(t, merged, "A")

	ids := map[string]bool{}
	for _, m := range session.Messages {
		ids[m.ID] = true
	}
	if !ids["resurrected"] {
		t.Fatalf("message edited after its tombstone did not survive")
	}
	if ids["stays-dead"] {
		t.Fatalf("message edited before its tombstone survived")
	}
	if _, ok := merged.DeletedMessages["resurrected"]; ok {
		t.Fatalf("stale message tombstone kept after resurrection")
	}
	if _, ok := merged.DeletedMessages["stays-dead"]; !ok {
		t.Fatalf("effective message tombstone dropped")
	}
}

func TestMergeChatStreamingNeverOverwritesFromRemote(t *testing.T) {
	local := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{msg("m1", -time.Hour, "local draft")},
		LastUpdate: ms(-time.Hour),
	})
	streaming := msg("m1", -time.Minute, "partial remote")
	streaming.Streaming = true
	statusStreaming := msg("m2", -time.Minute, "partial remote 2")
	statusStreaming.Status = StatusStreaming
	remote := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{streaming, statusStreaming},
		LastUpdate: ms(-time.Minute),
	})

	merged := MergeChat(local, remote, mergeNow)
	session := findSession(t, merged, "A")

	if len(session.Messages) != 1 || session.Messages[0].Content != "local draft" {
		t.Fatalf("streaming remote content crossed the merge boundary: %+v", session.Messages)
	}
}

func TestMergeChatEmptyResponseHealing(t *testing.T) {
	broken := msg("m1", -time.Minute, "error: got empty response from server")
	broken.IsError = true
	local := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{broken},
		LastUpdate: ms(-time.Minute),
	})
	// The remote copy is older; healing applies regardless of
	// timestamps.
	remote := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{msg("m1", -time.Hour, "the real answer")},
		LastUpdate: ms(-time.Hour),
	})

	merged := MergeChat(local, remote, mergeNow)
	session := findSession(t, merged, "A")

	if session.Messages[0].Content != "the real answer" {
		t.Fatalf("empty-response record not healed: %+v", session.Messages[0])
	}
	if session.Messages[0].IsError {
		t.Fatalf("healed message kept its error flag")
	}
}

func TestMergeChatRecencyAndOrdering(t *testing.T) {
	// Scenario: local has session A with m1 at T0; remote has m1 edited
	// at T1 > T0 plus a new m2. The result carries remote's m1 content
	// and m2, ordered by date ascending.
	local := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{msg("m1", -3*time.Hour, "original")},
		LastUpdate: ms(-3 * time.Hour),
	})
	remote := chatWith(ChatSession{
		ID: "A",
		Messages: []Message{
			msg("m2", -time.Hour, "newer follow-up"),
			msg("m1", -2*time.Hour, "edited"),
		},
		LastUpdate: ms(-time.Hour),
	})

	merged := MergeChat(local, remote, mergeNow)
	session := findSession(t, merged, "A")

	if len(session.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(session.Messages))
	}
	if session.Messages[0].ID != "m1" || session.Messages[0].Content != "edited" {
		t.Fatalf("m1 not taken from remote: %+v", session.Messages[0])
	}
	if session.Messages[1].ID != "m2" {
		t.Fatalf("messages not date-ordered: %+v", session.Messages)
	}
}

func TestMergeChatLocalNewerMessageWins(t *testing.T) {
	local := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{msg("m1", -time.Hour, "local edit")},
		LastUpdate: ms(-time.Hour),
	})
	remote := chatWith(ChatSession{
		ID:         "A",
		Messages:   []Message{msg("m1", -2*time.Hour, "older remote")},
		LastUpdate: ms(-2 * time.Hour),
	})

	merged := MergeChat(local, remote, mergeNow)
	if got := findSession(t, merged, "A").Messages[0].Content; got != "local edit" {
		t.Fatalf("older remote overwrote newer local: %q", got)
	}
}

func TestMergeChatSkipsEmptyRemoteSessionsAndSortsDesc(t *testing.T) {
	local := chatWith(ChatSession{
		ID:         "old",
		Messages:   []Message{msg("o1", -5*time.Hour, "x")},
		LastUpdate: ms(-5 * time.Hour),
	})
	remote := chatWith(
		ChatSession{ID: "empty", Messages: nil, LastUpdate: ms(-time.Minute)},
		ChatSession{
			ID:         "new",
			Messages:   []Message{msg("n1", -time.Hour, "y")},
			LastUpdate: ms(-time.Hour),
		},
	)

	merged := MergeChat(local, remote, mergeNow)

	if len(merged.Sessions) != 2 {
		t.Fatalf("session count = %d, want 2 (empty remote adopted?)", len(merged.Sessions))
	}
	if merged.Sessions[0].ID != "new" || merged.Sessions[1].ID != "old" {
		t.Fatalf("sessions not sorted by last-update desc: %v, %v",
			merged.Sessions[0].ID, merged.Sessions[1].ID)
	}
}

func TestMergeTombstonesNewerWinsAndTTL(t *testing.T) {
	local := map[string]int64{
		"both":    ms(-time.Hour),
		"expired": mergeNow.Add(-TombstoneTTL - time.Hour).UnixMilli(),
	}
	remote := map[string]int64{
		"both":   ms(-2 * time.Hour),
		"remote": ms(-time.Minute),
	}

	merged := MergeTombstones(local, remote, mergeNow)

	if merged["both"] != ms(-time.Hour) {
		t.Fatalf("newer tombstone lost: %d", merged["both"])
	}
	if _, ok := merged["remote"]; !ok {
		t.Fatalf("remote-only tombstone lost")
	}
	if _, ok := merged["expired"]; ok {
		t.Fatalf("tombstone past TTL retained")
	}
}

func TestMergeDictRemoteBaseLocalOverride(t *testing.T) {
	local := DictState{Entries: map[string]any{
		"shared": "local",
		"mine":   "local-only",
	}}
	remote := DictState{Entries: map[string]any{
		"shared": "remote",
		"theirs": "remote-only",
	}}

	merged := MergeDict(local, remote)

	want := map[string]any{"shared": "local", "mine": "local-only", "theirs": "remote-only"}
	if !reflect.DeepEqual(merged.Entries, want) {
		t.Fatalf("merged = %v, want %v", merged.Entries, want)
	}
}

func TestMergeTimestampedNewerWinsOlderFillsGaps(t *testing.T) {
	local := TimestampedState{
		"lastUpdateTime": float64(ms(-time.Hour)),
		"theme":          "dark",
		"localOnly":      "keep-me",
	}
	remote := TimestampedState{
		"lastUpdateTime": float64(ms(-time.Minute)),
		"theme":          "light",
	}

	merged := MergeTimestamped(local, remote)

	if merged["theme"] != "light" {
		t.Fatalf("newer slice lost the conflict: %v", merged["theme"])
	}
	if merged["localOnly"] != "keep-me" {
		t.Fatalf("older slice did not fill the gap")
	}

	// Flip recency: local newer, remote older.
	local["lastUpdateTime"] = float64(ms(0))
	merged = MergeTimestamped(local, remote)
	if merged["theme"] != "dark" {
		t.Fatalf("newer local slice lost the conflict: %v", merged["theme"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	state := AppState{
		Chat: ChatState{
			Sessions: []ChatSession{
				{
					ID:         "A",
					Messages:   []Message{msg("m1", -2*time.Hour, "x"), msg("m2", -time.Hour, "y")},
					LastUpdate: ms(-time.Hour),
				},
			},
			DeletedSessions: map[string]int64{"gone": ms(-time.Hour)},
			DeletedMessages: map[string]int64{"dead": ms(-time.Hour)},
		},
		Access: TimestampedState{"lastUpdateTime": float64(ms(-time.Hour)), "token": "t"},
		Config: TimestampedState{"lastUpdateTime": float64(ms(-time.Hour)), "theme": "dark"},
		Mask:   DictState{Entries: map[string]any{"m": "v"}},
		Prompt: DictState{Entries: map[string]any{"p": "v"}},
	}

	merged := Merge(state, state, mergeNow)
	if !reflect.DeepEqual(merged, state) {
		t.Fatalf("merge(x, x) != x:\n got %+v\nwant %+v", merged, state)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	local := AppState{
		Chat: ChatState{
			Sessions: []ChatSession{{
				ID:         "A",
				Messages:   []Message{msg("m1", -2*time.Hour, "x")},
				LastUpdate: ms(-2 * time.Hour),
			}},
			DeletedMessages: map[string]int64{"dead": ms(-time.Hour)},
		},
	}
	remote := AppState{
		Chat: ChatState{
			Sessions: []ChatSession{{
				ID:         "A",
				Messages:   []Message{msg("m1", -time.Hour, "edited"), msg("dead", -30*time.Minute, "back")},
				LastUpdate: ms(-time.Hour),
			}},
		},
	}
	localBefore := local.Clone()
	remoteBefore := remote.Clone()

	Merge(local, remote, mergeNow)

	if !reflect.DeepEqual(local, localBefore) {
		t.Fatalf("local input mutated")
	}
	if !reflect.DeepEqual(remote, remoteBefore) {
		t.Fatalf("remote input mutated")
	}
}
