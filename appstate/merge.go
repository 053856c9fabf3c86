package appstate

import (
	"sort"
	"time"
)

// TombstoneTTL is how long a deletion tombstone is retained. Past it
// the tombstone is dropped even if the entity was never observed again.
const TombstoneTTL = 30 * 24 * time.Hour

// MergeTombstones combines two tombstone maps: the newer deletion time
// wins per id, and entries older than TombstoneTTL at now are dropped.
func MergeTombstones(local, remote map[string]int64, now time.Time) map[string]int64 {
	merged := make(map[string]int64, len(local)+len(remote))
	for id, ts := range remote {
		merged[id] = ts
	}
	for id, ts := range local {
		if ts > merged[id] {
			merged[id] = ts
		}
	}
	cutoff := now.UnixMilli() - TombstoneTTL.Milliseconds()
	for id, ts := range merged {
		if ts < cutoff {
			delete(merged, id)
		}
	}
	return merged
}

// MergeChat reconciles a remote chat slice into the local one. The
// inputs are not mutated. Policy, in order: tombstone maps merge with
// newer-wins and TTL expiry; a session whose tombstone is not older
// than its own last update is deleted; empty remote sessions are
// ignored; unseen remote sessions are adopted after message filtering;
// for shared sessions each remote message is skipped when tombstoned or
// streaming, appended when new, healed over a local empty-response
// record, and otherwise resolved by the greater per-message update
// timestamp. A message demonstrably edited after its tombstone
// resurrects: the tombstone is removed from the merged map.
func MergeChat(local, remote ChatState, now time.Time) ChatState {
	merged := local.Clone()
	merged.DeletedSessions = MergeTombstones(local.DeletedSessions, remote.DeletedSessions, now)
	merged.DeletedMessages = MergeTombstones(local.DeletedMessages, remote.DeletedMessages, now)

	// keepSession resurrects like dropMessage below: a session updated
	// strictly after its tombstone survives and sheds the tombstone.
	keepSession := func(s ChatSession) bool {
		deletedAt, ok := merged.DeletedSessions[s.ID]
		if !ok {
			return true
		}
		if deletedAt < s.LastUpdate {
			delete(merged.DeletedSessions, s.ID)
			return true
		}
		return false
	}

	// dropMessage resurrects as a side effect: an edit strictly newer
	// than the tombstone removes the tombstone from the merged map.
	dropMessage := func(m Message) bool {
		if m.ID == "" {
			return false
		}
		deletedAt, ok := merged.DeletedMessages[m.ID]
		if !ok {
			return false
		}
		if m.EffectiveUpdatedAt() > deletedAt {
			delete(merged.DeletedMessages, m.ID)
			return false
		}
		return true
	}

	index := make(map[string]int, len(merged.Sessions))
	for i, s := range merged.Sessions {
		index[s.ID] = i
	}

	for _, remoteSession := range remote.Sessions {
		if !keepSession(remoteSession) {
			continue
		}
		if len(remoteSession.Messages) == 0 {
			continue
		}

		i, exists := index[remoteSession.ID]
		if !exists {
			adopted := remoteSession.clone()
			kept := adopted.Messages[:0]
			for _, m := range adopted.Messages {
				if !dropMessage(m) {
					kept = append(kept, m)
				}
			}
			adopted.Messages = kept
			if len(adopted.Messages) > 0 {
				index[adopted.ID] = len(merged.Sessions)
				merged.Sessions = append(merged.Sessions, adopted)
			}
			continue
		}

		session := &merged.Sessions[i]
		byID := make(map[string]int, len(session.Messages))
		for j, m := range session.Messages {
			byID[m.ID] = j
		}
		for _, remoteMessage := range remoteSession.Messages {
			if dropMessage(remoteMessage) {
				continue
			}
			if remoteMessage.IsStreaming() {
				continue
			}
			j, have := byID[remoteMessage.ID]
			if !have {
				byID[remoteMessage.ID] = len(session.Messages)
				session.Messages = append(session.Messages, remoteMessage)
				continue
			}
			localMessage := &session.Messages[j]
			if localMessage.IsEmptyResponse() && remoteMessage.HasContent() {
				*localMessage = remoteMessage
				continue
			}
			if remoteMessage.EffectiveUpdatedAt() > localMessage.EffectiveUpdatedAt() {
				*localMessage = remoteMessage
			}
		}

		kept := session.Messages[:0]
		for _, m := range session.Messages {
			if !dropMessage(m) {
				kept = append(kept, m)
			}
		}
		session.Messages = kept
		sortMessages(session.Messages)
	}

	kept := merged.Sessions[:0]
	for _, s := range merged.Sessions {
		if keepSession(s) {
			kept = append(kept, s)
		}
	}
	merged.Sessions = kept
	sort.SliceStable(merged.Sessions, func(a, b int) bool {
		return merged.Sessions[a].LastUpdate > merged.Sessions[b].LastUpdate
	})

	if remote.LastUpdateTime > merged.LastUpdateTime {
		merged.LastUpdateTime = remote.LastUpdateTime
	}
	return merged
}

func sortMessages(messages []Message) {
	sort.SliceStable(messages, func(a, b int) bool {
		return parseDateMillis(messages[a].Date) < parseDateMillis(messages[b].Date)
	})
}

// MergeDict combines a keyed-collection slice: remote entries form the
// base and local entries override on id collision.
func MergeDict(local, remote DictState) DictState {
	merged := make(map[string]any, len(local.Entries)+len(remote.Entries))
	for id, v := range remote.Entries {
		merged[id] = cloneValue(v)
	}
	for id, v := range local.Entries {
		merged[id] = cloneValue(v)
	}
	if len(merged) == 0 {
		return DictState{}
	}
	return DictState{Entries: merged}
}

// MergeTimestamped resolves a whole-blob slice by last writer wins on
// the remote and local lastUpdateTime fields. The result is a deep
// merge biased toward the newer slice: its fields win on conflict, the
// older slice only fills gaps.
func MergeTimestamped(local, remote TimestampedState) TimestampedState {
	if local == nil && remote == nil {
		return nil
	}
	if remote.LastUpdateTime() > local.LastUpdateTime() {
		return deepMerge(local, remote)
	}
	return deepMerge(remote, local)
}

// deepMerge overlays winner onto base: winner's values replace base's
// on key conflict, recursing where both sides hold objects.
func deepMerge(base, winner map[string]any) map[string]any {
	out := cloneMap(base)
	if out == nil {
		out = make(map[string]any, len(winner))
	}
	for k, wv := range winner {
		bm, bok := out[k].(map[string]any)
		wm, wok := wv.(map[string]any)
		if bok && wok {
			out[k] = deepMerge(bm, wm)
			continue
		}
		out[k] = cloneValue(wv)
	}
	return out
}

// Merge reconciles a full remote snapshot into the local one, slice by
// slice. Pure: neither input is mutated, and the output is a function
// of the two snapshots and now alone. Merging a snapshot with itself
// returns an equal snapshot (modulo tombstone expiry at now).
func Merge(local, remote AppState, now time.Time) AppState {
	return AppState{
		Chat:   MergeChat(local.Chat, remote.Chat, now),
		Access: MergeTimestamped(local.Access, remote.Access),
		Config: MergeTimestamped(local.Config, remote.Config),
		Mask:   MergeDict(local.Mask, remote.Mask),
		Prompt: MergeDict(local.Prompt, remote.Prompt),
	}
}
