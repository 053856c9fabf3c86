package appstate

import "time"

// ForSync prepares a snapshot for remote upload. Streaming content
// never crosses the sync boundary: a session with any streaming message
// is withheld entirely (its complete transcript uploads on the next
// attempt), and streaming or empty-response messages are stripped from
// the rest. Tombstoned messages whose edits do not supersede the
// tombstone are dropped, expired tombstones are pruned, and sessions
// left with zero messages are not uploaded. The input is not mutated.
func ForSync(state AppState, now time.Time) AppState {
	out := state.Clone()
	chat := &out.Chat

	cutoff := now.UnixMilli() - TombstoneTTL.Milliseconds()
	pruneExpired(chat.DeletedSessions, cutoff)
	pruneExpired(chat.DeletedMessages, cutoff)

	sessions := chat.Sessions[:0]
	for _, session := range chat.Sessions {
		if session.hasStreaming() {
			continue
		}
		kept := session.Messages[:0]
		for _, m := range session.Messages {
			if m.IsStreaming() || m.IsEmptyResponse() {
				continue
			}
			if deletedAt, ok := chat.DeletedMessages[m.ID]; ok {
				if m.EffectiveUpdatedAt() <= deletedAt {
					continue
				}
			}
			kept = append(kept, m)
		}
		session.Messages = kept
		if len(session.Messages) == 0 {
			continue
		}
		sessions = append(sessions, session)
	}
	chat.Sessions = sessions
	return out
}

func pruneExpired(tombstones map[string]int64, cutoff int64) {
	for id, ts := range tombstones {
		if ts < cutoff {
			delete(tombstones, id)
		}
	}
}
