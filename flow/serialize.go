package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/stepflow-go/flow/store"
)

// snapshotVersion is bumped when the snapshot layout changes
// incompatibly. Older snapshots are rejected rather than misread.
const snapshotVersion = 1

// snapshot is the persisted envelope around a conversation's state.
// The format is self-describing JSON: the flow definition itself is not
// serialized, only its name, which Restore checks against the flow the
// caller provides.
type snapshot struct {
	Version        int                `json:"version"`
	Flow           string             `json:"flow"`
	ConversationID string             `json:"conversation_id"`
	SavedAt        time.Time          `json:"saved_at"`
	State          *ConversationState `json:"state"`
}

// Snapshot serializes the conversation's full paused state: position,
// variable bindings, output caches, transcript, pending tool calls, and
// every nested substate. The snapshot round-trips exactly: a restored
// conversation given the same supplied values produces the same
// statuses and outputs as the original would have.
//
// Snapshot must not be called while Execute is running.
func (c *Conversation) Snapshot() ([]byte, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	data, err := json.Marshal(snapshot{
		Version:        snapshotVersion,
		Flow:           c.flow.Name(),
		ConversationID: c.id,
		SavedAt:        time.Now().UTC(),
		State:          c.state,
	})
	if err != nil {
		return nil, &FlowError{
			Message: fmt.Sprintf("failed to serialize conversation: %v", err),
			Code:    "SERIALIZE_FAILED",
		}
	}
	return data, nil
}

// Restore rehydrates a conversation from a snapshot taken earlier,
// possibly in a different process. The caller provides the flow the
// snapshot was taken against; a flow name mismatch or an unsupported
// snapshot version is rejected.
func Restore(f *Flow, data []byte, opts ...Option) (*Conversation, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &FlowError{
			Message: fmt.Sprintf("failed to parse snapshot: %v", err),
			Code:    "DESERIALIZE_FAILED",
		}
	}
	if snap.Version != snapshotVersion {
		return nil, &FlowError{
			Message: fmt.Sprintf("unsupported snapshot version %d (want %d)", snap.Version, snapshotVersion),
			Code:    "DESERIALIZE_FAILED",
		}
	}
	if snap.Flow != f.Name() {
		return nil, &FlowError{
			Message: fmt.Sprintf("snapshot belongs to flow %q, not %q", snap.Flow, f.Name()),
			Code:    "FLOW_MISMATCH",
		}
	}
	if snap.State == nil {
		return nil, &FlowError{Message: "snapshot carries no state", Code: "DESERIALIZE_FAILED"}
	}

	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.AutoPersist && o.Store == nil {
		return nil, &FlowError{Message: "auto-persist requires a store", Code: "BAD_OPTIONS"}
	}

	snap.State.ensureMaps()
	return &Conversation{
		id:    snap.ConversationID,
		flow:  f,
		state: snap.State,
		opts:  o,
	}, nil
}

// ResumeFromStore loads the latest snapshot of convID from st and
// rehydrates it. The store is carried into the restored conversation's
// options, so subsequent auto-persisted snapshots continue the same
// sequence.
func ResumeFromStore(ctx context.Context, f *Flow, st store.Store, convID string, opts ...Option) (*Conversation, error) {
	data, seq, err := st.LoadLatest(ctx, convID)
	if err != nil {
		return nil, err
	}
	conv, err := Restore(f, data, opts...)
	if err != nil {
		return nil, err
	}
	if conv.opts.Store == nil {
		conv.opts.Store = st
	}
	conv.seq = seq
	return conv, nil
}
