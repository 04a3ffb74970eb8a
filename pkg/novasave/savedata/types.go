package savedata

import (
	"encoding/json"

	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
)

// GlobalSave is the per-save-file header stored at the block store root.
type GlobalSave struct {
	// Identifier ties bookmarks to this save file.
	Identifier uint64 `json:"identifier"`
	// BeginReached is the first record of the reached history list.
	BeginReached int64 `json:"begin_reached"`
	// EndReached is where the next reached entry is appended.
	EndReached int64 `json:"end_reached"`
	// BeginCheckpoint is the forest root node record.
	BeginCheckpoint int64 `json:"begin_checkpoint"`
	// EndCheckpoint is the most recently created node record.
	EndCheckpoint int64 `json:"end_checkpoint"`
	// Script is the stored script snapshot record, 0 when none.
	Script int64 `json:"script,omitempty"`
	// Data holds author-defined flags.
	Data map[string]json.RawMessage `json:"data,omitempty"`
}

func (*GlobalSave) PayloadType() Type { return TypeGlobalSave }
func (*GlobalSave) payload()          {}

// Checkpoint is the state captured at one dialogue step of a node.
type Checkpoint struct {
	DialogueIndex int                    `json:"dialogue"`
	Variables     map[string]Variable    `json:"variables,omitempty"`
	Restore       map[string]RestoreData `json:"restore,omitempty"`
}

func (*Checkpoint) PayloadType() Type { return TypeCheckpoint }
func (*Checkpoint) payload()          {}

// ScriptSnapshot maps every node name to the content hashes of its dialogue
// entries, as the save was last built against.
type ScriptSnapshot struct {
	Nodes map[string][]uint64 `json:"nodes"`
}

func (*ScriptSnapshot) PayloadType() Type { return TypeScript }
func (*ScriptSnapshot) payload()          {}

// ReachedHistory registers the node sequence behind a history key.
type ReachedHistory struct {
	Key     uint64           `json:"key"`
	Entries []nodetree.Entry `json:"entries"`
}

func (*ReachedHistory) PayloadType() Type { return TypeReachedHistory }
func (*ReachedHistory) payload()          {}

// ReachedDialogue marks a dialogue step as seen on a history.
type ReachedDialogue struct {
	HistoryKey    uint64       `json:"history"`
	Node          string       `json:"node"`
	DialogueIndex int          `json:"dialogue"`
	Entry         *RestoreData `json:"entry,omitempty"`
}

func (*ReachedDialogue) PayloadType() Type { return TypeReachedDialogue }
func (*ReachedDialogue) payload()          {}

// ReachedBranch marks a branch choice as taken on a history.
type ReachedBranch struct {
	HistoryKey uint64 `json:"history"`
	Node       string `json:"node"`
	Branch     string `json:"branch"`
}

func (*ReachedBranch) PayloadType() Type { return TypeReachedBranch }
func (*ReachedBranch) payload()          {}

// ReachedEnd marks a story ending as reached.
type ReachedEnd struct {
	Name string `json:"name"`
}

func (*ReachedEnd) PayloadType() Type { return TypeReachedEnd }
func (*ReachedEnd) payload()          {}
