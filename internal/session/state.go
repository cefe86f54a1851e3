package session

import (
	"github.com/google/uuid"
)

// Role identifies who a rendered message belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleNotice    Role = "notice"
)

// Message is one rendered entry in a page's log.
type Message struct {
	ID   string
	Role Role
	Text string

	// Streaming marks an assistant message still receiving deltas.
	Streaming bool

	// Provisional marks a transcription that has not been finalised yet;
	// later non-final transcriptions replace its text in place.
	Provisional bool

	// Tool metadata, set on RoleTool entries.
	ToolName string
	ToolID   string
	IsError  bool
}

// Workspace is a named context the server can associate with a page.
type Workspace struct {
	Name string
	Path string
}

// Page is a client-side tab holding one workspace's message log.
type Page struct {
	ID            string
	Workspace     string
	WorkspacePath string
	Messages      []Message
}

func newPage() Page {
	return Page{ID: uuid.NewString()}
}

// Snapshot is a consistent copy of the orchestrator's aggregate state.
// It is safe to retain and read after the session has moved on.
type Snapshot struct {
	Connected  bool
	Connecting bool
	Recording  bool
	Responding bool

	URL        string
	Workspaces []Workspace
	Pages      []Page
	ActivePage int

	// LastError is the most recent non-fatal failure notice, if any.
	LastError string
}

// state is the mutable form of the snapshot, owned by the event loop.
type state struct {
	connected  bool
	connecting bool
	recording  bool
	responding bool

	url        string
	workspaces []Workspace
	pages      []Page
	activePage int

	// streamingID is the id of the message currently receiving deltas,
	// empty when none. At most one streaming message exists at a time.
	streamingID string

	// transcriptID is the id of the provisional transcription entry.
	transcriptID string

	lastError string
}

func newState() state {
	return state{pages: []Page{newPage()}}
}

func (st *state) active() *Page {
	return &st.pages[st.activePage]
}

// snapshot deep-copies the page and message slices so callers never observe
// in-place mutation.
func (st *state) snapshot() Snapshot {
	pages := make([]Page, len(st.pages))
	for i, p := range st.pages {
		p.Messages = append([]Message(nil), p.Messages...)
		pages[i] = p
	}
	return Snapshot{
		Connected:  st.connected,
		Connecting: st.connecting,
		Recording:  st.recording,
		Responding: st.responding,
		URL:        st.url,
		Workspaces: append([]Workspace(nil), st.workspaces...),
		Pages:      pages,
		ActivePage: st.activePage,
		LastError:  st.lastError,
	}
}
