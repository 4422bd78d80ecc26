package graph

// SessionState is the opaque resume token produced when a run pauses. It is
// handed back verbatim to resume the run: ResumeFrom names the node to enter
// at (the "<paused>_resume" entry when the graph declares one), Memory is the
// blackboard snapshot, and NextNode is always null in the serialized form.
type SessionState struct {
	PausedAt   string         `json:"paused_at"`
	ResumeFrom string         `json:"resume_from"`
	Memory     map[string]any `json:"memory"`
	NextNode   *string        `json:"next_node"`
}

// NewSessionState snapshots a pause at the given node.
func NewSessionState(pausedAt string, memory map[string]any) *SessionState {
	return &SessionState{
		PausedAt:   pausedAt,
		ResumeFrom: pausedAt + ResumeSuffix,
		Memory:     memory,
	}
}

// EntryNode resolves where a resumed run starts: the declared resume entry
// if the graph has one, otherwise the paused node itself.
func (s *SessionState) EntryNode(g *GraphSpec) string {
	if _, ok := g.Node(s.ResumeFrom); ok {
		return s.ResumeFrom
	}
	return s.PausedAt
}
