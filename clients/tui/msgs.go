package tui

// SessionMsg is received once the gateway has opened the panel's session.
type SessionMsg struct {
	SessionID string
	Model     string
}

// UpdateMsg carries the running transcript of the current turn.
type UpdateMsg struct {
	Text      string
	Final     bool
	Error     bool
	Cancelled bool
}

// ClearMsg signals that the conversation was reset.
type ClearMsg struct{}

// ResponseMsg is the gateway's answer to one of our requests.
type ResponseMsg struct {
	ID    string
	OK    bool
	Error string
}

// DisconnectedMsg signals a lost WS connection.
type DisconnectedMsg struct {
	Err error
}

// sendErrorMsg carries an error from an async WS write.
type sendErrorMsg struct {
	err error
}
