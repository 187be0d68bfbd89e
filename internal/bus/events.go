package bus

// Origin identifies where an event came from: the transport channel and the
// conversation within it. Conversation identifiers are opaque strings owned
// by the transport (a Telegram chat id, a Discord guild id, ...).
type Origin struct {
	Channel      string
	Conversation string
}

// Key returns the unique roster key for this origin.
func (o Origin) Key() string {
	return o.Channel + ":" + o.Conversation
}

// Event is a membership-affecting notification decoded at the transport
// boundary. The set of implementations is closed: MemberJoined, MemberLeft
// and MessageReceived.
type Event interface {
	From() Origin
}

// MemberJoined reports that a user entered a conversation.
type MemberJoined struct {
	Origin Origin
	UserID string
	Handle string
}

func (e MemberJoined) From() Origin { return e.Origin }

// MemberLeft reports that a user left or was removed from a conversation.
type MemberLeft struct {
	Origin Origin
	UserID string
}

func (e MemberLeft) From() Origin { return e.Origin }

// MessageReceived reports an authored message. Any authored message is
// proof of presence, so these feed the roster as well as command handling.
type MessageReceived struct {
	Origin    Origin
	UserID    string
	Handle    string
	Text      string
	MessageID string
}

func (e MessageReceived) From() Origin { return e.Origin }

// Reply is an outbound message addressed to a conversation, referencing the
// message that triggered it. Chunks are sent in order as separate platform
// messages; a reply fails as soon as one chunk fails, so a roster is never
// half-tagged with later chunks silently dropped.
type Reply struct {
	Origin  Origin
	ReplyTo string
	Chunks  []string
}
