package core

// Frame is a raw encoded relay message.
type Frame []byte

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// TopicService is one relay topic.
// It owns the membership set but never touches transport resources.
type TopicService interface {
	Name() string
	MemberCount() int
	Members() []SessionID
	HasMember(sid SessionID) bool

	AddMember(sid SessionID, conn SignalConnection, selfEcho bool)
	RemoveMember(sid SessionID) bool
	Broadcast(from SessionID, data Frame) PublishResult
}

type TopicInfo struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

type TopicManager interface {
	GetOrCreate(name string) TopicService
	Get(name string) (TopicService, bool)
	List() []TopicInfo
	StopTopic(name string)
}
