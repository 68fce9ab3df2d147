package app

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

// Orchestrator applies relay membership changes across the registry and
// the topic manager.
type Orchestrator struct {
	Registry *Registry
	Topics   core.TopicManager
	Policy   Policy

	// serialises membership changes so an emptied topic is never
	// dropped while someone joins it
	mu sync.Mutex
}

func NewOrchestrator(policy Policy) *Orchestrator {
	return &Orchestrator{
		Registry: NewRegistry(),
		Topics:   NewTopicManager(),
		Policy:   policy,
	}
}

// Connect binds a fresh connection, releasing whatever an older connection
// with the same sid had joined.
func (o *Orchestrator) Connect(sid core.SessionID, conn core.SignalConnection, cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, name := range o.Registry.BindSignal(sid, conn, cancel) {
		o.leaveTopic(sid, name)
	}
}

func (o *Orchestrator) Join(sid core.SessionID, name string, selfEcho bool) bool {
	conn, ok := o.Registry.GetSignal(sid)
	if !ok {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Topics.GetOrCreate(name).AddMember(sid, conn, selfEcho)
	o.Registry.AddTopic(sid, name)
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("topic", name).Bool("self", selfEcho).Msg("joined")
	return true
}

func (o *Orchestrator) Leave(sid core.SessionID, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.Registry.RemoveTopic(sid, name) {
		return false
	}
	o.leaveTopic(sid, name)
	return true
}

// Publish fans data out on topic name. The sender must be a member.
func (o *Orchestrator) Publish(sid core.SessionID, name string, data core.Frame) (core.PublishResult, bool) {
	if !o.Registry.InTopic(sid, name) {
		return core.PublishResult{}, false
	}
	topic, ok := o.Topics.Get(name)
	if !ok {
		return core.PublishResult{}, false
	}
	res := topic.Broadcast(sid, data)
	if o.Policy == nil {
		return res, true
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(topic, slow) {
		case KickMember:
			o.Kick(slow, name, "backpressure")
		case DropFrame, NoAction:
		}
	}
	return res, true
}

// Kick removes sid from topic name and tells it why. A member that cannot
// even take the close frame is disconnected.
func (o *Orchestrator) Kick(sid core.SessionID, name, reason string) {
	conn, ok := o.Registry.GetSignal(sid)
	if !o.Leave(sid, name) || !ok {
		return
	}
	log.Warn().Str("module", "app").Str("sid", string(sid)).Str("topic", name).Str("reason", reason).Msg("kicked from topic")
	frame, err := core.EncodeMessage(name, core.EventClose, "", core.ReplyPayload{Status: core.ReplyError, Response: reason})
	if err != nil {
		return
	}
	if err := conn.TrySend(frame); err != nil {
		o.Registry.Cancel(sid)
	}
}

func (o *Orchestrator) OnDisconnect(sid core.SessionID, conn core.SignalConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	topics, ok := o.Registry.Unbind(sid, conn)
	if !ok {
		return
	}
	for _, name := range topics {
		o.leaveTopic(sid, name)
	}
}

// EvictTopic kicks every member of name and drops the topic. It reports
// false for unknown topics.
func (o *Orchestrator) EvictTopic(name string) bool {
	topic, ok := o.Topics.Get(name)
	if !ok {
		return false
	}
	for _, sid := range topic.Members() {
		o.Kick(sid, name, "evicted")
	}
	o.mu.Lock()
	o.Topics.StopTopic(name)
	o.mu.Unlock()
	log.Info().Str("module", "app").Str("topic", name).Msg("topic evicted")
	return true
}

func (o *Orchestrator) leaveTopic(sid core.SessionID, name string) {
	topic, ok := o.Topics.Get(name)
	if !ok {
		return
	}
	topic.RemoveMember(sid)
	if topic.MemberCount() == 0 {
		o.Topics.StopTopic(name)
	}
}
