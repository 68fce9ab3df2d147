package core

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

type topicMember struct {
	conn     SignalConnection
	selfEcho bool
}

// topicImpl is a threadsafe in-memory topic.
// It never closes adapter-owned resources.
type topicImpl struct {
	name    string
	mu      sync.RWMutex
	members map[SessionID]topicMember
}

func NewTopicService(name string) TopicService {
	return &topicImpl{
		name:    name,
		members: make(map[SessionID]topicMember),
	}
}

func (t *topicImpl) Name() string { return t.name }

func (t *topicImpl) MemberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

func (t *topicImpl) Members() []SessionID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SessionID, 0, len(t.members))
	for sid := range t.members {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *topicImpl) HasMember(sid SessionID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[sid]
	return ok
}

func (t *topicImpl) AddMember(sid SessionID, conn SignalConnection, selfEcho bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members[sid] = topicMember{conn: conn, selfEcho: selfEcho}
	log.Info().Str("module", "core.topic").Str("topic", t.name).Str("sid", string(sid)).Msg("member added")
}

func (t *topicImpl) RemoveMember(sid SessionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[sid]; !ok {
		return false
	}
	delete(t.members, sid)
	log.Info().Str("module", "core.topic").Str("topic", t.name).Str("sid", string(sid)).Msg("member removed")
	return true
}

func (t *topicImpl) Broadcast(from SessionID, data Frame) PublishResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range t.members {
		if sid == from && !m.selfEcho {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.topic").Str("topic", t.name).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
