package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Topics map[string]struct{}
}

// Registry tracks every live relay connection and the topics it joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// BindSignal registers conn for sid. A previous connection with the same
// sid is cancelled and returned so its topics can be released.
func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) []string {
	r.mu.Lock()
	prev := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel, Topics: make(map[string]struct{})}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
	if prev == nil {
		return nil
	}
	if prev.Cancel != nil {
		prev.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("replaced previous connection")
	return sortedTopics(prev.Topics)
}

func (r *Registry) GetSignal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind forgets sid if conn is still its connection and returns the topics
// it had joined.
func (r *Registry) Unbind(sid core.SessionID, conn core.SignalConnection) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Conn != conn {
		return nil, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return sortedTopics(e.Topics), true
}

func (r *Registry) AddTopic(sid core.SessionID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Topics[topic] = struct{}{}
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("topic", topic).Msg("joined topic")
	return true
}

func (r *Registry) RemoveTopic(sid core.SessionID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if _, joined := e.Topics[topic]; !joined {
		return false
	}
	delete(e.Topics, topic)
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("topic", topic).Msg("left topic")
	return true
}

func (r *Registry) InTopic(sid core.SessionID, topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	_, joined := e.Topics[topic]
	return joined
}

func (r *Registry) TopicsOf(sid core.SessionID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return sortedTopics(e.Topics)
	}
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func sortedTopics(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
