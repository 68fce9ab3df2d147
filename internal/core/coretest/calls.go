package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type LoggedCall struct {
	Conversation domain.ConversationID
	Record       domain.CallRecord
}

type CallLog struct {
	Err error

	mu      sync.Mutex
	records []LoggedCall
}

func (l *CallLog) LogCall(_ context.Context, conv domain.ConversationID, rec domain.CallRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.records = append(l.records, LoggedCall{Conversation: conv, Record: rec})
	return nil
}

func (l *CallLog) Records() []LoggedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoggedCall(nil), l.records...)
}

type Profiles map[domain.UserID]*domain.Profile

func (p Profiles) FetchProfile(_ context.Context, id domain.UserID) (*domain.Profile, error) {
	if prof, ok := p[id]; ok {
		cp := *prof
		return &cp, nil
	}
	return nil, domain.ErrProfileNotFound
}

// Ringer keeps the currently playing cue.
type Ringer struct {
	mu      sync.Mutex
	playing *core.Cue
	started []core.Cue
}

func (r *Ringer) Start(c core.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = &c
	r.started = append(r.started, c)
}

func (r *Ringer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = nil
}

func (r *Ringer) Playing() (core.Cue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing == nil {
		return 0, false
	}
	return *r.playing, true
}

func (r *Ringer) Started() []core.Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Cue(nil), r.started...)
}
