package app

import (
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
)

type TopicManagerImpl struct {
	mu     sync.RWMutex
	topics map[string]core.TopicService
}

func NewTopicManager() core.TopicManager {
	return &TopicManagerImpl{topics: make(map[string]core.TopicService)}
}

func (f *TopicManagerImpl) GetOrCreate(name string) core.TopicService {
	f.mu.RLock()
	topic, ok := f.topics[name]
	f.mu.RUnlock()
	if ok {
		return topic
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic, ok = f.topics[name]; ok {
		return topic
	}
	topic = core.NewTopicService(name)
	f.topics[name] = topic
	return topic
}

func (f *TopicManagerImpl) Get(name string) (core.TopicService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	topic, ok := f.topics[name]
	return topic, ok
}

func (f *TopicManagerImpl) List() []core.TopicInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.TopicInfo, 0, len(f.topics))
	for name, t := range f.topics {
		out = append(out, core.TopicInfo{Name: name, MemberCount: t.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *TopicManagerImpl) StopTopic(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics, name)
}
