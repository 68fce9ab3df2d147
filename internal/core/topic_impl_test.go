package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	frames []Frame
	full   bool
}

func (c *recordingConn) TrySend(f Frame) error {
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() {}

func TestTopicBroadcastSkipsSenderUnlessSelfEcho(t *testing.T) {
	topic := NewTopicService("voice:r1")
	alice, bob, carol := &recordingConn{}, &recordingConn{}, &recordingConn{}
	topic.AddMember("alice", alice, false)
	topic.AddMember("bob", bob, false)
	topic.AddMember("carol", carol, true)

	res := topic.Broadcast("alice", Frame("hi"))
	assert.Equal(t, 2, res.SendTo)
	assert.Empty(t, alice.frames)
	assert.Len(t, bob.frames, 1)

	topic.Broadcast("carol", Frame("echo"))
	assert.Len(t, carol.frames, 1)
}

func TestTopicReportsDroppedMembers(t *testing.T) {
	topic := NewTopicService("voice:r1")
	topic.AddMember("alice", &recordingConn{}, false)
	topic.AddMember("slow", &recordingConn{full: true}, false)

	res := topic.Broadcast("alice", Frame("x"))
	assert.Zero(t, res.SendTo)
	assert.Equal(t, []SessionID{"slow"}, res.Dropped)
}

func TestTopicMembership(t *testing.T) {
	topic := NewTopicService("call-inbox:bob")
	topic.AddMember("b", &recordingConn{}, false)
	topic.AddMember("a", &recordingConn{}, false)
	assert.Equal(t, []SessionID{"a", "b"}, topic.Members())
	assert.True(t, topic.HasMember("a"))
	require.True(t, topic.RemoveMember("a"))
	assert.False(t, topic.RemoveMember("a"))
	assert.Equal(t, 1, topic.MemberCount())
}

func TestEncodeMessage(t *testing.T) {
	f, err := EncodeMessage("voice:r1", EventJoin, "ref-1", NewJoinPayload(true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"voice:r1","event":"join","ref":"ref-1","payload":{"config":{"broadcast":{"self":true}}}}`, string(f))

	f, err = EncodeMessage(RelayTopic, EventHeartbeat, "", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"relay","event":"heartbeat"}`, string(f))
}
