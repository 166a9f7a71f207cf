package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

func TestEncode_SetsTypeHeader(t *testing.T) {
	msg, err := encode(Event{Key: "analytics", Type: "search", Value: payload{Type: "search", Query: "空き家"}})
	require.NoError(t, err)

	assert.Equal(t, []byte("analytics"), msg.Key)
	assert.JSONEq(t, `{"type":"search","query":"空き家"}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeHeader, msg.Headers[0].Key)
	assert.Equal(t, "search", string(msg.Headers[0].Value))
}

func TestEncode_NoTypeNoHeader(t *testing.T) {
	msg, err := encode(Event{Key: "k", Value: 1})
	require.NoError(t, err)
	assert.Empty(t, msg.Headers)
}

func TestEncode_Unencodable(t *testing.T) {
	_, err := encode(Event{Type: "search", Value: make(chan int)})
	assert.Error(t, err)
}

func TestToMessage_ReadsTypeHeader(t *testing.T) {
	m := toMessage(kafka.Message{
		Key:       []byte("k"),
		Value:     []byte(`{}`),
		Partition: 2,
		Offset:    17,
		Headers: []kafka.Header{
			{Key: "trace", Value: []byte("x")},
			{Key: TypeHeader, Value: []byte("index_complete")},
		},
	})
	assert.Equal(t, "index_complete", m.Type)
	assert.Equal(t, 2, m.Partition)
	assert.Equal(t, int64(17), m.Offset)
}

func TestDecodeJSON(t *testing.T) {
	p, err := DecodeJSON[payload]([]byte(`{"type":"search","query":"防災"}`))
	require.NoError(t, err)
	assert.Equal(t, "防災", p.Query)

	_, err = DecodeJSON[payload]([]byte("not json"))
	assert.Error(t, err)
}

func TestConsumerOptions(t *testing.T) {
	rc := kafka.ReaderConfig{GroupID: "bulletin-search", StartOffset: kafka.LastOffset}
	WithGroupID("bulletin-analytics")(&rc)
	FromEarliest()(&rc)
	assert.Equal(t, "bulletin-analytics", rc.GroupID)
	assert.Equal(t, kafka.FirstOffset, rc.StartOffset)
}
