package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/guildhall/guildhall/pkg/events"
	"github.com/stretchr/testify/assert"
)

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "localhost:9092", want: []string{"localhost:9092"}},
		{raw: "a:9092, b:9092,,", want: []string{"a:9092", "b:9092"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseBrokers(tt.raw), tt.raw)
	}
}

func TestCreateChannel_NoBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "guildhall-test")
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionKey_UsesEventKey(t *testing.T) {
	msg := message.NewMessage("msg-1", []byte(`{}`))
	msg.Metadata.Set(events.EventMetadataKey, "guild-1")

	key, err := partitionKey(events.Topic, msg)
	assert.NoError(t, err)
	assert.Equal(t, "guild-1", key)
}
