package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"SUBSCRIBE","id":"s1","uri":"library/books","descendants":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, msg.Type)
	assert.Equal(t, "s1", msg.ID)

	_, err = DecodeMessage([]byte(`{`))
	assert.Error(t, err)
}

func TestChangeJSON(t *testing.T) {
	b, err := json.Marshal(Change{
		Message:    Message{Type: TypeChange, ID: "s1"},
		URI:        "library/books/1?CPORM_CHANGE_TYPE=UPDATE",
		Table:      "books",
		Key:        "1",
		ChangeType: "UPDATE",
		Sync:       true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CHANGE","id":"s1","uri":"library/books/1?CPORM_CHANGE_TYPE=UPDATE","table":"books","key":"1","changeType":"UPDATE","sync":true}`, string(b))
}
