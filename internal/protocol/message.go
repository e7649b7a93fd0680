// Package protocol defines the JSON messages exchanged with observers over
// websocket, redis and kafka.
package protocol

import "encoding/json"

// Message types.
const (
	TypePing         = "PING"
	TypePong         = "PONG"
	TypeSubscribe    = "SUBSCRIBE"
	TypeSubscribed   = "SUBSCRIBED"
	TypeUnsubscribe  = "UNSUBSCRIBE"
	TypeUnsubscribed = "UNSUBSCRIBED"
	TypeChange       = "CHANGE"
	TypeError        = "ERROR"
)

type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Subscribe registers interest in URI. With Descendants set, changes to any
// row under a collection URI are delivered too.
type Subscribe struct {
	Message
	URI         string `json:"uri"`
	Descendants bool   `json:"descendants,omitempty"`
}

type Unsubscribe struct {
	Message
}

// Change announces that the resource at URI changed. ChangeType is empty for
// dependent-view notifications.
type Change struct {
	Message
	URI        string `json:"uri"`
	Table      string `json:"table"`
	Key        string `json:"key,omitempty"`
	ChangeType string `json:"changeType,omitempty"`
	Sync       bool   `json:"sync"`
}

type Error struct {
	Message
	Error string `json:"error"`
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}
