package realtime

import (
	"encoding/json"
	"time"
)

// MessageType identifies the payload carried by a Message
type MessageType string

const (
	TypeInit           MessageType = "init"
	TypeCostsUpdate    MessageType = "costs-update"
	TypeResourceUpdate MessageType = "resource-update"
	TypeAlert          MessageType = "alert"
	TypePong           MessageType = "pong"
	TypeSubscribed     MessageType = "subscribed"

	typePing      = "ping"
	typeSubscribe = "subscribe"
)

// Message is the envelope for every message sent to a client
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage stamps a message with the current time
func NewMessage(msgType MessageType, data any) Message {
	return Message{Type: msgType, Data: data, Timestamp: time.Now().UTC()}
}

// SubscribedData acknowledges a subscribe request
type SubscribedData struct {
	Channels []string `json:"channels"`
}

// inboundMessage is a control message sent by a client. Channels may be
// given at the top level or inside data.
type inboundMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Data     *struct {
		Channels []string `json:"channels"`
	} `json:"data,omitempty"`
}

func (m inboundMessage) channels() []string {
	if len(m.Channels) > 0 {
		return m.Channels
	}
	if m.Data != nil && m.Data.Channels != nil {
		return m.Data.Channels
	}
	return []string{}
}

// outbound is an encoded message waiting in a client's send queue
type outbound struct {
	msgType MessageType
	payload []byte
}

func encode(msg Message) (outbound, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return outbound{}, err
	}
	return outbound{msgType: msg.Type, payload: payload}, nil
}
