package models

import (
	"encoding/json"
	"fmt"
)

// ChangeEvent describes one identifier whose current index signature is not
// yet reflected in the detail collection.
type ChangeEvent struct {
	CompanyNumber     string  `json:"company_number"`
	LinksSelf         *string `json:"links_self"`
	IndexRowSignature string  `json:"index_row_signature"`
	DateIndexed       *string `json:"date_indexed"`
}

// Identifier returns the key used to fetch the detail record: the company
// number when known, otherwise the self link.
func (e ChangeEvent) Identifier() string {
	if e.CompanyNumber != "" {
		return e.CompanyNumber
	}
	if e.LinksSelf != nil {
		return *e.LinksSelf
	}
	return ""
}

// Encode serializes the event to its wire format.
func (e ChangeEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return data, nil
}

// Disposition is the consumer's verdict on a delivered change event.
type Disposition int

const (
	// Ack tells the channel the event is done with.
	Ack Disposition = iota
	// Retry asks the channel to redeliver the event later.
	Retry
)

func (d Disposition) String() string {
	if d == Ack {
		return "ack"
	}
	return "retry"
}

// DecodeChangeEvent parses the wire format of a change event. An event with
// neither a company number nor a self link is rejected.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Identifier() == "" {
		return ChangeEvent{}, fmt.Errorf("decode change event: no company_number or links_self")
	}
	return ev, nil
}

// PushMessage is a message as delivered to a push subscriber. Data holds the
// base64 encoding of the payload.
type PushMessage struct {
	Data        string `json:"data"`
	MessageID   string `json:"messageId,omitempty"`
	PublishTime string `json:"publishTime,omitempty"`
	Attempt     int    `json:"deliveryAttempt,omitempty"`
}

// PushEnvelope is the request body POSTed to a push subscriber.
type PushEnvelope struct {
	Message      *PushMessage `json:"message"`
	Subscription string       `json:"subscription,omitempty"`
}
