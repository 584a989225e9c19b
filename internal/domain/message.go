package domain

import "time"

// Message is a single inbound chat event that contained at least one URL.
// (ChannelID, TS) is the natural key.
type Message struct {
	ChannelID  string
	TS         string
	ThreadTS   string
	UserID     string
	Text       string
	ReceivedAt time.Time
	Status     string
}

const MessageStatusReceived = "received"
