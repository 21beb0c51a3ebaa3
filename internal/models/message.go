package models

import "time"

// Message is a single chat utterance. CreatedAt is assigned by the
// server at persistence time, never taken from the client.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"timestamp"`
}
