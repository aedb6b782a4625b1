// Package models defines state snapshot structures for VoiceGuide conversations.
package models

import "time"

// ConversationState is a read-only copy of a running conversation.
type ConversationState struct {
	SessionID    string             `json:"session_id"`
	FlowType     FlowType           `json:"flow_type"`
	CurrentState StateType          `json:"current_state"`
	StateData    map[DataKey]string `json:"state_data,omitempty"` // Flow-specific scratch fields
	AutoListen   bool               `json:"auto_listen"`
	Listening    bool               `json:"listening"`
	Finished     bool               `json:"finished"`
	Cancelled    bool               `json:"cancelled"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
