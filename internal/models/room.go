package models

import "time"

// RoomMetadata stores information about a room
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"` // Short, shareable room code (e.g., "ABCD123")
	CreatorID        string    `json:"creatorId"`
	CreatedAt        time.Time `json:"createdAt"`
	MemberCount      int       `json:"memberCount"`
	ParticipantCount int       `json:"participantCount"` // currently in the call
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	DisplayName string `json:"displayName,omitempty"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// PollResponse is the response for the event poll endpoint
type PollResponse struct {
	Messages     []SignalEvent `json:"messages"`
	Timestamp    int64         `json:"timestamp"`
	PollInterval int64         `json:"pollInterval"` // suggested client interval, ms
}
