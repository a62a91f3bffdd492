package core

import "github.com/google/uuid"

// NewID generates a unique identifier for entities (agents, conversations,
// messages, tasks, requests, events). UUIDs keep ids opaque and collision
// free across processes without coordination.
func NewID() string { return uuid.NewString() }
