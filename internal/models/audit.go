package models

import "time"

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// Actor carries attribution through a transition call. The zero value is
// the system actor.
type Actor struct {
	Type ActorType
	ID   *int64
}

// SystemActor is the attribution used by scheduler-driven transitions.
func SystemActor() Actor {
	return Actor{Type: ActorSystem}
}

// UserActor attributes an action to a user id.
func UserActor(id int64) Actor {
	return Actor{Type: ActorUser, ID: &id}
}

// AgentActor attributes an action to a server's agent.
func AgentActor(serverID int64) Actor {
	return Actor{Type: ActorAgent, ID: &serverID}
}

// AuditEntry records one transition (or rejected transition) with actor
// attribution. Every accepted and rejected transition appends exactly one.
type AuditEntry struct {
	ID         int64     `json:"id"`
	ActorType  ActorType `json:"actor_type"`
	ActorID    *int64    `json:"actor_id"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   *int64    `json:"target_id"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
