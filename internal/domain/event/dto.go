package event

// The DTOs below carry only the fields the distributor reads. Everything
// else in the producer's document is passed through untouched in
// Envelope.Payload.

type ProjectDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

type TaskDTO struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	Name       string `json:"name,omitempty"`
	AssigneeID string `json:"assigneeId,omitempty"`
}

type ParentType string

const (
	ParentTask    ParentType = "TASK"
	ParentProject ParentType = "PROJECT"
)

type CommentDTO struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId"`
	ParentType ParentType `json:"parentType"`
	AuthorID   string     `json:"authorId,omitempty"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type NotificationDTO struct {
	ID              string `json:"id"`
	RecipientUserID string `json:"recipientUserId"`
	EventType       string `json:"eventType,omitempty"`
	EntityType      string `json:"entityType,omitempty"`
	EntityID        string `json:"entityId,omitempty"`
}
