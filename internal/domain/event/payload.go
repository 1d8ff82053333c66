package event

import (
	"encoding/json"
	"fmt"
)

// Event types published by the project, task, comment, user and
// notification services.
const (
	ProjectCreated         = "PROJECT_CREATED"
	ProjectUpdated         = "PROJECT_UPDATED"
	ProjectDeleted         = "PROJECT_DELETED"
	ProjectStatusChanged   = "PROJECT_STATUS_CHANGED"
	ProjectPriorityChanged = "PROJECT_PRIORITY_CHANGED"
	ProjectTasksFetched    = "PROJECT_TASKS_FETCHED"
	ProjectTaskCreated     = "PROJECT_TASK_CREATED"

	TaskCreated         = "TASK_CREATED"
	TaskUpdated         = "TASK_UPDATED"
	TaskDeleted         = "TASK_DELETED"
	TaskStatusChanged   = "TASK_STATUS_CHANGED"
	TaskPriorityChanged = "TASK_PRIORITY_CHANGED"
	TaskAssigned        = "TASK_ASSIGNED"

	CommentAdded   = "COMMENT_ADDED"
	CommentEdited  = "COMMENT_EDITED"
	CommentDeleted = "COMMENT_DELETED"

	UserCreated = "USER_CREATED"
	UserUpdated = "USER_UPDATED"
	UserDeleted = "USER_DELETED"

	NotificationToSend = "NOTIFICATION_TO_SEND"
	NotificationRead   = "NOTIFICATION_READ"
)

// Payload is the closed set of payload shapes the distributor can route.
// Unknown covers every event type outside that set.
type Payload interface {
	payload()
}

type ProjectChanged struct {
	Project ProjectDTO
}

type ProjectTaskAdded struct {
	ProjectID string
	Task      TaskDTO
}

type TaskChanged struct {
	Task TaskDTO
}

type CommentChanged struct {
	Comment CommentDTO
}

type UserChanged struct {
	User UserDTO
}

// NotificationChanged is a pre-rendered notification addressed to one user,
// either a new one to show or one that was marked read.
type NotificationChanged struct {
	Notification NotificationDTO
}

type Unknown struct {
	EventType string
}

func (ProjectChanged) payload()      {}
func (ProjectTaskAdded) payload()    {}
func (TaskChanged) payload()         {}
func (CommentChanged) payload()      {}
func (UserChanged) payload()         {}
func (NotificationChanged) payload() {}
func (Unknown) payload()             {}

// ParsePayload decodes env.Payload into the variant selected by env.EventType.
// Missing objects decode to zero values; only malformed JSON is an error.
func ParsePayload(env Envelope) (Payload, error) {
	switch env.EventType {
	case ProjectCreated, ProjectUpdated, ProjectDeleted, ProjectStatusChanged,
		ProjectPriorityChanged, ProjectTasksFetched:
		var p struct {
			Project *ProjectDTO `json:"projectDto"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return ProjectChanged{Project: deref(p.Project)}, nil

	case ProjectTaskCreated:
		var p struct {
			Task      *TaskDTO `json:"taskDto"`
			ProjectID string   `json:"projectId"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return ProjectTaskAdded{ProjectID: p.ProjectID, Task: deref(p.Task)}, nil

	case TaskCreated, TaskUpdated, TaskDeleted, TaskStatusChanged, TaskAssigned:
		var p struct {
			Task *TaskDTO `json:"taskDto"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return TaskChanged{Task: deref(p.Task)}, nil

	case TaskPriorityChanged:
		var p struct {
			Task *TaskDTO `json:"dto"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return TaskChanged{Task: deref(p.Task)}, nil

	case CommentAdded, CommentEdited, CommentDeleted:
		var p struct {
			Comment *CommentDTO `json:"commentDto"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return CommentChanged{Comment: deref(p.Comment)}, nil

	case UserCreated, UserUpdated, UserDeleted:
		var p struct {
			User *UserDTO `json:"userDto"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return UserChanged{User: deref(p.User)}, nil

	case NotificationToSend:
		var p struct {
			Notification *NotificationDTO `json:"notification"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return NotificationChanged{Notification: deref(p.Notification)}, nil

	case NotificationRead:
		var p struct {
			Notification *NotificationDTO `json:"notificationDto"`
		}
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return NotificationChanged{Notification: deref(p.Notification)}, nil
	}

	return Unknown{EventType: env.EventType}, nil
}

func unmarshalPayload(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrDecode, env.EventType, err)
	}
	return nil
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
