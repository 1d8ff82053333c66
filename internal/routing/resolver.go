// Package routing maps decoded event payloads to the topics they are
// delivered on.
package routing

import (
	"distributor/internal/domain/event"
	"distributor/internal/domain/topic"
)

// Resolve returns every topic the payload belongs to, in a stable order and
// without duplicates. It returns nil for Unknown payloads and for payloads
// whose identifier fields are empty; the caller treats that as unroutable.
func Resolve(p event.Payload) []topic.Topic {
	var b builder
	switch p := p.(type) {
	case event.ProjectChanged:
		b.add(topic.ScopeProject, p.Project.ID)
	case event.ProjectTaskAdded:
		projectID := p.ProjectID
		if projectID == "" {
			projectID = p.Task.ProjectID
		}
		b.add(topic.ScopeProject, projectID)
		b.add(topic.ScopeTask, p.Task.ID)
	case event.TaskChanged:
		b.add(topic.ScopeProject, p.Task.ProjectID)
		b.add(topic.ScopeTask, p.Task.ID)
	case event.CommentChanged:
		switch p.Comment.ParentType {
		case event.ParentTask:
			b.add(topic.ScopeTask, p.Comment.ParentID)
		case event.ParentProject:
			b.add(topic.ScopeProject, p.Comment.ParentID)
		}
	case event.UserChanged:
		b.add(topic.ScopeUser, p.User.ID)
	case event.NotificationChanged:
		b.add(topic.ScopeUser, p.Notification.RecipientUserID)
	case event.Unknown, nil:
	}
	return b.topics
}

type builder struct {
	topics []topic.Topic
}

func (b *builder) add(scope topic.Scope, key string) {
	if key == "" {
		return
	}
	t := topic.New(scope, key)
	for _, have := range b.topics {
		if have == t {
			return
		}
	}
	b.topics = append(b.topics, t)
}
