package topic

import (
	"errors"
	"fmt"
	"strings"
)

// Topic is a namespaced interest-group key such as "project:42".
type Topic string

// Scope is the namespace part of a Topic.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeTask    Scope = "task"
	ScopeUser    Scope = "user"
)

const separator = ":"

var ErrInvalid = errors.New("invalid topic")

func New(scope Scope, key string) Topic {
	return Topic(string(scope) + separator + key)
}

func Project(id string) Topic { return New(ScopeProject, id) }
func Task(id string) Topic    { return New(ScopeTask, id) }
func User(id string) Topic    { return New(ScopeUser, id) }

// Parse splits "scope:key" on the first separator. Both halves must be non-empty.
func Parse(s string) (Topic, error) {
	scope, key, ok := strings.Cut(s, separator)
	if !ok || scope == "" || key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return New(Scope(scope), key), nil
}

func (t Topic) Scope() Scope {
	scope, _, _ := strings.Cut(string(t), separator)
	return Scope(scope)
}

func (t Topic) Key() string {
	_, key, _ := strings.Cut(string(t), separator)
	return key
}

func (t Topic) String() string { return string(t) }
