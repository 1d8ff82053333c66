package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"distributor/internal/domain/topic"

	"github.com/go-playground/validator/v10"
)

type CommandKind string

const (
	Subscribe   CommandKind = "subscribe"
	Unsubscribe CommandKind = "unsubscribe"
	Identify    CommandKind = "identify"

	// legacyIdentify is what older web clients send instead of identify.
	legacyIdentify = "user-auth"
)

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command type")
	ErrInvalidTopic     = errors.New("invalid command topic")
)

// Command is one control message after aliases have been folded in.
type Command struct {
	Kind  CommandKind
	Topic topic.Topic
}

// wireCommand accepts the canonical fields plus the aliases used by the
// existing clients: a full "topic", a bare "projectId", and "userId".
type wireCommand struct {
	Type       string `json:"type"`
	TopicScope string `json:"topic_scope"`
	TopicKey   string `json:"topic_key"`
	Topic      string `json:"topic"`
	ProjectID  string `json:"projectId"`
	UserID     string `json:"user_id"`
	LegacyUser string `json:"userId"`
}

type topicParts struct {
	Scope string `validate:"required,max=32,alphanum"`
	Key   string `validate:"required,max=256,topickey"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("topickey", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), func(r rune) bool {
			return unicode.IsSpace(r) || !unicode.IsPrint(r)
		}) < 0
	})
	return v
}

// ParseCommand decodes and validates one inbound text frame.
func ParseCommand(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	switch kind := strings.ToLower(strings.TrimSpace(w.Type)); kind {
	case string(Identify), legacyIdentify:
		userID := w.UserID
		if userID == "" {
			userID = w.LegacyUser
		}
		t, err := checkedTopic(string(topic.ScopeUser), userID)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Identify, Topic: t}, nil

	case string(Subscribe), string(Unsubscribe):
		t, err := w.topic()
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CommandKind(kind), Topic: t}, nil

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Type)
	}
}

func (w wireCommand) topic() (topic.Topic, error) {
	switch {
	case w.TopicScope != "" || w.TopicKey != "":
		return checkedTopic(w.TopicScope, w.TopicKey)
	case w.Topic != "":
		t, err := topic.Parse(w.Topic)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTopic, err)
		}
		return checkedTopic(string(t.Scope()), t.Key())
	case w.ProjectID != "":
		return checkedTopic(string(topic.ScopeProject), w.ProjectID)
	}
	return "", fmt.Errorf("%w: no topic given", ErrInvalidTopic)
}

func checkedTopic(scope, key string) (topic.Topic, error) {
	scope = strings.ToLower(scope)
	if err := validate.Struct(topicParts{Scope: scope, Key: key}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	return topic.New(topic.Scope(scope), key), nil
}
