package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDecode = errors.New("decode event envelope")
	ErrEncode = errors.New("encode event envelope")
)

// Envelope is the message published to Kafka by the domain services.
// Decode keeps the record bytes, and Encode hands them back unchanged, so
// clients see exactly what the producer wrote, including fields this type
// does not declare.
type Envelope struct {
	EventID       uuid.UUID       `json:"eventId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	EventType     string          `json:"eventType"`
	SourceService string          `json:"sourceService,omitempty"`
	Timestamp     Timestamp       `json:"timestamp"`
	Version       int             `json:"version,omitempty"`
	Payload       json.RawMessage `json:"payload"`

	raw []byte
}

// TraceID returns the correlation id, or a placeholder derived from the event id.
func (e Envelope) TraceID() string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return "N/A-kafka" + e.EventID.String()
}

// Decode parses a Kafka record value. Only eventType is required, it is the
// one field routing cannot do without.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: missing eventType", ErrDecode)
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("null")
	}
	env.raw = bytes.Clone(data)
	return env, nil
}

// Encode returns the frame sent to clients: the decoded record with
// insignificant whitespace removed, or the marshalled fields for an
// envelope built in code.
func Encode(env Envelope) ([]byte, error) {
	if len(env.raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, env.raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return buf.Bytes(), nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return b, nil
}

// Epoch seconds of 0001-01-01 and 9999-12-31T23:59:59Z.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// Timestamp accepts RFC 3339 strings and numeric epoch seconds (with an
// optional fractional part, as Jackson writes java.time.Instant). It
// marshals back to the JSON it was decoded from.
type Timestamp struct {
	time.Time

	raw []byte
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != "" {
			parsed, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			t.Time = parsed
		}
		t.raw = bytes.Clone(b)
		return nil
	}

	parsed, err := parseEpoch(string(b))
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed
	t.raw = bytes.Clone(b)
	return nil
}

// parseEpoch reads decimal epoch seconds exactly, truncating below the
// nanosecond.
func parseEpoch(s string) (time.Time, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid epoch seconds %q", s)
	}
	secs, rem := new(big.Int).DivMod(r.Num(), r.Denom(), new(big.Int))
	if !secs.IsInt64() || secs.Int64() < minEpochSeconds || secs.Int64() > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("epoch seconds %s out of range", s)
	}
	nanos := rem.Mul(rem, big.NewInt(int64(time.Second)))
	nanos.Quo(nanos, r.Denom())
	return time.Unix(secs.Int64(), nanos.Int64()).UTC(), nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
