package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

// ErrUnknownEventType is returned by Decode for type tags outside the known
// set. Such messages are acknowledged and dropped.
var ErrUnknownEventType = errors.New("unknown event type")

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// envelope is the JSON wire shape shared by every event.
type envelope struct {
	EventID    uuid.UUID       `json:"eventId"`
	EventType  string          `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     string          `json:"source"`
	Version    string          `json:"version"`
	Data       json.RawMessage `json:"data"`
}

// Encode serializes evt with its canonical type string.
func Encode(evt domain.Event) ([]byte, error) {
	var data any
	switch e := evt.(type) {
	case *domain.CustomerCreated:
		data = e.Data()
	case *domain.DentistCreated:
		data = e.Data()
	case *domain.UserCreated:
		data = e.Data()
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", evt.Type(), err)
	}

	meta := evt.Metadata()
	return json.Marshal(envelope{
		EventID:    meta.ID,
		EventType:  string(evt.Type()),
		OccurredAt: meta.OccurredAt,
		Source:     meta.Source,
		Version:    meta.Version,
		Data:       raw,
	})
}

// Decode parses body into the variant named by tag. An empty tag falls back to
// the envelope's eventType. Failures other than ErrUnknownEventType are domain
// decode errors.
func Decode(tag string, body []byte) (domain.Event, error) {
	var typ domain.EventType
	if strings.TrimSpace(tag) != "" {
		t, ok := domain.ParseEventType(tag)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, tag)
		}
		typ = t
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.DecodeError("malformed envelope", err)
	}

	if env.EventType != "" {
		declared, ok := domain.ParseEventType(env.EventType)
		switch {
		case typ == "" && !ok:
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
		case typ == "":
			typ = declared
		case declared != typ:
			return nil, domain.DecodeError(fmt.Sprintf("type tag %q does not match envelope type %q", tag, env.EventType), nil)
		}
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: no type tag", ErrUnknownEventType)
	}
	if env.EventID == uuid.Nil {
		return nil, domain.DecodeError("envelope is missing eventId", nil)
	}

	opts := []domain.EventOption{
		domain.WithEventID(env.EventID),
		domain.WithSource(env.Source),
		domain.WithVersion(env.Version),
	}
	if !env.OccurredAt.IsZero() {
		opts = append(opts, domain.WithOccurredAt(env.OccurredAt))
	}

	switch typ {
	case domain.EventCustomerCreated:
		var data domain.CustomerCreatedData
		if err := decodeData(typ, env.Data, &data); err != nil {
			return nil, err
		}
		return domain.NewCustomerCreated(data, opts...), nil
	case domain.EventDentistCreated:
		var data domain.DentistCreatedData
		if err := decodeData(typ, env.Data, &data); err != nil {
			return nil, err
		}
		return domain.NewDentistCreated(data, opts...), nil
	case domain.EventUserCreated:
		var data domain.UserCreatedData
		if err := decodeData(typ, env.Data, &data); err != nil {
			return nil, err
		}
		return domain.NewUserCreated(data, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typ)
	}
}

func decodeData[T any](typ domain.EventType, raw json.RawMessage, into *T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.DecodeError(fmt.Sprintf("%s envelope has no data", typ), nil)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return domain.DecodeError(fmt.Sprintf("malformed %s data", typ), err)
	}
	if err := payloadValidator.Struct(into); err != nil {
		return domain.DecodeError(fmt.Sprintf("invalid %s data: %s", typ, describeValidation(err)), err)
	}
	return nil
}

// describeValidation flattens validator errors into a readable list.
func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fieldError(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
