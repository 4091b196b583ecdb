package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// EventKind discriminates the two message shapes the dispatcher accepts.
type EventKind string

const (
	// KindUploadEvent is a storage bucket notification for a new object.
	KindUploadEvent EventKind = "upload_event"
	// KindConfirmation is an explicit client confirmation naming its job.
	KindConfirmation EventKind = "confirmation"
)

// ErrUnrecognizedMessage is returned when a body matches neither shape.
var ErrUnrecognizedMessage = errors.New("queue: unrecognized message shape")

var validate = validator.New()

// Event is the parsed form of a queue message.
type Event struct {
	Kind         EventKind
	JobID        string // set for confirmations only
	ObjectKey    string
	ObjectBucket string
}

// s3Envelope mirrors the bucket notification format: a Records array where
// each record carries the bucket name and the URL-encoded object key.
type s3Envelope struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// confirmation is the explicit upload-confirmation payload.
type confirmation struct {
	JobID        string `json:"job_id" validate:"required"`
	ObjectKey    string `json:"object_key" validate:"required"`
	ObjectBucket string `json:"object_bucket"`
}

// ParseMessage decodes a queue message body into an Event. It tries the
// bucket notification envelope first, then the confirmation shape.
func ParseMessage(body string) (*Event, error) {
	var env s3Envelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && len(env.Records) > 0 {
		rec := env.Records[0]
		if rec.S3.Object.Key != "" {
			return &Event{
				Kind:         KindUploadEvent,
				ObjectKey:    decodeKey(rec.S3.Object.Key),
				ObjectBucket: rec.S3.Bucket.Name,
			}, nil
		}
	}

	var conf confirmation
	if err := json.Unmarshal([]byte(body), &conf); err == nil {
		if err := validate.Struct(conf); err == nil {
			return &Event{
				Kind:         KindConfirmation,
				JobID:        conf.JobID,
				ObjectKey:    conf.ObjectKey,
				ObjectBucket: conf.ObjectBucket,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: %.120s", ErrUnrecognizedMessage, body)
}

// decodeKey reverses the URL encoding bucket notifications apply to object
// keys, where spaces arrive as '+'.
func decodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}
