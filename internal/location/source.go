package location

import (
	"errors"
	"time"
)

// Positioning error taxonomy. Permission denial is terminal for the
// subscription; the other two are transient and only cost a sample.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location temporarily unavailable")
	ErrTimeout          = errors.New("location fix timed out")
)

// Sample is one positioning fix. Accuracy, Speed and Heading are optional;
// a nil pointer means the source did not report the field.
type Sample struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64 // meters
	Speed      *float64 // m/s
	Heading    *float64 // degrees
	CapturedAt time.Time
}

// Subscription is a live positioning stream. Unsubscribe must be idempotent.
type Subscription interface {
	Unsubscribe()
}

// Source is the external positioning provider contract. Samples and errors
// arrive on the given callbacks at a bounded rate until Unsubscribe. A
// source holding a cached fix may invoke onSample synchronously from inside
// Subscribe.
type Source interface {
	Subscribe(onSample func(Sample), onError func(error)) (Subscription, error)
}
