package runtime

// Metadata keys stamped onto every message the fabric publishes.
const (
	MetadataKeyEventType     = "fabric_event_type"
	MetadataKeySource        = "fabric_source"
	MetadataKeyCorrelationID = "correlation_id"
)

// UnprocessableEventError wraps payloads that failed decoding or schema
// validation. Redelivery cannot fix such a message, so the dead-letter
// middleware moves it out of the working queue on the first attempt.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

// NewUnprocessableEventError builds the error from the raw transport payload.
func NewUnprocessableEventError(eventMessage string, err error) *UnprocessableEventError {
	return &UnprocessableEventError{eventMessage: eventMessage, err: err}
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }
