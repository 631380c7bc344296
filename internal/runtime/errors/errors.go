package errors

import sterrors "errors"

var (
	ErrServiceRequired    = sterrors.New("fabric: event service is required")
	ErrHandlerRequired    = sterrors.New("fabric: handler function is required")
	ErrEventTypeRequired  = sterrors.New("fabric: event type is required")
	ErrServiceNameNeeded  = sterrors.New("fabric: subscriber service name is required")
	ErrPublisherRequired  = sterrors.New("fabric: publisher is required")
	ErrEnvelopeRequired   = sterrors.New("fabric: envelope is required")
	ErrRoutingTableNeeded = sterrors.New("fabric: routing table is required")
	ErrPayloadRequired    = sterrors.New("fabric: event payload is required")
)
