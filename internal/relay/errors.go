package relay

import (
	"errors"

	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

var (
	ErrCapacityExceeded   = errors.New("relay at capacity")
	ErrAlreadyAdmitted    = errors.New("connection already admitted")
	ErrNotFound           = errors.New("peer not found")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrUnauthorizedOrigin = errors.New("origin not allowed")
	ErrMalformedMessage   = protocol.ErrMalformedMessage
)
