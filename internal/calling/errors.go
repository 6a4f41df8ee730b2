package calling

import (
	"errors"
	"fmt"

	"github.com/pccr10001/jinglegw/internal/candidate"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/media"
)

var (
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrCallTerminated     = errors.New("call terminated")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrUnknownRecipient   = fmt.Errorf("%w: unknown recipient", ErrInvalidDestination)
	ErrProfileNotFound    = errors.New("profile not found")
	ErrProfileNotReady    = errors.New("profile not ready")
	ErrMediaNotReady      = errors.New("media not ready")
	ErrDTMFQueueFull      = errors.New("dtmf queue full")
	ErrInvalidDigit       = errors.New("invalid dtmf digit")
)

// Cause is the hangup reason handed to the channel.
type Cause string

const (
	CauseNormalClearing        Cause = "NORMAL_CLEARING"
	CauseTimerExpired          Cause = "RECOVERY_ON_TIMER_EXPIRE"
	CauseIncompatible          Cause = "INCOMPATIBLE_DESTINATION"
	CauseNetworkOutOfOrder     Cause = "NETWORK_OUT_OF_ORDER"
	CauseDestinationOutOfOrder Cause = "DESTINATION_OUT_OF_ORDER"
	CauseKilled                Cause = "MANAGER_REQUEST"
)

func causeFor(err error) Cause {
	switch {
	case errors.Is(err, ErrNegotiationTimeout):
		return CauseTimerExpired
	case errors.Is(err, codec.ErrNoCodecsAvailable), errors.Is(err, codec.ErrUnsupportedCodec):
		return CauseIncompatible
	case errors.Is(err, candidate.ErrStunResolutionFailed), errors.Is(err, media.ErrTransportAllocationFailed):
		return CauseNetworkOutOfOrder
	case errors.Is(err, ErrProfileNotReady), errors.Is(err, ErrProfileNotFound):
		return CauseDestinationOutOfOrder
	}
	return CauseNormalClearing
}

// IsTerminal reports whether err ends the call it was returned for.
func IsTerminal(err error) bool {
	for _, target := range []error{
		ErrNegotiationTimeout, ErrCallTerminated, ErrInvalidDestination, ErrProfileNotFound, ErrProfileNotReady,
		codec.ErrNoCodecsAvailable, candidate.ErrStunResolutionFailed, media.ErrTransportAllocationFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
