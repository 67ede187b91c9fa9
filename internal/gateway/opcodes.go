package gateway

import (
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

// Frame types. These are stable wire values; clients hardcode them.
const (
	OpPing = 1

	OpRequestCreate  = 20
	OpRiderStatus    = 21
	OpRiderConfirm   = 22
	OpRiderCancel    = 23
	OpDriverQueue    = 24
	OpDriverDecision = 25

	OpRideComplete = 26
	OpRateDriver   = 27

	OpAreaLookup = 30
)

// Wire statuses.
const (
	StatusOK           = 1
	StatusInvalidInput = 2
	StatusNotFound     = 3
)

// statusFor maps an application error to its wire status. Lookup
// misses and an empty driver pool surface as NOT_FOUND; everything
// else the client can act on is INVALID_INPUT.
func statusFor(err error) int {
	switch common.KindOf(err) {
	case common.KindNotFound, common.KindNoDrivers:
		return StatusNotFound
	default:
		return StatusInvalidInput
	}
}
