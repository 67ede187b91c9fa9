package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/internal/dispatch"
	"github.com/JawadKotaichh/AUBus-sub000/internal/maps"
	"github.com/JawadKotaichh/AUBus-sub000/internal/rides"
	"github.com/JawadKotaichh/AUBus-sub000/internal/users"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
	pkgerrors "github.com/JawadKotaichh/AUBus-sub000/pkg/errors"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/validation"
)

const tracerName = "aubus.gateway"

// Orchestrator is the ride-request surface the gateway drives.
type Orchestrator interface {
	Create(ctx context.Context, input dispatch.CreateInput) (*dispatch.CreateResult, error)
	RiderStatus(ctx context.Context, rider users.AuthUser) (*dispatch.StatusView, error)
	Confirm(ctx context.Context, rider users.AuthUser, requestID int64) (*dispatch.ConfirmResult, error)
	Cancel(ctx context.Context, rider users.AuthUser, requestID int64, note *string) (*dispatch.CancelResult, error)
	DriverQueue(ctx context.Context, driver users.AuthUser) (*dispatch.QueueView, error)
	Decide(ctx context.Context, driver users.AuthUser, requestID int64, decision dispatch.Decision, note *string) (*dispatch.DecisionResult, error)
}

// RideLifecycle is the post-confirm surface: completion and ratings.
type RideLifecycle interface {
	Complete(ctx context.Context, driverID, rideID uuid.UUID, ratingForRider *float64) (*rides.CompleteResult, error)
	RateDriver(ctx context.Context, riderID, rideID uuid.UUID, rating float64) (*rides.RateDriverResult, error)
}

// Sessions resolves tokens and records per-frame heartbeats.
type Sessions interface {
	ResolveSession(ctx context.Context, token string) (*users.AuthUser, error)
	TouchSession(ctx context.Context, token, ip string, port int) error
}

// Geocoder backs the area lookup frame.
type Geocoder interface {
	Geocode(ctx context.Context, query string) ([]maps.Place, error)
}

// Handler routes decoded frames to the services. Connections carry no
// state between frames; every frame authenticates itself.
type Handler struct {
	dispatch Orchestrator
	rides    RideLifecycle
	sessions Sessions
	geocoder Geocoder
}

// NewHandler creates a new gateway handler.
func NewHandler(dispatcher Orchestrator, rideLifecycle RideLifecycle, sessions Sessions, geocoder Geocoder) *Handler {
	return &Handler{
		dispatch: dispatcher,
		rides:    rideLifecycle,
		sessions: sessions,
		geocoder: geocoder,
	}
}

// placeOutput is the wire shape of one area lookup result.
type placeOutput struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// Handle processes one frame and always produces a reply. remoteIP and
// remotePort identify the peer for the session heartbeat.
func (h *Handler) Handle(ctx context.Context, frame *Frame, remoteIP string, remotePort int) *Response {
	ctx = logger.ContextWithCorrelationID(ctx, uuid.New().String())
	ctx, span := tracing.StartSpan(ctx, tracerName, "gateway.frame")
	defer span.End()
	tracing.AddSpanAttributes(ctx, attribute.Int("frame.type", frame.Type))

	output, err := h.route(ctx, frame, remoteIP, remotePort)
	if err != nil {
		tracing.RecordError(ctx, err)
		pkgerrors.CaptureError(err)
		return errorResponse(frame.Type, statusFor(err), errorMessage(err))
	}
	return okResponse(frame.Type, output)
}

// route binds the payload and calls the matching operation.
func (h *Handler) route(ctx context.Context, frame *Frame, remoteIP string, remotePort int) (interface{}, error) {
	switch frame.Type {
	case OpPing:
		return &PingOutput{Message: "pong", ServerTime: time.Now().UTC()}, nil

	case OpRequestCreate:
		var p CreatePayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		rider, err := h.authenticate(ctx, p.SessionToken, false, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.dispatch.Create(ctx, dispatch.CreateInput{
			Rider:                *rider,
			PickupArea:           p.Pickup.Area,
			PickupLatitude:       *p.Pickup.Latitude,
			PickupLongitude:      *p.Pickup.Longitude,
			DestinationLabel:     p.Destination.Label,
			DestinationIsCampus:  p.Destination.IsCampus,
			DestinationLatitude:  p.Destination.Latitude,
			DestinationLongitude: p.Destination.Longitude,
			Direction:            p.Direction,
			RequestedTime:        p.RequestedTime,
			MinRating:            p.MinRating,
			PreferredGender:      p.PreferredGender,
			ZoneFilter:           p.ZoneFilter,
		})

	case OpRiderStatus:
		var p StatusPayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		rider, err := h.authenticate(ctx, p.SessionToken, false, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.dispatch.RiderStatus(ctx, *rider)

	case OpRiderConfirm:
		var p ConfirmPayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		rider, err := h.authenticate(ctx, p.SessionToken, false, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.dispatch.Confirm(ctx, *rider, p.RequestID)

	case OpRiderCancel:
		var p CancelPayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		rider, err := h.authenticate(ctx, p.SessionToken, false, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.dispatch.Cancel(ctx, *rider, p.RequestID, p.Note)

	case OpDriverQueue:
		var p QueuePayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		driver, err := h.authenticate(ctx, p.SessionToken, true, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.dispatch.DriverQueue(ctx, *driver)

	case OpDriverDecision:
		var p DecisionPayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		driver, err := h.authenticate(ctx, p.SessionToken, true, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.dispatch.Decide(ctx, *driver, p.RequestID, dispatch.Decision(p.Decision), p.Note)

	case OpRideComplete:
		var p CompletePayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		driver, err := h.authenticate(ctx, p.SessionToken, true, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.rides.Complete(ctx, driver.UserID, p.RideID, p.RatingForRider)

	case OpRateDriver:
		var p RatePayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		rider, err := h.authenticate(ctx, p.SessionToken, false, remoteIP, remotePort)
		if err != nil {
			return nil, err
		}
		return h.rides.RateDriver(ctx, rider.UserID, p.RideID, p.Rating)

	case OpAreaLookup:
		var p LookupPayload
		if err := h.bind(frame.Payload, &p); err != nil {
			return nil, err
		}
		if _, err := h.authenticate(ctx, p.SessionToken, false, remoteIP, remotePort); err != nil {
			return nil, err
		}
		places, err := h.geocoder.Geocode(ctx, p.Text)
		if err != nil {
			return nil, err
		}
		out := make([]placeOutput, 0, len(places))
		for _, place := range places {
			out = append(out, placeOutput{Label: place.Label, Lat: place.Latitude, Lng: place.Longitude})
		}
		return out, nil

	default:
		return nil, common.NewInvalidPayloadError(fmt.Sprintf("unknown frame type %d", frame.Type), nil)
	}
}

// bind decodes and validates an opcode payload.
func (h *Handler) bind(payload json.RawMessage, dst interface{}) error {
	if len(payload) == 0 {
		return common.NewInvalidPayloadError("payload is required", nil)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return common.NewInvalidPayloadError(fmt.Sprintf("invalid payload: %v", err), err)
	}
	if err := validation.ValidateStruct(dst); err != nil {
		return common.NewInvalidPayloadError(err.Error(), err)
	}
	return nil
}

// authenticate resolves a session token and records the heartbeat that
// keeps the peer visible to the candidate pool. Heartbeat failures are
// logged, never surfaced.
func (h *Handler) authenticate(ctx context.Context, token string, wantDriver bool, remoteIP string, remotePort int) (*users.AuthUser, error) {
	au, err := h.sessions.ResolveSession(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewAuthRequiredError("unknown or expired session token")
		}
		return nil, common.NewInternalError("session lookup failed", err)
	}
	if wantDriver && !au.IsDriver {
		return nil, common.NewAuthRequiredError("driver session required")
	}

	if err := h.sessions.TouchSession(ctx, token, remoteIP, remotePort); err != nil {
		logger.WarnContext(ctx, "session heartbeat failed",
			zap.String("username", au.Username),
			zap.Error(err))
	}
	return au, nil
}

// errorMessage picks the client-facing text for an error. AppError
// messages are written for clients; anything else stays generic.
func errorMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
