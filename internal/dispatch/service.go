package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/internal/maps"
	"github.com/JawadKotaichh/AUBus-sub000/internal/rides"
	"github.com/JawadKotaichh/AUBus-sub000/internal/selector"
	"github.com/JawadKotaichh/AUBus-sub000/internal/users"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/eventbus"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/metrics"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
)

const tracerName = "aubus.dispatch"

// Store is the request/candidate persistence surface. Mutating methods
// run inside the pgx.Tx handed out by InTx; reads that feed plain
// views run on the pool directly.
type Store interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error

	InsertRequest(ctx context.Context, tx pgx.Tx, req *RideRequest) error
	InsertCandidates(ctx context.Context, tx pgx.Tx, cands []Candidate) error
	ActiveRequestID(ctx context.Context, riderID uuid.UUID) (int64, bool, error)
	LatestRequestForRider(ctx context.Context, riderID uuid.UUID) (*RideRequest, error)
	LockRequest(ctx context.Context, tx pgx.Tx, id int64) (*RideRequest, error)

	GetCandidate(ctx context.Context, tx pgx.Tx, id int64) (*Candidate, error)
	CandidateForDriver(ctx context.Context, tx pgx.Tx, requestID int64, driverID uuid.UUID) (*Candidate, error)
	AcceptedCandidate(ctx context.Context, tx pgx.Tx, requestID int64) (*Candidate, error)
	CandidateBySequence(ctx context.Context, requestID int64, sequence int) (*Candidate, error)
	CountCandidates(ctx context.Context, requestID int64) (int, error)

	SetCandidateStatus(ctx context.Context, tx pgx.Tx, id int64, status CandidateStatus, respondedAt *time.Time, message *string) error
	SetCandidateMapsURL(ctx context.Context, tx pgx.Tx, id int64, url string) error
	SkipOthers(ctx context.Context, tx pgx.Tx, requestID, winnerID int64, respondedAt time.Time) (int64, error)
	SkipOpen(ctx context.Context, tx pgx.Tx, requestID int64, respondedAt time.Time) (int64, error)
	CountPending(ctx context.Context, tx pgx.Tx, requestID int64) (int, error)
	PromoteNextWaiting(ctx context.Context, tx pgx.Tx, requestID int64, assignedAt time.Time) (*Candidate, error)
	NextPendingCandidate(ctx context.Context, tx pgx.Tx, requestID int64) (*Candidate, error)

	SetRequestAwaiting(ctx context.Context, tx pgx.Tx, id int64, sequence int, driverID uuid.UUID, sessionToken string, respondedAt time.Time) error
	SetRequestOffer(ctx context.Context, tx pgx.Tx, id int64, sequence int, driverID uuid.UUID, sessionToken string) error
	SetRequestExhausted(ctx context.Context, tx pgx.Tx, id int64, message string) error
	SetRequestCanceled(ctx context.Context, tx pgx.Tx, id int64, message *string) error
	SetRequestCompleted(ctx context.Context, tx pgx.Tx, id int64, rideID uuid.UUID, message string) error

	InsertRide(ctx context.Context, tx pgx.Tx, ride *rides.Ride) error
	CancelRideIfPending(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) error
	GetRideStatus(ctx context.Context, rideID uuid.UUID) (string, error)

	ListOverdueOffers(ctx context.Context, cutoff time.Time, limit int) ([]DueOffer, error)
	ListOverdueConfirms(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	DriverQueue(ctx context.Context, driverID uuid.UUID) (*QueueView, error)
}

// CandidateSelector ranks online drivers for a new request.
type CandidateSelector interface {
	Select(ctx context.Context, input selector.Input) ([]selector.Candidate, error)
}

// RoutePlanner supplies the confirm-time driver-to-rider route.
type RoutePlanner interface {
	Route(ctx context.Context, origin, destination maps.Coordinate) (*maps.Route, error)
}

// Directory reads rider snapshots, user positions and session endpoints
// from the user store.
type Directory interface {
	GetRiderSnapshot(ctx context.Context, riderID uuid.UUID) (*users.RiderSnapshot, error)
	GetCoordinates(ctx context.Context, userID uuid.UUID) (*float64, *float64, error)
	GetSessionEndpoint(ctx context.Context, token string) (*users.DriverEndpoint, error)
}

// Publisher is the optional lifecycle event sink; a nil Publisher
// disables publishing
type Publisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Service is the request orchestrator: it owns every transition of the
// RideRequest state machine and its candidate queue. Each transition
// runs in one transaction that locks the request row first, so
// transitions on one request form a single total order.
type Service struct {
	store    Store
	selector CandidateSelector
	users    Directory
	planner  RoutePlanner
	bus      Publisher
	config   Config

	// now is swapped out by tests for deterministic clocks.
	now func() time.Time
}

// NewService creates a new dispatch service. Zero config fields fall
// back to the documented defaults.
func NewService(store Store, sel CandidateSelector, directory Directory, planner RoutePlanner, bus Publisher, config Config) *Service {
	defaults := DefaultConfig()
	if config.FanOutWidth <= 0 {
		config.FanOutWidth = defaults.FanOutWidth
	}
	if config.PendingTimeout <= 0 {
		config.PendingTimeout = defaults.PendingTimeout
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaults.SweepBatchSize
	}
	return &Service{
		store:    store,
		selector: sel,
		users:    directory,
		planner:  planner,
		bus:      bus,
		config:   config,
		now:      time.Now,
	}
}

// Config returns the tunables the service runs with.
func (s *Service) Config() Config {
	return s.config
}

// CreateInput is a rider's new ride request. Pickup coordinates are
// required because selection cannot rank drivers without them;
// destination coordinates are optional and only sharpen the
// schedule-window projection.
type CreateInput struct {
	Rider                users.AuthUser
	PickupArea           string
	PickupLatitude       float64
	PickupLongitude      float64
	DestinationLabel     string
	DestinationIsCampus  bool
	DestinationLatitude  *float64
	DestinationLongitude *float64
	Direction            string
	RequestedTime        time.Time
	MinRating            float64
	PreferredGender      *string
	ZoneFilter           *string
}

// busEvent is a lifecycle event staged inside a transaction and
// published only after commit.
type busEvent struct {
	subject string
	data    interface{}
}

// Create runs selection, freezes the rider snapshot and persists the
// request with its full candidate queue in one transaction. The first
// min(K, N) candidates start PENDING, the rest WAITING.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.create")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.LocationAttributes(input.PickupLatitude, input.PickupLongitude)...)

	if _, exists, err := s.store.ActiveRequestID(ctx, input.Rider.UserID); err != nil {
		return nil, common.NewInternalError("failed to check for active requests", err)
	} else if exists {
		return nil, common.NewRequestInFlightError("you already have an active ride request")
	}

	ranked, err := s.selector.Select(ctx, selector.Input{
		RiderLat:        input.PickupLatitude,
		RiderLng:        input.PickupLongitude,
		DestinationLat:  input.DestinationLatitude,
		DestinationLng:  input.DestinationLongitude,
		Direction:       selector.Direction(input.Direction),
		RequestedTime:   input.RequestedTime,
		MinRating:       input.MinRating,
		PreferredGender: input.PreferredGender,
		ZoneFilter:      input.ZoneFilter,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, common.NewNoDriversError("no drivers are available right now")
	}

	snapshot, err := s.users.GetRiderSnapshot(ctx, input.Rider.UserID)
	if err != nil {
		return nil, common.NewInternalError("failed to load rider profile", err)
	}

	now := s.now().UTC()
	pickupLat, pickupLng := input.PickupLatitude, input.PickupLongitude
	req := &RideRequest{
		RiderID:                  input.Rider.UserID,
		RiderSessionToken:        input.Rider.SessionToken,
		PickupArea:               input.PickupArea,
		PickupLatitude:           &pickupLat,
		PickupLongitude:          &pickupLng,
		DestinationLabel:         input.DestinationLabel,
		DestinationIsCampus:      input.DestinationIsCampus,
		DestinationLatitude:      input.DestinationLatitude,
		DestinationLongitude:     input.DestinationLongitude,
		Direction:                input.Direction,
		RequestedTime:            input.RequestedTime,
		MinRating:                input.MinRating,
		PreferredGender:          input.PreferredGender,
		Status:                   StatusDriverPending,
		CurrentCandidateSequence: 1,
		CurrentDriverID:          &ranked[0].DriverID,
		CurrentDriverSession:     &ranked[0].SessionToken,
		Rider:                    *snapshot,
	}

	offers := len(ranked)
	if offers > s.config.FanOutWidth {
		offers = s.config.FanOutWidth
	}
	cands := make([]Candidate, len(ranked))
	for i, rc := range ranked {
		cands[i] = Candidate{
			Sequence:           i + 1,
			DriverID:           rc.DriverID,
			DriverSessionToken: rc.SessionToken,
			DriverName:         rc.Name,
			DriverUsername:     rc.Username,
			DriverRating:       rc.AvgRatingDriver,
			DriverRides:        rc.RidesCount,
			DriverArea:         rc.Area,
			DurationMin:        rc.DurationMin,
			DistanceKm:         rc.DistanceKm,
			MapsURL:            rc.MapsURL,
			Status:             CandidateWaiting,
		}
		if i < offers {
			assigned := now
			cands[i].Status = CandidatePending
			cands[i].AssignedAt = &assigned
		}
	}

	err = s.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.InsertRequest(ctx, tx, req); err != nil {
			return err
		}
		for i := range cands {
			cands[i].RequestID = req.ID
		}
		return s.store.InsertCandidates(ctx, tx, cands)
	})
	if err != nil {
		if errors.Is(err, ErrActiveRequestExists) {
			return nil, common.NewRequestInFlightError("you already have an active ride request")
		}
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalError("failed to persist ride request", err)
	}

	metrics.RecordTransition("request_created")
	tracing.AddSpanAttributes(ctx, tracing.RequestAttributes(req.ID, req.RiderID.String(), "")...)

	destLat, destLng := 0.0, 0.0
	if input.DestinationLatitude != nil {
		destLat = *input.DestinationLatitude
	}
	if input.DestinationLongitude != nil {
		destLng = *input.DestinationLongitude
	}
	s.publish(ctx, eventbus.SubjectRequestCreated, eventbus.RequestCreatedData{
		RequestID:        req.ID,
		RiderID:          req.RiderID,
		Direction:        req.Direction,
		OriginLatitude:   pickupLat,
		OriginLongitude:  pickupLng,
		DestLatitude:     destLat,
		DestLongitude:    destLng,
		CandidateCount:   len(cands),
		OffersSent:       offers,
		EstimatedSeconds: ranked[0].DurationSeconds,
		CreatedAt:        now,
	})
	for i := 0; i < offers; i++ {
		s.publish(ctx, eventbus.SubjectOfferSent, eventbus.OfferSentData{
			RequestID: req.ID,
			DriverID:  cands[i].DriverID,
			Seq:       cands[i].Sequence,
			SentAt:    now,
		})
	}

	return &CreateResult{
		RequestID:     req.ID,
		Status:        StatusDriverPending,
		CurrentDriver: candidateView(&cands[0], false),
		DriversTotal:  len(cands),
	}, nil
}

// DriverQueue returns the driver's live offers and recent assignments.
func (s *Service) DriverQueue(ctx context.Context, driver users.AuthUser) (*QueueView, error) {
	view, err := s.store.DriverQueue(ctx, driver.UserID)
	if err != nil {
		return nil, common.NewInternalError("failed to load driver queue", err)
	}
	return view, nil
}

// Decide applies a driver's accept or reject to their live offer.
// Accept finalizes every other open candidate as SKIPPED and parks the
// request in AWAITING_RIDER. Reject promotes from the waiting pool and
// repoints the request, exhausting it when nobody is left. A reject
// against the driver's own ACCEPTED offer while the request awaits the
// rider is a withdraw: the offer is finalized SKIPPED and promotion
// runs as for a reject.
func (s *Service) Decide(ctx context.Context, driver users.AuthUser, requestID int64, decision Decision, note *string) (*DecisionResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.decide")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.RequestAttributes(requestID, "", driver.UserID.String())...)

	var result *DecisionResult
	var events []busEvent
	err := s.store.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		cand, err := s.store.CandidateForDriver(ctx, tx, requestID, driver.UserID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return common.NewNotFoundError("no assignment for this driver", nil)
			}
			return common.NewInternalError("failed to read candidate", err)
		}
		now := s.now().UTC()

		switch decision {
		case DecisionAccept:
			result, err = s.accept(ctx, tx, req, cand, note, now, &events)
		case DecisionReject:
			result, err = s.reject(ctx, tx, req, cand, note, now, &events)
		default:
			err = common.NewInvalidPayloadError("decision must be accept or reject", nil)
		}
		return err
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	s.publishAll(ctx, events)
	return result, nil
}

func (s *Service) accept(ctx context.Context, tx pgx.Tx, req *RideRequest, cand *Candidate, note *string, now time.Time, events *[]busEvent) (*DecisionResult, error) {
	if req.Status.Terminal() {
		return nil, common.NewInvalidStateError(fmt.Sprintf("request is already %s", req.Status))
	}
	if cand.Status != CandidatePending {
		return nil, common.NewStaleAssignmentError("this assignment is no longer pending")
	}

	if err := s.store.SetCandidateStatus(ctx, tx, cand.ID, CandidateAccepted, &now, note); err != nil {
		return nil, common.NewInternalError("failed to accept candidate", err)
	}
	if _, err := s.store.SkipOthers(ctx, tx, req.ID, cand.ID, now); err != nil {
		return nil, common.NewInternalError("failed to finalize other candidates", err)
	}
	if err := s.store.SetRequestAwaiting(ctx, tx, req.ID, cand.Sequence, cand.DriverID, cand.DriverSessionToken, now); err != nil {
		return nil, common.NewInternalError("failed to update request", err)
	}

	metrics.RecordTransition("driver_accepted")
	*events = append(*events, busEvent{eventbus.SubjectRequestAccepted, eventbus.RequestAcceptedData{
		RequestID:  req.ID,
		RiderID:    req.RiderID,
		DriverID:   cand.DriverID,
		AcceptedAt: now,
	}})

	cand.Status = CandidateAccepted
	return &DecisionResult{
		RequestID:     req.ID,
		Status:        StatusAwaitingRider,
		CurrentDriver: candidateView(cand, false),
	}, nil
}

func (s *Service) reject(ctx context.Context, tx pgx.Tx, req *RideRequest, cand *Candidate, note *string, now time.Time, events *[]busEvent) (*DecisionResult, error) {
	if req.Status.Terminal() {
		return nil, common.NewInvalidStateError(fmt.Sprintf("request is already %s", req.Status))
	}

	withdraw := cand.Status == CandidateAccepted && req.Status == StatusAwaitingRider
	if !withdraw && cand.Status != CandidatePending {
		return nil, common.NewStaleAssignmentError("this assignment is no longer pending")
	}

	final := CandidateRejected
	transition := "driver_rejected"
	if withdraw {
		final = CandidateSkipped
		transition = "driver_withdrew"
	}
	if err := s.store.SetCandidateStatus(ctx, tx, cand.ID, final, &now, note); err != nil {
		return nil, common.NewInternalError("failed to finalize candidate", err)
	}
	metrics.RecordTransition(transition)

	result, _, err := s.advance(ctx, tx, req, now, events)
	return result, err
}

// advance runs the promotion step after an offer is released: refill
// the live window from the waiting pool, repoint the request at the
// lowest-sequence pending offer, or exhaust it. Returns how many
// candidates were promoted.
func (s *Service) advance(ctx context.Context, tx pgx.Tx, req *RideRequest, now time.Time, events *[]busEvent) (*DecisionResult, int, error) {
	pending, err := s.store.CountPending(ctx, tx, req.ID)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to count pending candidates", err)
	}

	promoted := 0
	for pending < s.config.FanOutWidth {
		next, err := s.store.PromoteNextWaiting(ctx, tx, req.ID, now)
		if err != nil {
			return nil, promoted, common.NewInternalError("failed to promote waiting candidate", err)
		}
		if next == nil {
			break
		}
		pending++
		promoted++
		tracing.AddSpanEvent(ctx, "candidate.promoted",
			tracing.RequestIDKey.String(strconv.FormatInt(req.ID, 10)),
			tracing.CandidateSeqKey.Int(next.Sequence),
		)
		*events = append(*events, busEvent{eventbus.SubjectOfferSent, eventbus.OfferSentData{
			RequestID: req.ID,
			DriverID:  next.DriverID,
			Seq:       next.Sequence,
			SentAt:    now,
		}})
	}

	next, err := s.store.NextPendingCandidate(ctx, tx, req.ID)
	if err != nil {
		return nil, promoted, common.NewInternalError("failed to read next pending candidate", err)
	}
	if next != nil {
		if err := s.store.SetRequestOffer(ctx, tx, req.ID, next.Sequence, next.DriverID, next.DriverSessionToken); err != nil {
			return nil, promoted, common.NewInternalError("failed to repoint request", err)
		}
		return &DecisionResult{
			RequestID:     req.ID,
			Status:        StatusDriverPending,
			CurrentDriver: candidateView(next, false),
		}, promoted, nil
	}

	if err := s.store.SetRequestExhausted(ctx, tx, req.ID, msgExhausted); err != nil {
		return nil, promoted, common.NewInternalError("failed to exhaust request", err)
	}
	metrics.RecordTransition("request_exhausted")

	total, err := s.store.CountCandidates(ctx, req.ID)
	if err != nil {
		total = 0
	}
	*events = append(*events, busEvent{eventbus.SubjectRequestExhausted, eventbus.RequestExhaustedData{
		RequestID:      req.ID,
		RiderID:        req.RiderID,
		CandidateCount: total,
		ExhaustedAt:    now,
	}})

	return &DecisionResult{RequestID: req.ID, Status: StatusExhausted}, promoted, nil
}

// Confirm books the ride for an accepted request. The fresh
// driver-to-rider route is fetched before any write; a MapUnavailable
// rolls the whole transaction back and the request stays
// AWAITING_RIDER so the rider may retry.
func (s *Service) Confirm(ctx context.Context, rider users.AuthUser, requestID int64) (*ConfirmResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.confirm")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.RequestAttributes(requestID, rider.UserID.String(), "")...)

	var result *ConfirmResult
	var events []busEvent
	err := s.store.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.RiderID != rider.UserID {
			return common.NewNotFoundError("ride request not found", nil)
		}
		if req.Status != StatusAwaitingRider {
			return common.NewInvalidStateError(fmt.Sprintf("request is %s, not awaiting confirmation", req.Status))
		}

		cand, err := s.store.AcceptedCandidate(ctx, tx, req.ID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return common.NewInternalError("awaiting request has no accepted candidate", nil)
			}
			return common.NewInternalError("failed to read accepted candidate", err)
		}

		url, err := s.freshRouteURL(ctx, req, cand)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		ride := &rides.Ride{
			ID:                 uuid.New(),
			RequestID:          req.ID,
			RiderID:            req.RiderID,
			DriverID:           cand.DriverID,
			RiderSessionToken:  req.RiderSessionToken,
			DriverSessionToken: cand.DriverSessionToken,
			PickupArea:         req.PickupArea,
			Destination:        req.DestinationLabel,
			RequestedTime:      req.RequestedTime,
			Status:             rides.StatusPending,
			AcceptedAt:         now,
		}
		if err := s.store.InsertRide(ctx, tx, ride); err != nil {
			return common.NewInternalError("failed to book ride", err)
		}
		if err := s.store.SetCandidateMapsURL(ctx, tx, cand.ID, url); err != nil {
			return common.NewInternalError("failed to store route link", err)
		}
		if err := s.store.SetRequestCompleted(ctx, tx, req.ID, ride.ID, msgConfirmed); err != nil {
			return common.NewInternalError("failed to complete request", err)
		}

		result = &ConfirmResult{RequestID: req.ID, RideID: ride.ID, MapsURL: url}
		events = append(events, busEvent{eventbus.SubjectRequestConfirmed, eventbus.RequestConfirmedData{
			RequestID:   req.ID,
			RideID:      ride.ID,
			RiderID:     req.RiderID,
			DriverID:    cand.DriverID,
			ConfirmedAt: now,
		}})
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	metrics.RecordTransition("request_confirmed")
	s.publishAll(ctx, events)
	return result, nil
}

func (s *Service) freshRouteURL(ctx context.Context, req *RideRequest, cand *Candidate) (string, error) {
	lat, lng, err := s.users.GetCoordinates(ctx, cand.DriverID)
	if err != nil {
		return "", common.NewMapUnavailableError("could not locate the driver", err)
	}
	if lat == nil || lng == nil || req.PickupLatitude == nil || req.PickupLongitude == nil {
		return "", common.NewMapUnavailableError("missing coordinates for the final route", nil)
	}
	route, err := s.planner.Route(ctx,
		maps.Coordinate{Latitude: *lat, Longitude: *lng},
		maps.Coordinate{Latitude: *req.PickupLatitude, Longitude: *req.PickupLongitude},
	)
	if err != nil {
		if errors.Is(err, maps.ErrNoRoute) {
			return "", common.NewMapUnavailableError("no route between driver and pickup", err)
		}
		return "", err
	}
	return route.URL, nil
}

// Cancel withdraws a non-terminal request. Open candidates are
// finalized SKIPPED; an accepted candidate keeps its status for the
// audit trail; a linked pending ride, should one exist, is canceled.
func (s *Service) Cancel(ctx context.Context, rider users.AuthUser, requestID int64, note *string) (*CancelResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.cancel")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.RequestAttributes(requestID, rider.UserID.String(), "")...)

	var result *CancelResult
	var events []busEvent
	err := s.store.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.RiderID != rider.UserID {
			return common.NewNotFoundError("ride request not found", nil)
		}
		if req.Status.Terminal() {
			return common.NewInvalidStateError(fmt.Sprintf("request is already %s", req.Status))
		}

		stage := req.Status
		now := s.now().UTC()
		if _, err := s.store.SkipOpen(ctx, tx, req.ID, now); err != nil {
			return common.NewInternalError("failed to finalize candidates", err)
		}
		if req.RideID != nil {
			if err := s.store.CancelRideIfPending(ctx, tx, *req.RideID); err != nil {
				return common.NewInternalError("failed to cancel linked ride", err)
			}
		}
		if err := s.store.SetRequestCanceled(ctx, tx, req.ID, note); err != nil {
			return common.NewInternalError("failed to cancel request", err)
		}

		result = &CancelResult{RequestID: req.ID, Status: StatusCanceled}
		events = append(events, busEvent{eventbus.SubjectRequestCanceled, eventbus.RequestCanceledData{
			RequestID:  req.ID,
			RiderID:    req.RiderID,
			Stage:      string(stage),
			CanceledAt: now,
		}})
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	metrics.RecordTransition("request_canceled")
	s.publishAll(ctx, events)
	return result, nil
}

// RiderStatus returns the rider's most recent request, terminal or
// not, inlined with the candidate it is currently parked on and the
// linked ride's status when one exists.
func (s *Service) RiderStatus(ctx context.Context, rider users.AuthUser) (*StatusView, error) {
	req, err := s.store.LatestRequestForRider(ctx, rider.UserID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, common.NewNotFoundError("no ride requests yet", nil)
		}
		return nil, common.NewInternalError("failed to load latest request", err)
	}

	total, err := s.store.CountCandidates(ctx, req.ID)
	if err != nil {
		return nil, common.NewInternalError("failed to count candidates", err)
	}

	view := &StatusView{
		RequestID:            req.ID,
		Status:               req.Status,
		PickupArea:           req.PickupArea,
		DestinationLabel:     req.DestinationLabel,
		DestinationIsCampus:  req.DestinationIsCampus,
		Direction:            req.Direction,
		RequestedTime:        req.RequestedTime,
		MinRating:            req.MinRating,
		PreferredGender:      req.PreferredGender,
		DriversTotal:         total,
		Message:              req.Message,
		RideID:               req.RideID,
		CreatedAt:            req.CreatedAt,
		UpdatedAt:            req.UpdatedAt,
		LastDriverResponseAt: req.LastDriverResponseAt,
	}

	if req.CurrentCandidateSequence > 0 {
		cand, err := s.store.CandidateBySequence(ctx, req.ID, req.CurrentCandidateSequence)
		switch {
		case err == pgx.ErrNoRows:
			// current pointer with no row would break I3; surface nothing
		case err != nil:
			return nil, common.NewInternalError("failed to read current candidate", err)
		default:
			cd := candidateView(cand, req.Status == StatusCompleted)
			if req.Status == StatusAwaitingRider || req.Status == StatusCompleted {
				if ep, err := s.users.GetSessionEndpoint(ctx, cand.DriverSessionToken); err == nil {
					cd.IP = &ep.IP
					cd.Port = &ep.Port
				} else {
					logger.WithContext(ctx).Warn("driver endpoint lookup failed",
						zap.Int64("request_id", req.ID), zap.Error(err))
				}
			}
			view.CurrentDriver = cd
		}
	}

	if req.RideID != nil {
		status, err := s.store.GetRideStatus(ctx, *req.RideID)
		if err != nil {
			logger.WithContext(ctx).Warn("ride status lookup failed",
				zap.Int64("request_id", req.ID), zap.Error(err))
		} else {
			view.RideStatus = &status
		}
	}

	return view, nil
}

// SweepOnce runs one timeout pass: offers pending longer than the
// pending timeout are treated as implicit rejects, and requests stuck
// in AWAITING_RIDER past the confirmation window release their
// accepted driver. Each due row gets its own locked transaction that
// re-checks state, so the sweep is idempotent and safe to race with
// live decisions. Returns how many offers were expired and how many
// waiting candidates were promoted.
func (s *Service) SweepOnce(ctx context.Context) (int, int, error) {
	now := s.now().UTC()
	expired, promoted := 0, 0

	due, err := s.store.ListOverdueOffers(ctx, now.Add(-s.config.PendingTimeout), s.config.SweepBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list overdue offers: %w", err)
	}
	for _, d := range due {
		exp, prom, err := s.expireOffer(ctx, d)
		if err != nil {
			logger.WithContext(ctx).Warn("offer expiry failed",
				zap.Int64("request_id", d.RequestID),
				zap.Int64("candidate_id", d.CandidateID),
				zap.Error(err))
			continue
		}
		expired += exp
		promoted += prom
	}

	stale, err := s.store.ListOverdueConfirms(ctx, now.Add(-s.config.ConfirmTimeout), s.config.SweepBatchSize)
	if err != nil {
		return expired, promoted, fmt.Errorf("failed to list overdue confirmations: %w", err)
	}
	for _, id := range stale {
		exp, prom, err := s.releaseConfirmation(ctx, id)
		if err != nil {
			logger.WithContext(ctx).Warn("confirmation release failed",
				zap.Int64("request_id", id), zap.Error(err))
			continue
		}
		expired += exp
		promoted += prom
	}

	metrics.RecordSweep(expired, promoted)
	return expired, promoted, nil
}

// expireOffer finalizes one overdue offer as an implicit reject. The
// re-check under the row lock makes a concurrent explicit decision win
// cleanly: the sweeper just walks away.
func (s *Service) expireOffer(ctx context.Context, d DueOffer) (int, int, error) {
	expired, promoted := 0, 0
	var events []busEvent
	err := s.store.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.store.LockRequest(ctx, tx, d.RequestID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}
		cand, err := s.store.GetCandidate(ctx, tx, d.CandidateID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}

		now := s.now().UTC()
		if req.Status != StatusDriverPending || cand.Status != CandidatePending {
			return nil
		}
		if cand.AssignedAt == nil || cand.AssignedAt.After(now.Add(-s.config.PendingTimeout)) {
			return nil
		}

		msg := msgOfferTimedOut
		if err := s.store.SetCandidateStatus(ctx, tx, cand.ID, CandidateRejected, &now, &msg); err != nil {
			return err
		}
		expired++
		metrics.RecordTransition("offer_timed_out")
		events = append(events, busEvent{eventbus.SubjectOfferExpired, eventbus.OfferExpiredData{
			RequestID: req.ID,
			DriverID:  cand.DriverID,
			Seq:       cand.Sequence,
			ExpiredAt: now,
		}})

		_, prom, err := s.advance(ctx, tx, req, now, &events)
		promoted += prom
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	s.publishAll(ctx, events)
	return expired, promoted, nil
}

// releaseConfirmation frees the accepted driver of a request whose
// rider never confirmed. The candidate is finalized SKIPPED and the
// promotion step runs exactly as for a reject.
func (s *Service) releaseConfirmation(ctx context.Context, requestID int64) (int, int, error) {
	released, promoted := 0, 0
	var events []busEvent
	err := s.store.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.store.LockRequest(ctx, tx, requestID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}

		now := s.now().UTC()
		if req.Status != StatusAwaitingRider {
			return nil
		}
		if req.LastDriverResponseAt == nil || req.LastDriverResponseAt.After(now.Add(-s.config.ConfirmTimeout)) {
			return nil
		}

		cand, err := s.store.AcceptedCandidate(ctx, tx, req.ID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}

		msg := msgConfirmTimedOut
		if err := s.store.SetCandidateStatus(ctx, tx, cand.ID, CandidateSkipped, &now, &msg); err != nil {
			return err
		}
		released++
		metrics.RecordTransition("confirmation_timed_out")
		events = append(events, busEvent{eventbus.SubjectOfferExpired, eventbus.OfferExpiredData{
			RequestID: req.ID,
			DriverID:  cand.DriverID,
			Seq:       cand.Sequence,
			ExpiredAt: now,
		}})

		_, prom, err := s.advance(ctx, tx, req, now, &events)
		promoted += prom
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	s.publishAll(ctx, events)
	return released, promoted, nil
}

// lockRequest wraps LockRequest with the standard error translation.
func (s *Service) lockRequest(ctx context.Context, tx pgx.Tx, id int64) (*RideRequest, error) {
	req, err := s.store.LockRequest(ctx, tx, id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, common.NewNotFoundError("ride request not found", nil)
		}
		return nil, common.NewInternalError("failed to lock ride request", err)
	}
	return req, nil
}

// candidateView projects a candidate row into its rider-facing shape.
// The maps URL stays hidden until the request is COMPLETED.
func candidateView(c *Candidate, includeURL bool) *CurrentDriver {
	cd := &CurrentDriver{
		DriverID:       c.DriverID,
		Sequence:       c.Sequence,
		Name:           c.DriverName,
		Username:       c.DriverUsername,
		Rating:         c.DriverRating,
		CompletedRides: c.DriverRides,
		Area:           c.DriverArea,
		DurationMin:    c.DurationMin,
		DistanceKm:     c.DistanceKm,
	}
	if includeURL {
		cd.MapsURL = c.MapsURL
	}
	return cd
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, "dispatch", data)
	if err != nil {
		logger.Warn("build event failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.Warn("publish event failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (s *Service) publishAll(ctx context.Context, events []busEvent) {
	for _, ev := range events {
		s.publish(ctx, ev.subject, ev.data)
	}
}
