package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JawadKotaichh/AUBus-sub000/internal/rides"
)

// ErrActiveRequestExists is returned by InsertRequest when the
// one-active-request-per-rider partial unique index fires.
var ErrActiveRequestExists = errors.New("rider already has an active ride request")

// DueOffer identifies a live offer the sweeper should revisit.
type DueOffer struct {
	RequestID   int64
	CandidateID int64
}

// Repository handles ride request and candidate data access. Mutating
// methods take the pgx.Tx opened by InTx so a whole transition commits
// or rolls back as one unit.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new dispatch repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InTx runs fn inside a transaction. Any error from fn rolls the
// transaction back and is returned as-is.
func (r *Repository) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const requestColumns = `
	id, rider_id, rider_session_token,
	pickup_area, pickup_latitude, pickup_longitude,
	destination_label, destination_is_campus, destination_latitude, destination_longitude,
	direction, requested_time, min_rating, preferred_gender,
	status, current_candidate_sequence, current_driver_id, current_driver_session_token,
	rider_name, rider_username, rider_gender, rider_avg_rating, rider_rides_count,
	message, ride_id, created_at, updated_at, last_driver_response_at`

const candidateColumns = `
	id, request_id, sequence, driver_id, driver_session_token,
	driver_name, driver_username, driver_rating, driver_rides, driver_area,
	duration_min, distance_km, maps_url, status,
	assigned_at, responded_at, message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*RideRequest, error) {
	req := &RideRequest{}
	err := row.Scan(
		&req.ID, &req.RiderID, &req.RiderSessionToken,
		&req.PickupArea, &req.PickupLatitude, &req.PickupLongitude,
		&req.DestinationLabel, &req.DestinationIsCampus, &req.DestinationLatitude, &req.DestinationLongitude,
		&req.Direction, &req.RequestedTime, &req.MinRating, &req.PreferredGender,
		&req.Status, &req.CurrentCandidateSequence, &req.CurrentDriverID, &req.CurrentDriverSession,
		&req.Rider.Name, &req.Rider.Username, &req.Rider.Gender, &req.Rider.AvgRatingRider, &req.Rider.RidesCount,
		&req.Message, &req.RideID, &req.CreatedAt, &req.UpdatedAt, &req.LastDriverResponseAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func scanCandidate(row rowScanner) (*Candidate, error) {
	c := &Candidate{}
	err := row.Scan(
		&c.ID, &c.RequestID, &c.Sequence, &c.DriverID, &c.DriverSessionToken,
		&c.DriverName, &c.DriverUsername, &c.DriverRating, &c.DriverRides, &c.DriverArea,
		&c.DurationMin, &c.DistanceKm, &c.MapsURL, &c.Status,
		&c.AssignedAt, &c.RespondedAt, &c.Message, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// InsertRequest persists a new ride request row and fills in the
// generated id and timestamps. A second live request for the same
// rider trips the partial unique index and comes back as
// ErrActiveRequestExists.
func (r *Repository) InsertRequest(ctx context.Context, tx pgx.Tx, req *RideRequest) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO ride_requests (
			rider_id, rider_session_token,
			pickup_area, pickup_latitude, pickup_longitude,
			destination_label, destination_is_campus, destination_latitude, destination_longitude,
			direction, requested_time, min_rating, preferred_gender,
			status, current_candidate_sequence, current_driver_id, current_driver_session_token,
			rider_name, rider_username, rider_gender, rider_avg_rating, rider_rides_count,
			message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		RETURNING id, created_at, updated_at`,
		req.RiderID, req.RiderSessionToken,
		req.PickupArea, req.PickupLatitude, req.PickupLongitude,
		req.DestinationLabel, req.DestinationIsCampus, req.DestinationLatitude, req.DestinationLongitude,
		req.Direction, req.RequestedTime, req.MinRating, req.PreferredGender,
		req.Status, req.CurrentCandidateSequence, req.CurrentDriverID, req.CurrentDriverSession,
		req.Rider.Name, req.Rider.Username, req.Rider.Gender, req.Rider.AvgRatingRider, req.Rider.RidesCount,
		req.Message,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "ride_requests_one_active_per_rider" {
			return ErrActiveRequestExists
		}
		return fmt.Errorf("failed to insert ride request: %w", err)
	}
	return nil
}

// InsertCandidates persists the fan-out rows for a freshly created
// request and fills in the generated ids.
func (r *Repository) InsertCandidates(ctx context.Context, tx pgx.Tx, cands []Candidate) error {
	if len(cands) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range cands {
		c := &cands[i]
		batch.Queue(`
			INSERT INTO ride_request_candidates (
				request_id, sequence, driver_id, driver_session_token,
				driver_name, driver_username, driver_rating, driver_rides, driver_area,
				duration_min, distance_km, maps_url, status, assigned_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id, created_at, updated_at`,
			c.RequestID, c.Sequence, c.DriverID, c.DriverSessionToken,
			c.DriverName, c.DriverUsername, c.DriverRating, c.DriverRides, c.DriverArea,
			c.DurationMin, c.DistanceKm, c.MapsURL, c.Status, c.AssignedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	var scanErr error
	for i := range cands {
		c := &cands[i]
		if err := br.QueryRow().Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil && scanErr == nil {
			scanErr = err
		}
	}
	if err := br.Close(); err != nil && scanErr == nil {
		scanErr = err
	}
	if scanErr != nil {
		return fmt.Errorf("failed to insert candidates: %w", scanErr)
	}
	return nil
}

// ActiveRequestID reports whether the rider already has a request in a
// non-terminal state.
func (r *Repository) ActiveRequestID(ctx context.Context, riderID uuid.UUID) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT id FROM ride_requests
		WHERE rider_id = $1 AND status IN ($2, $3)
		LIMIT 1`,
		riderID, StatusDriverPending, StatusAwaitingRider,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query active request: %w", err)
	}
	return id, true, nil
}

// LatestRequestForRider returns the rider's most recent request,
// terminal or not. pgx.ErrNoRows when the rider never created one.
func (r *Repository) LatestRequestForRider(ctx context.Context, riderID uuid.UUID) (*RideRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM ride_requests
		WHERE rider_id = $1
		ORDER BY id DESC
		LIMIT 1`,
		riderID,
	)
	return scanRequest(row)
}

// LockRequest reads a request row under FOR UPDATE so the whole
// transition serializes against concurrent deciders, cancels and the
// sweeper. pgx.ErrNoRows when the id is unknown.
func (r *Repository) LockRequest(ctx context.Context, tx pgx.Tx, id int64) (*RideRequest, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM ride_requests
		WHERE id = $1
		FOR UPDATE`,
		id,
	)
	return scanRequest(row)
}

// GetCandidate reads one candidate row by id inside the transaction.
func (r *Repository) GetCandidate(ctx context.Context, tx pgx.Tx, id int64) (*Candidate, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+candidateColumns+`
		FROM ride_request_candidates
		WHERE id = $1`,
		id,
	)
	return scanCandidate(row)
}

// CandidateForDriver locates the (request, driver) pairing a decision
// refers to. pgx.ErrNoRows when the driver was never fanned out to.
func (r *Repository) CandidateForDriver(ctx context.Context, tx pgx.Tx, requestID int64, driverID uuid.UUID) (*Candidate, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+candidateColumns+`
		FROM ride_request_candidates
		WHERE request_id = $1 AND driver_id = $2`,
		requestID, driverID,
	)
	return scanCandidate(row)
}

// AcceptedCandidate returns the winning candidate of a request.
func (r *Repository) AcceptedCandidate(ctx context.Context, tx pgx.Tx, requestID int64) (*Candidate, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+candidateColumns+`
		FROM ride_request_candidates
		WHERE request_id = $1 AND status = $2`,
		requestID, CandidateAccepted,
	)
	return scanCandidate(row)
}

// CandidateBySequence reads the candidate a request is currently
// parked on. Outside any transaction; used by the status views.
func (r *Repository) CandidateBySequence(ctx context.Context, requestID int64, sequence int) (*Candidate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+candidateColumns+`
		FROM ride_request_candidates
		WHERE request_id = $1 AND sequence = $2`,
		requestID, sequence,
	)
	return scanCandidate(row)
}

// CountCandidates returns the fan-out size of a request.
func (r *Repository) CountCandidates(ctx context.Context, requestID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM ride_request_candidates WHERE request_id = $1`,
		requestID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count candidates: %w", err)
	}
	return n, nil
}

// SetCandidateStatus finalizes one candidate row.
func (r *Repository) SetCandidateStatus(ctx context.Context, tx pgx.Tx, id int64, status CandidateStatus, respondedAt *time.Time, message *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_request_candidates
		SET status = $2,
			responded_at = COALESCE($3, responded_at),
			message = COALESCE($4, message),
			updated_at = now()
		WHERE id = $1`,
		id, status, respondedAt, message,
	)
	if err != nil {
		return fmt.Errorf("failed to update candidate %d: %w", id, err)
	}
	return nil
}

// SetCandidateMapsURL stores the confirm-time route link on the
// accepted candidate.
func (r *Repository) SetCandidateMapsURL(ctx context.Context, tx pgx.Tx, id int64, url string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_request_candidates
		SET maps_url = $2, updated_at = now()
		WHERE id = $1`,
		id, url,
	)
	if err != nil {
		return fmt.Errorf("failed to update candidate maps url: %w", err)
	}
	return nil
}

// SkipOthers finalizes every non-winning candidate still in
// {PENDING, WAITING, REJECTED} as SKIPPED once a driver accepts.
func (r *Repository) SkipOthers(ctx context.Context, tx pgx.Tx, requestID, winnerID int64, respondedAt time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE ride_request_candidates
		SET status = $5,
			responded_at = COALESCE(responded_at, $3),
			updated_at = now()
		WHERE request_id = $1 AND id <> $2 AND status IN ($4, $6, $7)`,
		requestID, winnerID, respondedAt, CandidatePending, CandidateSkipped, CandidateWaiting, CandidateRejected,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to skip other candidates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SkipOpen finalizes every candidate still in {PENDING, WAITING,
// REJECTED} as SKIPPED on a rider cancel. Accepted rows are preserved.
func (r *Repository) SkipOpen(ctx context.Context, tx pgx.Tx, requestID int64, respondedAt time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE ride_request_candidates
		SET status = $3,
			responded_at = COALESCE(responded_at, $2),
			updated_at = now()
		WHERE request_id = $1 AND status IN ($4, $5, $6)`,
		requestID, respondedAt, CandidateSkipped, CandidatePending, CandidateWaiting, CandidateRejected,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to skip open candidates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountPending returns how many offers are currently live for a request.
func (r *Repository) CountPending(ctx context.Context, tx pgx.Tx, requestID int64) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM ride_request_candidates
		WHERE request_id = $1 AND status = $2`,
		requestID, CandidatePending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending candidates: %w", err)
	}
	return n, nil
}

// PromoteNextWaiting moves the lowest-sequence WAITING candidate to
// PENDING and stamps assigned_at. Returns nil when no WAITING row is
// left.
func (r *Repository) PromoteNextWaiting(ctx context.Context, tx pgx.Tx, requestID int64, assignedAt time.Time) (*Candidate, error) {
	row := tx.QueryRow(ctx, `
		UPDATE ride_request_candidates
		SET status = $3, assigned_at = $2, updated_at = now()
		WHERE id = (
			SELECT id FROM ride_request_candidates
			WHERE request_id = $1 AND status = $4
			ORDER BY sequence ASC
			LIMIT 1
		)
		RETURNING `+candidateColumns,
		requestID, assignedAt, CandidatePending, CandidateWaiting,
	)
	cand, err := scanCandidate(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to promote waiting candidate: %w", err)
	}
	return cand, nil
}

// NextPendingCandidate returns the lowest-sequence live offer, or nil
// when none remain.
func (r *Repository) NextPendingCandidate(ctx context.Context, tx pgx.Tx, requestID int64) (*Candidate, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+candidateColumns+`
		FROM ride_request_candidates
		WHERE request_id = $1 AND status = $2
		ORDER BY sequence ASC
		LIMIT 1`,
		requestID, CandidatePending,
	)
	cand, err := scanCandidate(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read next pending candidate: %w", err)
	}
	return cand, nil
}

// SetRequestAwaiting parks the request on the accepting driver and
// moves it to AWAITING_RIDER.
func (r *Repository) SetRequestAwaiting(ctx context.Context, tx pgx.Tx, id int64, sequence int, driverID uuid.UUID, sessionToken string, respondedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $2,
			current_candidate_sequence = $3,
			current_driver_id = $4,
			current_driver_session_token = $5,
			last_driver_response_at = $6,
			updated_at = now()
		WHERE id = $1`,
		id, StatusAwaitingRider, sequence, driverID, sessionToken, respondedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request awaiting rider: %w", err)
	}
	return nil
}

// SetRequestOffer repoints the request at the next live offer and
// keeps (or restores) DRIVER_PENDING.
func (r *Repository) SetRequestOffer(ctx context.Context, tx pgx.Tx, id int64, sequence int, driverID uuid.UUID, sessionToken string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $2,
			current_candidate_sequence = $3,
			current_driver_id = $4,
			current_driver_session_token = $5,
			updated_at = now()
		WHERE id = $1`,
		id, StatusDriverPending, sequence, driverID, sessionToken,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint request offer: %w", err)
	}
	return nil
}

// SetRequestExhausted terminates a request that ran out of candidates
// and clears the current pointer.
func (r *Repository) SetRequestExhausted(ctx context.Context, tx pgx.Tx, id int64, message string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $2,
			current_candidate_sequence = 0,
			current_driver_id = NULL,
			current_driver_session_token = NULL,
			message = $3,
			updated_at = now()
		WHERE id = $1`,
		id, StatusExhausted, message,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request exhausted: %w", err)
	}
	return nil
}

// SetRequestCanceled terminates a request on rider cancel.
func (r *Repository) SetRequestCanceled(ctx context.Context, tx pgx.Tx, id int64, message *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $2,
			message = COALESCE($3, message),
			updated_at = now()
		WHERE id = $1`,
		id, StatusCanceled, message,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request canceled: %w", err)
	}
	return nil
}

// SetRequestCompleted links the booked ride and terminates the request.
func (r *Repository) SetRequestCompleted(ctx context.Context, tx pgx.Tx, id int64, rideID uuid.UUID, message string) error {
	_, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $2,
			ride_id = $3,
			message = $4,
			updated_at = now()
		WHERE id = $1`,
		id, StatusCompleted, rideID, message,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request completed: %w", err)
	}
	return nil
}

// InsertRide books the ride row inside the confirm transaction.
func (r *Repository) InsertRide(ctx context.Context, tx pgx.Tx, ride *rides.Ride) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO rides (
			id, request_id, rider_id, driver_id,
			rider_session_token, driver_session_token,
			pickup_area, destination, requested_time, status, accepted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		ride.ID, ride.RequestID, ride.RiderID, ride.DriverID,
		ride.RiderSessionToken, ride.DriverSessionToken,
		ride.PickupArea, ride.Destination, ride.RequestedTime, ride.Status, ride.AcceptedAt,
	).Scan(&ride.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ride: %w", err)
	}
	return nil
}

// CancelRideIfPending cancels the linked ride when the rider cancels
// the request. The status guard keeps completed rides untouched.
func (r *Repository) CancelRideIfPending(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE rides
		SET status = $2
		WHERE id = $1 AND status = $3`,
		rideID, rides.StatusCanceled, rides.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel linked ride: %w", err)
	}
	return nil
}

// GetRideStatus returns the status of a booked ride.
func (r *Repository) GetRideStatus(ctx context.Context, rideID uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRow(ctx, `
		SELECT status FROM rides WHERE id = $1`, rideID,
	).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

// ListOverdueOffers finds live offers assigned before the cutoff. The
// join re-checks the request status but the sweeper still re-reads
// everything under the row lock before acting.
func (r *Repository) ListOverdueOffers(ctx context.Context, cutoff time.Time, limit int) ([]DueOffer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.request_id, c.id
		FROM ride_request_candidates c
		JOIN ride_requests q ON q.id = c.request_id
		WHERE c.status = $1 AND c.assigned_at <= $2 AND q.status = $3
		ORDER BY c.assigned_at ASC
		LIMIT $4`,
		CandidatePending, cutoff, StatusDriverPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue offers: %w", err)
	}
	defer rows.Close()

	var due []DueOffer
	for rows.Next() {
		var d DueOffer
		if err := rows.Scan(&d.RequestID, &d.CandidateID); err != nil {
			return nil, fmt.Errorf("failed to scan overdue offer: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// ListOverdueConfirms finds requests stuck in AWAITING_RIDER past the
// confirmation window.
func (r *Repository) ListOverdueConfirms(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id
		FROM ride_requests
		WHERE status = $1 AND last_driver_response_at <= $2
		ORDER BY last_driver_response_at ASC
		LIMIT $3`,
		StatusAwaitingRider, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue confirmations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan overdue confirmation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DriverQueue builds the two driver-facing lists: live offers awaiting
// a decision and assignments the driver already touched that are still
// in play.
func (r *Repository) DriverQueue(ctx context.Context, driverID uuid.UUID) (*QueueView, error) {
	pending, err := r.queueEntries(ctx, `
		SELECT q.id, c.sequence, q.status, c.status,
			q.pickup_area, q.destination_label, q.destination_is_campus, q.requested_time,
			q.rider_name, q.rider_username, q.rider_gender, q.rider_avg_rating, q.rider_rides_count,
			c.duration_min, c.distance_km, ''::text,
			c.assigned_at, c.responded_at, q.message, NULL::text
		FROM ride_request_candidates c
		JOIN ride_requests q ON q.id = c.request_id
		WHERE c.driver_id = $1 AND c.status = $2 AND q.status = $3
		ORDER BY c.assigned_at ASC NULLS LAST, q.id DESC`,
		driverID, CandidatePending, StatusDriverPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue: %w", err)
	}

	active, err := r.queueEntries(ctx, `
		SELECT q.id, c.sequence, q.status, c.status,
			q.pickup_area, q.destination_label, q.destination_is_campus, q.requested_time,
			q.rider_name, q.rider_username, q.rider_gender, q.rider_avg_rating, q.rider_rides_count,
			c.duration_min, c.distance_km,
			CASE WHEN q.status = $6 THEN c.maps_url ELSE '' END,
			c.assigned_at, c.responded_at, q.message, rd.status::text
		FROM ride_request_candidates c
		JOIN ride_requests q ON q.id = c.request_id
		LEFT JOIN rides rd ON rd.id = q.ride_id
		WHERE c.driver_id = $1
			AND c.status IN ($2, $3)
			AND q.status IN ($4, $6)
			AND (rd.status IS NULL OR rd.status <> $5)
		ORDER BY c.responded_at DESC NULLS LAST, q.id DESC`,
		driverID, CandidateAccepted, CandidateSkipped, StatusAwaitingRider, rides.StatusComplete, StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active queue: %w", err)
	}

	return &QueueView{Pending: pending, Active: active}, nil
}

func (r *Repository) queueEntries(ctx context.Context, query string, args ...any) ([]QueueEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []QueueEntry{}
	for rows.Next() {
		var e QueueEntry
		err := rows.Scan(
			&e.RequestID, &e.Sequence, &e.RequestStatus, &e.CandidateStatus,
			&e.PickupArea, &e.DestinationLabel, &e.DestinationIsCampus, &e.RequestedTime,
			&e.Rider.Name, &e.Rider.Username, &e.Rider.Gender, &e.Rider.AvgRatingRider, &e.Rider.RidesCount,
			&e.DurationMin, &e.DistanceKm, &e.MapsURL,
			&e.AssignedAt, &e.RespondedAt, &e.RequestMessage, &e.RideStatus,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
