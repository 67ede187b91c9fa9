package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/tracing"
)

const tracerName = "aubus.users"

// Repository handles user, session and zone data access
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new users repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ResolveSession maps a session token to its user. Returns
// pgx.ErrNoRows when the token is unknown; callers translate that to
// an auth failure.
func (r *Repository) ResolveSession(ctx context.Context, token string) (*AuthUser, error) {
	au := &AuthUser{}
	err := r.db.QueryRow(ctx, `
		SELECT u.id, s.token, u.username, u.name, u.gender, u.is_driver
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1`,
		token,
	).Scan(&au.UserID, &au.SessionToken, &au.Username, &au.Name, &au.Gender, &au.IsDriver)
	if err != nil {
		return nil, err
	}
	return au, nil
}

// TouchSession records a heartbeat and the remote endpoint for a
// session. Drivers stay visible to the candidate pool query only while
// their last_seen is fresh.
func (r *Repository) TouchSession(ctx context.Context, token, ip string, port int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET last_seen = now(), ip = $2, port = $3
		WHERE token = $1`,
		token, ip, port,
	)
	return err
}

// GetSessionEndpoint returns the (ip, port) a session last spoke from
func (r *Repository) GetSessionEndpoint(ctx context.Context, token string) (*DriverEndpoint, error) {
	ep := &DriverEndpoint{}
	err := r.db.QueryRow(ctx, `
		SELECT ip, port FROM sessions WHERE token = $1`, token,
	).Scan(&ep.IP, &ep.Port)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// GetRiderSnapshot reads the rider profile fields that get frozen into
// a ride request at creation
func (r *Repository) GetRiderSnapshot(ctx context.Context, riderID uuid.UUID) (*RiderSnapshot, error) {
	snap := &RiderSnapshot{}
	err := r.db.QueryRow(ctx, `
		SELECT name, username, gender, avg_rating_rider, rides_count_rider
		FROM users WHERE id = $1`,
		riderID,
	).Scan(&snap.Name, &snap.Username, &snap.Gender, &snap.AvgRatingRider, &snap.RidesCount)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// OnlineDrivers returns drivers with a fresh session heartbeat that
// pass the rating, gender and zone filters, each joined with today's
// earliest schedule window. One row per driver, freshest session wins.
func (r *Repository) OnlineDrivers(ctx context.Context, filter OnlineDriverFilter) ([]OnlineDriver, error) {
	where := []string{
		"u.is_driver = true",
		"u.latitude IS NOT NULL",
		"u.longitude IS NOT NULL",
		"s.last_seen >= now() - make_interval(mins => $1)",
		"u.avg_rating_driver >= $2",
	}
	args := []interface{}{filter.StalenessMinutes, filter.MinRating}
	argIdx := 3

	if filter.PreferredGender != nil {
		where = append(where, fmt.Sprintf("u.gender = $%d", argIdx))
		args = append(args, *filter.PreferredGender)
		argIdx++
	}
	if filter.ZoneFilter != nil {
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM zones z
			WHERE z.name = $%d
			  AND u.latitude BETWEEN z.min_latitude AND z.max_latitude
			  AND u.longitude BETWEEN z.min_longitude AND z.max_longitude
		)`, argIdx))
		args = append(args, *filter.ZoneFilter)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (u.id)
			u.id, s.token, u.username, u.name, u.gender, u.area,
			u.avg_rating_driver, u.rides_count_driver,
			u.latitude, u.longitude, u.driver_location_state,
			(EXTRACT(EPOCH FROM w.window_start) / 60)::int,
			(EXTRACT(EPOCH FROM w.window_end) / 60)::int
		FROM users u
		JOIN sessions s ON s.user_id = u.id
		LEFT JOIN LATERAL (
			SELECT ds.window_start, ds.window_end
			FROM driver_schedules ds
			WHERE ds.driver_id = u.id AND ds.weekday = $%d
			ORDER BY ds.window_start
			LIMIT 1
		) w ON true
		WHERE %s
		ORDER BY u.id, s.last_seen DESC`, argIdx, strings.Join(where, " AND "))

	args = append(args, filter.Weekday)

	var drivers []OnlineDriver
	err := tracing.TraceDBQuery(ctx, tracerName, "online_drivers", query, func() error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			d := OnlineDriver{}
			if err := rows.Scan(
				&d.DriverID, &d.SessionToken, &d.Username, &d.Name, &d.Gender, &d.Area,
				&d.AvgRatingDriver, &d.RidesCount,
				&d.Latitude, &d.Longitude, &d.LocationState,
				&d.WindowStartMinutes, &d.WindowEndMinutes,
			); err != nil {
				return err
			}
			drivers = append(drivers, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return drivers, nil
}

// GetCoordinates returns a user's last reported position. Either value
// may be nil when the user has never reported one.
func (r *Repository) GetCoordinates(ctx context.Context, userID uuid.UUID) (*float64, *float64, error) {
	var lat, lng *float64
	err := r.db.QueryRow(ctx, `
		SELECT latitude, longitude FROM users WHERE id = $1`, userID,
	).Scan(&lat, &lng)
	if err != nil {
		return nil, nil, err
	}
	return lat, lng, nil
}

// ApplyDriverRating folds one rating into the driver's running average
// in a single statement and returns the new figures. Never retried;
// a lost rating is acceptable, a double-counted one is not.
func (r *Repository) ApplyDriverRating(ctx context.Context, driverID uuid.UUID, rating float64) (float64, int, error) {
	var avg float64
	var count int
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET avg_rating_driver = (avg_rating_driver * rating_count_driver + $2) / (rating_count_driver + 1),
			rating_count_driver = rating_count_driver + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING avg_rating_driver, rating_count_driver`,
		driverID, rating,
	).Scan(&avg, &count)
	return avg, count, err
}

// ApplyRiderRating folds one rating into the rider's running average,
// same shape as ApplyDriverRating
func (r *Repository) ApplyRiderRating(ctx context.Context, riderID uuid.UUID, rating float64) (float64, int, error) {
	var avg float64
	var count int
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET avg_rating_rider = (avg_rating_rider * rating_count_rider + $2) / (rating_count_rider + 1),
			rating_count_rider = rating_count_rider + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING avg_rating_rider, rating_count_rider`,
		riderID, rating,
	).Scan(&avg, &count)
	return avg, count, err
}

// IncrementRideCounts bumps the completed-ride counters shown on
// profiles after a ride finishes
func (r *Repository) IncrementRideCounts(ctx context.Context, driverID, riderID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE users SET rides_count_driver = rides_count_driver + 1, updated_at = now()
		WHERE id = $1`, driverID,
	); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		UPDATE users SET rides_count_rider = rides_count_rider + 1, updated_at = now()
		WHERE id = $1`, riderID,
	)
	return err
}
