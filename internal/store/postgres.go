package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/rider-api/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Rider(ctx context.Context, id string) (models.Rider, error) {
	var r models.Rider
	var unpaidMode sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, profile_url, is_payment,
		       unpaid_from, unpaid_to, unpaid_km, unpaid_fare, unpaid_mode
		FROM riders WHERE id = $1`, id).Scan(
		&r.ID, &r.Name, &r.Phone, &r.Address, &r.ProfileURL, &r.IsPayment,
		&r.UnpaidFrom, &r.UnpaidTo, &r.UnpaidKm, &r.UnpaidFare, &unpaidMode)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rider{}, ErrNotFound
	}
	if err != nil {
		return models.Rider{}, err
	}
	r.UnpaidMode = models.Mode(unpaidMode.String)

	rides, err := p.pastRides(ctx, id)
	if err != nil {
		return models.Rider{}, err
	}
	r.PastRides = rides

	notices, err := p.Notifications(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Rider{}, err
	}
	r.Notices = notices
	return r, nil
}

func (p *PostgresStore) pastRides(ctx context.Context, riderID string) ([]models.PastRide, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, mode, start_address, destination_address,
		       distance_km, fare, rating, completed_at
		FROM past_rides WHERE rider_id = $1 ORDER BY seq`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PastRide
	for rows.Next() {
		var ride models.PastRide
		var rating sql.NullInt64
		if err := rows.Scan(&ride.ID, &ride.DriverID, &ride.Mode, &ride.StartAddr,
			&ride.DestAddr, &ride.DistanceKm, &ride.Fare, &rating, &ride.CompletedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			ride.Rating = &v
		}
		out = append(out, ride)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateRider(ctx context.Context, r models.Rider) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO riders(id, name, phone, address, profile_url, is_payment)
		VALUES($1,$2,$3,$4,$5,false)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Name, r.Phone, r.Address, r.ProfileURL)
	return err
}

func (p *PostgresStore) UpdateRiderProfile(ctx context.Context, id, name, phone, address, profileURL string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE riders SET
			name        = COALESCE(NULLIF($2,''), name),
			phone       = COALESCE(NULLIF($3,''), phone),
			address     = COALESCE(NULLIF($4,''), address),
			profile_url = COALESCE(NULLIF($5,''), profile_url)
		WHERE id = $1`, id, name, phone, address, profileURL)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) SetPaymentDue(ctx context.Context, id string, ride models.PastRide) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE riders SET is_payment = true,
			unpaid_from = $2, unpaid_to = $3, unpaid_km = $4,
			unpaid_fare = $5, unpaid_mode = $6
		WHERE id = $1`,
		id, ride.StartAddr, ride.DestAddr, ride.DistanceKm, ride.Fare, string(ride.Mode))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) ClearPaymentDue(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE riders SET is_payment = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) Driver(ctx context.Context, id string) (models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, vehicle, lat, lon, online, rating_sum, rated_rides, updated_at
		FROM drivers WHERE id = $1`, id).Scan(
		&d.ID, &d.Name, &d.Vehicle, &d.Loc.Lat, &d.Loc.Lon, &d.Online,
		&d.RatingSum, &d.RatedRides, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers(id, name, vehicle, lat, lon, online, rating_sum, rated_rides, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, vehicle = EXCLUDED.vehicle,
			lat = EXCLUDED.lat, lon = EXCLUDED.lon,
			online = EXCLUDED.online, updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, d.Vehicle, d.Loc.Lat, d.Loc.Lon, d.Online,
		d.RatingSum, d.RatedRides, d.Updated)
	return err
}

// AddDriverRating folds one rating into the ledger in a single UPDATE so
// two concurrent raters can never compute against a stale count.
func (p *PostgresStore) AddDriverRating(ctx context.Context, driverID string, stars int) (models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `
		UPDATE drivers
		SET rating_sum = rating_sum + $2, rated_rides = rated_rides + 1
		WHERE id = $1
		RETURNING id, name, vehicle, lat, lon, online, rating_sum, rated_rides, updated_at`,
		driverID, stars).Scan(
		&d.ID, &d.Name, &d.Vehicle, &d.Loc.Lat, &d.Loc.Lon, &d.Online,
		&d.RatingSum, &d.RatedRides, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) AppendPastRide(ctx context.Context, riderID string, ride models.PastRide) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO past_rides(id, rider_id, driver_id, mode, start_address,
			destination_address, distance_km, fare, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ride.ID, riderID, ride.DriverID, string(ride.Mode), ride.StartAddr,
		ride.DestAddr, ride.DistanceKm, ride.Fare, ride.CompletedAt)
	return err
}

func (p *PostgresStore) SetRideRating(ctx context.Context, riderID, rideID string, stars int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE past_rides SET rating = $3
		WHERE id = $1 AND rider_id = $2 AND rating IS NULL`,
		rideID, riderID, stars)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// distinguish a missing ride from a second rating attempt
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT true FROM past_rides WHERE id = $1 AND rider_id = $2`,
			rideID, riderID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return ErrAlreadyRated
	}
	return nil
}

func (p *PostgresStore) UpsertRequest(ctx context.Context, req models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO requests(rider_id, id, driver_id, pickup_address, drop_address,
			pickup_lat, pickup_lon, drop_lat, drop_lon, mode, status,
			distance_km, fare, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (rider_id) DO UPDATE SET
			id = EXCLUDED.id, driver_id = EXCLUDED.driver_id,
			pickup_address = EXCLUDED.pickup_address, drop_address = EXCLUDED.drop_address,
			pickup_lat = EXCLUDED.pickup_lat, pickup_lon = EXCLUDED.pickup_lon,
			drop_lat = EXCLUDED.drop_lat, drop_lon = EXCLUDED.drop_lon,
			mode = EXCLUDED.mode, status = EXCLUDED.status,
			distance_km = EXCLUDED.distance_km, fare = EXCLUDED.fare,
			created_at = EXCLUDED.created_at,
			accepted_at = NULL, started_at = NULL,
			completed_at = NULL, cancelled_at = NULL, cancelled_by = ''`,
		req.RiderID, req.ID, req.DriverID, req.PickupAddress, req.DropAddress,
		req.Pickup.Lat, req.Pickup.Lon, req.Drop.Lat, req.Drop.Lon,
		string(req.Mode), string(req.Status), req.DistanceKm, req.Fare, req.CreatedAt)
	return err
}

func (p *PostgresStore) ActiveRequest(ctx context.Context, riderID string) (models.RideRequest, error) {
	return p.requestWhere(ctx, riderID, `AND status IN ('pending','accepted','ongoing')`)
}

// Request returns the rider's request row regardless of status, so
// watchers can observe the terminal state of a ride they followed.
func (p *PostgresStore) Request(ctx context.Context, riderID string) (models.RideRequest, error) {
	return p.requestWhere(ctx, riderID, "")
}

func (p *PostgresStore) requestWhere(ctx context.Context, riderID, statusClause string) (models.RideRequest, error) {
	var req models.RideRequest
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT rider_id, id, driver_id, pickup_address, drop_address,
		       pickup_lat, pickup_lon, drop_lat, drop_lon, mode, status,
		       distance_km, fare, created_at, accepted_at, started_at,
		       completed_at, cancelled_at, cancelled_by
		FROM requests
		WHERE rider_id = $1 `+statusClause,
		riderID).Scan(
		&req.RiderID, &req.ID, &req.DriverID, &req.PickupAddress, &req.DropAddress,
		&req.Pickup.Lat, &req.Pickup.Lon, &req.Drop.Lat, &req.Drop.Lon,
		&req.Mode, &req.Status, &req.DistanceKm, &req.Fare, &req.CreatedAt,
		&acceptedAt, &startedAt, &completedAt, &cancelledAt, &req.CancelledBy)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideRequest{}, ErrNotFound
	}
	if err != nil {
		return models.RideRequest{}, err
	}
	req.AcceptedAt = acceptedAt.Time
	req.StartedAt = startedAt.Time
	req.CompletedAt = completedAt.Time
	req.CancelledAt = cancelledAt.Time
	return req, nil
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, req models.RideRequest) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE requests SET driver_id = $2, status = $3,
			accepted_at = NULLIF($4, '0001-01-01T00:00:00Z'::timestamptz),
			started_at = NULLIF($5, '0001-01-01T00:00:00Z'::timestamptz),
			completed_at = NULLIF($6, '0001-01-01T00:00:00Z'::timestamptz),
			cancelled_at = NULLIF($7, '0001-01-01T00:00:00Z'::timestamptz),
			cancelled_by = $8
		WHERE rider_id = $1`,
		req.RiderID, req.DriverID, string(req.Status),
		req.AcceptedAt, req.StartedAt, req.CompletedAt, req.CancelledAt,
		req.CancelledBy)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) PushNotification(ctx context.Context, riderID string, n models.Notification) error {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Unix(0, 0).UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications(rider_id, text, ts, mark) VALUES($1,$2,$3,$4)`,
		riderID, n.Text, ts, n.Mark)
	return err
}

func (p *PostgresStore) Notifications(ctx context.Context, riderID string) ([]models.Notification, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT text, ts, mark FROM notifications WHERE rider_id = $1 ORDER BY id`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.Text, &n.Timestamp, &n.Mark); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, riderID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE notifications SET mark = 'read' WHERE rider_id = $1`, riderID)
	return err
}

func (p *PostgresStore) AppendMessage(ctx context.Context, chatID string, m models.Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chat_messages(chat_id, text, sender_name, rider_id, ts)
		VALUES($1,$2,$3,$4,$5)`,
		chatID, m.Text, m.SenderName, m.RiderID, m.Timestamp)
	return err
}

// Messages returns chat messages in append order (insertion id), not
// timestamp order.
func (p *PostgresStore) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT text, sender_name, rider_id, ts
		FROM chat_messages WHERE chat_id = $1 ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Text, &m.SenderName, &m.RiderID, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
