package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"allograft/internal/match/models"
	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
	"allograft/pkg/platform/sentinel"
	txcontext "allograft/pkg/platform/tx"

	_ "embed"
)

//go:embed schema.sql
var schema string

// defaultPostgresTxTimeout caps cascading transactions so a stuck lock never
// hangs a request indefinitely.
const defaultPostgresTxTimeout = 5 * time.Second

// Postgres persists allocation entities in PostgreSQL. Methods join an open
// transaction carried in context (pkg/platform/tx); inside a transaction
// organ loads take a row lock so the status read-modify-write the coordinator
// performs is serialized on the organ row.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// PostgresOption configures a Postgres gateway.
type PostgresOption func(*Postgres)

// WithTxTimeout overrides the default transaction timeout.
func WithTxTimeout(timeout time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.timeout = timeout
	}
}

// NewPostgres constructs a PostgreSQL-backed gateway.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, timeout: defaultPostgresTxTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureSchema creates the tables and invariant indexes if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RunInTx opens one database transaction for the callback. Rollback is
// deferred; commit only happens when the callback succeeds, so a failed
// cascade leaves nothing behind.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return mapPQErr(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), p); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPQErr(err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return p.db
}

// inTx reports whether the context carries an open transaction.
func inTx(ctx context.Context) bool {
	_, ok := txcontext.From(ctx)
	return ok
}

// mapPQErr translates driver errors into sentinels. Serialization failures
// and lock timeouts become ErrUnavailable so the service layer can mark them
// retryable; unique violations become ErrConflict.
func mapPQErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
		}
	}
	return err
}

const organColumns = `id, organ_type, condition, status, retrieval_date, expiration_date,
	donor_blood_type, donor_hla_type, donor_date_of_birth, updated_at`

func (p *Postgres) Organ(ctx context.Context, organID id.OrganID) (*models.Organ, error) {
	query := `SELECT ` + organColumns + ` FROM organs WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(organID))
	return scanOrgan(row)
}

func (p *Postgres) SaveOrgan(ctx context.Context, organ *models.Organ) error {
	query := `
		INSERT INTO organs (` + organColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			organ_type = EXCLUDED.organ_type,
			condition = EXCLUDED.condition,
			status = EXCLUDED.status,
			retrieval_date = EXCLUDED.retrieval_date,
			expiration_date = EXCLUDED.expiration_date,
			donor_blood_type = EXCLUDED.donor_blood_type,
			donor_hla_type = EXCLUDED.donor_hla_type,
			donor_date_of_birth = EXCLUDED.donor_date_of_birth,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.q(ctx).ExecContext(ctx, query,
		uuid.UUID(organ.ID), string(organ.Type), string(organ.Condition), string(organ.Status),
		organ.RetrievalDate, organ.ExpirationDate,
		string(organ.Donor.BloodType), organ.Donor.HLAType, organ.Donor.DateOfBirth,
		organ.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save organ: %w", mapPQErr(err))
	}
	return nil
}

func (p *Postgres) OrgansExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Organ, error) {
	query := `SELECT ` + organColumns + ` FROM organs
		WHERE expiration_date < $1 AND status NOT IN ('transplanted', 'expired')
		ORDER BY expiration_date ASC`
	rows, err := p.q(ctx).QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring organs: %w", mapPQErr(err))
	}
	defer rows.Close()

	var out []*models.Organ
	for rows.Next() {
		organ, err := scanOrgan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, organ)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrgan(row rowScanner) (*models.Organ, error) {
	var (
		organ     models.Organ
		organID   uuid.UUID
		organType string
		condition string
		status    string
		bloodType string
	)
	err := row.Scan(&organID, &organType, &condition, &status,
		&organ.RetrievalDate, &organ.ExpirationDate,
		&bloodType, &organ.Donor.HLAType, &organ.Donor.DateOfBirth, &organ.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan organ: %w", mapPQErr(err))
	}
	organ.ID = id.OrganID(organID)
	organ.Type = models.OrganType(organType)
	organ.Condition = models.OrganCondition(condition)
	organ.Status = models.OrganStatus(status)
	organ.Donor.BloodType = models.BloodType(bloodType)
	return &organ, nil
}

const receiverColumns = `id, blood_type, hla_type, date_of_birth, urgency_status, needed_organ, status, updated_at`

func (p *Postgres) Receiver(ctx context.Context, receiverID id.ReceiverID) (*models.Receiver, error) {
	query := `SELECT ` + receiverColumns + ` FROM receivers WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(receiverID))
	return scanReceiver(row)
}

func (p *Postgres) SaveReceiver(ctx context.Context, receiver *models.Receiver) error {
	query := `
		INSERT INTO receivers (` + receiverColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			blood_type = EXCLUDED.blood_type,
			hla_type = EXCLUDED.hla_type,
			date_of_birth = EXCLUDED.date_of_birth,
			urgency_status = EXCLUDED.urgency_status,
			needed_organ = EXCLUDED.needed_organ,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.q(ctx).ExecContext(ctx, query,
		uuid.UUID(receiver.ID), string(receiver.BloodType), receiver.HLAType,
		receiver.DateOfBirth, receiver.UrgencyStatus, string(receiver.NeededOrgan),
		string(receiver.Status), receiver.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save receiver: %w", mapPQErr(err))
	}
	return nil
}

func (p *Postgres) WaitingReceivers(ctx context.Context, organType models.OrganType) ([]*models.Receiver, error) {
	query := `SELECT ` + receiverColumns + ` FROM receivers
		WHERE status = 'waiting' AND needed_organ = $1`
	rows, err := p.q(ctx).QueryContext(ctx, query, string(organType))
	if err != nil {
		return nil, fmt.Errorf("list waiting receivers: %w", mapPQErr(err))
	}
	defer rows.Close()

	var out []*models.Receiver
	for rows.Next() {
		receiver, err := scanReceiver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, receiver)
	}
	return out, rows.Err()
}

func scanReceiver(row rowScanner) (*models.Receiver, error) {
	var (
		receiver    models.Receiver
		receiverID  uuid.UUID
		bloodType   string
		neededOrgan string
		status      string
	)
	err := row.Scan(&receiverID, &bloodType, &receiver.HLAType, &receiver.DateOfBirth,
		&receiver.UrgencyStatus, &neededOrgan, &status, &receiver.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan receiver: %w", mapPQErr(err))
	}
	receiver.ID = id.ReceiverID(receiverID)
	receiver.BloodType = models.BloodType(bloodType)
	receiver.NeededOrgan = models.OrganType(neededOrgan)
	receiver.Status = models.ReceiverStatus(status)
	return &receiver, nil
}

const compatibilityColumns = `id, organ_id, receiver_id, score, status, match_date, notes, updated_at`

func (p *Postgres) Compatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.Compatibility, error) {
	query := `SELECT ` + compatibilityColumns + ` FROM compatibilities WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(compatibilityID))
	compat, err := scanCompatibility(row)
	if err != nil {
		return nil, err
	}
	return compat, nil
}

func (p *Postgres) SaveCompatibility(ctx context.Context, compatibility *models.Compatibility) error {
	query := `
		INSERT INTO compatibilities (` + compatibilityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			score = EXCLUDED.score,
			status = EXCLUDED.status,
			match_date = EXCLUDED.match_date,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.q(ctx).ExecContext(ctx, query,
		uuid.UUID(compatibility.ID), uuid.UUID(compatibility.OrganID), uuid.UUID(compatibility.ReceiverID),
		compatibility.Score, string(compatibility.Status), compatibility.MatchDate,
		compatibility.Notes, compatibility.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save compatibility: %w", mapPQErr(err))
	}
	return nil
}

func (p *Postgres) ActiveCompatibilityForPair(ctx context.Context, organID id.OrganID, receiverID id.ReceiverID) (*models.Compatibility, error) {
	query := `SELECT ` + compatibilityColumns + ` FROM compatibilities
		WHERE organ_id = $1 AND receiver_id = $2 AND status <> 'rejected'
		LIMIT 1`
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(organID), uuid.UUID(receiverID))
	compat, err := scanCompatibility(row)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return compat, err
}

func (p *Postgres) ConfirmedCompatibilityForOrgan(ctx context.Context, organID id.OrganID) (*models.Compatibility, error) {
	query := `SELECT ` + compatibilityColumns + ` FROM compatibilities
		WHERE organ_id = $1 AND status = 'confirmed'
		LIMIT 1`
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(organID))
	compat, err := scanCompatibility(row)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return compat, err
}

func (p *Postgres) PotentialCompatibilitiesForOrgan(ctx context.Context, organID id.OrganID) ([]*models.Compatibility, error) {
	query := `SELECT ` + compatibilityColumns + ` FROM compatibilities
		WHERE organ_id = $1 AND status = 'potential'
		ORDER BY score DESC`
	return p.queryCompatibilities(ctx, query, uuid.UUID(organID))
}

func (p *Postgres) PotentialCompatibilitiesForReceiver(ctx context.Context, receiverID id.ReceiverID) ([]*models.Compatibility, error) {
	query := `SELECT ` + compatibilityColumns + ` FROM compatibilities
		WHERE receiver_id = $1 AND status = 'potential'
		ORDER BY score DESC`
	return p.queryCompatibilities(ctx, query, uuid.UUID(receiverID))
}

func (p *Postgres) queryCompatibilities(ctx context.Context, query string, args ...any) ([]*models.Compatibility, error) {
	rows, err := p.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list compatibilities: %w", mapPQErr(err))
	}
	defer rows.Close()

	var out []*models.Compatibility
	for rows.Next() {
		compat, err := scanCompatibility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, compat)
	}
	return out, rows.Err()
}

func scanCompatibility(row rowScanner) (*models.Compatibility, error) {
	var (
		compat     models.Compatibility
		compatID   uuid.UUID
		organID    uuid.UUID
		receiverID uuid.UUID
		status     string
	)
	err := row.Scan(&compatID, &organID, &receiverID, &compat.Score, &status,
		&compat.MatchDate, &compat.Notes, &compat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan compatibility: %w", mapPQErr(err))
	}
	compat.ID = id.CompatibilityID(compatID)
	compat.OrganID = id.OrganID(organID)
	compat.ReceiverID = id.ReceiverID(receiverID)
	compat.Status = models.CompatibilityStatus(status)
	return &compat, nil
}

const transportationColumns = `id, organ_id, origin_institution, destination_institution,
	departure_time, estimated_arrival_time, actual_arrival_time, status, updated_at`

func (p *Postgres) Transportation(ctx context.Context, transportID id.TransportationID) (*models.Transportation, error) {
	query := `SELECT ` + transportationColumns + ` FROM transportations WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(transportID))
	var (
		transport  models.Transportation
		tID        uuid.UUID
		organID    uuid.UUID
		arrival    sql.NullTime
		statusText string
	)
	err := row.Scan(&tID, &organID, &transport.OriginInstitution, &transport.DestinationInstitution,
		&transport.DepartureTime, &transport.EstimatedArrivalTime, &arrival, &statusText, &transport.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transportation: %w", mapPQErr(err))
	}
	transport.ID = id.TransportationID(tID)
	transport.OrganID = id.OrganID(organID)
	transport.Status = models.TransportationStatus(statusText)
	if arrival.Valid {
		transport.ActualArrivalTime = &arrival.Time
	}
	return &transport, nil
}

func (p *Postgres) SaveTransportation(ctx context.Context, transport *models.Transportation) error {
	query := `
		INSERT INTO transportations (` + transportationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			origin_institution = EXCLUDED.origin_institution,
			destination_institution = EXCLUDED.destination_institution,
			departure_time = EXCLUDED.departure_time,
			estimated_arrival_time = EXCLUDED.estimated_arrival_time,
			actual_arrival_time = EXCLUDED.actual_arrival_time,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	var arrival sql.NullTime
	if transport.ActualArrivalTime != nil {
		arrival = sql.NullTime{Time: *transport.ActualArrivalTime, Valid: true}
	}
	_, err := p.q(ctx).ExecContext(ctx, query,
		uuid.UUID(transport.ID), uuid.UUID(transport.OrganID),
		transport.OriginInstitution, transport.DestinationInstitution,
		transport.DepartureTime, transport.EstimatedArrivalTime, arrival,
		string(transport.Status), transport.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transportation: %w", mapPQErr(err))
	}
	return nil
}

const procedureColumns = `id, compatibility_id, organ_id, receiver_id, status, outcome,
	scheduled_date, actual_date, duration_minutes, updated_at`

func (p *Postgres) Procedure(ctx context.Context, procedureID id.ProcedureID) (*models.TransplantProcedure, error) {
	query := `SELECT ` + procedureColumns + ` FROM transplant_procedures WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(procedureID))
	procedure, err := scanProcedure(row)
	if err != nil {
		return nil, err
	}
	return procedure, nil
}

func (p *Postgres) SaveProcedure(ctx context.Context, procedure *models.TransplantProcedure) error {
	query := `
		INSERT INTO transplant_procedures (` + procedureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outcome = EXCLUDED.outcome,
			scheduled_date = EXCLUDED.scheduled_date,
			actual_date = EXCLUDED.actual_date,
			duration_minutes = EXCLUDED.duration_minutes,
			updated_at = EXCLUDED.updated_at
	`
	var actual sql.NullTime
	if procedure.ActualDate != nil {
		actual = sql.NullTime{Time: *procedure.ActualDate, Valid: true}
	}
	_, err := p.q(ctx).ExecContext(ctx, query,
		uuid.UUID(procedure.ID), uuid.UUID(procedure.CompatibilityID),
		uuid.UUID(procedure.OrganID), uuid.UUID(procedure.ReceiverID),
		string(procedure.Status), string(procedure.Outcome),
		procedure.ScheduledDate, actual, procedure.DurationMinutes, procedure.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save procedure: %w", mapPQErr(err))
	}
	return nil
}

func (p *Postgres) ProcedureForCompatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.TransplantProcedure, error) {
	query := `SELECT ` + procedureColumns + ` FROM transplant_procedures WHERE compatibility_id = $1`
	row := p.q(ctx).QueryRowContext(ctx, query, uuid.UUID(compatibilityID))
	procedure, err := scanProcedure(row)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return procedure, err
}

func scanProcedure(row rowScanner) (*models.TransplantProcedure, error) {
	var (
		procedure   models.TransplantProcedure
		procedureID uuid.UUID
		compatID    uuid.UUID
		organID     uuid.UUID
		receiverID  uuid.UUID
		status      string
		outcome     string
		actual      sql.NullTime
	)
	err := row.Scan(&procedureID, &compatID, &organID, &receiverID, &status, &outcome,
		&procedure.ScheduledDate, &actual, &procedure.DurationMinutes, &procedure.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan procedure: %w", mapPQErr(err))
	}
	procedure.ID = id.ProcedureID(procedureID)
	procedure.CompatibilityID = id.CompatibilityID(compatID)
	procedure.OrganID = id.OrganID(organID)
	procedure.ReceiverID = id.ReceiverID(receiverID)
	procedure.Status = models.ProcedureStatus(status)
	procedure.Outcome = models.ProcedureOutcome(outcome)
	if actual.Valid {
		procedure.ActualDate = &actual.Time
	}
	return &procedure, nil
}
