package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

const ddl = `
CREATE TABLE IF NOT EXISTS faces (
    serial_number                 BIGSERIAL    PRIMARY KEY,
    timestamp                     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    prob_fake_score               REAL         NOT NULL,
    contour_ratio                 REAL         NOT NULL,
    proportion_of_fakes           REAL         NOT NULL,
    prob_fake_threshold           REAL         NOT NULL,
    fake_and_contour_threshold    REAL         NOT NULL,
    mask_threshold                REAL         NOT NULL,
    proportion_of_fakes_threshold REAL         NOT NULL,
    model_identifier              TEXT         NOT NULL DEFAULT '',
    background_run                BOOLEAN      NOT NULL DEFAULT false,
    artifact_location             TEXT         NOT NULL,
    raw_artifact_location         TEXT,
    grid_index                    INTEGER      NOT NULL DEFAULT 0,
    uploaded                      BOOLEAN      NOT NULL DEFAULT false,
    deleted_locally               BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_faces_timestamp ON faces (timestamp);

CREATE TABLE IF NOT EXISTS voices (
    serial_number                 BIGSERIAL    PRIMARY KEY,
    timestamp                     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    score                         REAL         NOT NULL,
    proportion_of_fakes           REAL         NOT NULL,
    threshold                     REAL         NOT NULL,
    proportion_of_fakes_threshold REAL         NOT NULL,
    model_identifier              TEXT         NOT NULL DEFAULT '',
    use_win_reverser              BOOLEAN      NOT NULL DEFAULT false,
    background_run                BOOLEAN      NOT NULL DEFAULT false,
    artifact_location             TEXT         NOT NULL,
    uploaded                      BOOLEAN      NOT NULL DEFAULT false,
    deleted_locally               BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_voices_timestamp ON voices (timestamp);
`

const (
	faceColumns = `serial_number, timestamp, prob_fake_score, contour_ratio, proportion_of_fakes,
		prob_fake_threshold, fake_and_contour_threshold, mask_threshold, proportion_of_fakes_threshold,
		model_identifier, background_run, artifact_location, COALESCE(raw_artifact_location, ''),
		grid_index, uploaded, deleted_locally`
	voiceColumns = `serial_number, timestamp, score, proportion_of_fakes, threshold,
		proportion_of_fakes_threshold, model_identifier, use_win_reverser, background_run,
		artifact_location, uploaded, deleted_locally`
)

// Postgres is a Store backed by a pgx connection pool. All methods are
// safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the tables if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: ping")
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: migrate")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) InsertFace(ctx context.Context, f Face) (int64, error) {
	const q = `
		INSERT INTO faces
		    (timestamp, prob_fake_score, contour_ratio, proportion_of_fakes, prob_fake_threshold,
		     fake_and_contour_threshold, mask_threshold, proportion_of_fakes_threshold,
		     model_identifier, background_run, artifact_location, raw_artifact_location, grid_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13)
		RETURNING serial_number`

	var serial int64
	err := p.pool.QueryRow(ctx, q,
		timestampOrNow(f.Timestamp),
		f.ProbFakeScore,
		f.ContourRatio,
		f.ProportionOfFakes,
		f.ProbFakeThreshold,
		f.FakeAndContourThreshold,
		f.MaskThreshold,
		f.ProportionOfFakesThreshold,
		f.ModelIdentifier,
		f.BackgroundRun,
		f.ArtifactLocation,
		f.RawArtifactLocation,
		f.GridIndex,
	).Scan(&serial)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: insert face")
	}
	return serial, nil
}

func (p *Postgres) InsertVoice(ctx context.Context, v Voice) (int64, error) {
	const q = `
		INSERT INTO voices
		    (timestamp, score, proportion_of_fakes, threshold, proportion_of_fakes_threshold,
		     model_identifier, use_win_reverser, background_run, artifact_location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING serial_number`

	var serial int64
	err := p.pool.QueryRow(ctx, q,
		timestampOrNow(v.Timestamp),
		v.Score,
		v.ProportionOfFakes,
		v.Threshold,
		v.ProportionOfFakesThreshold,
		v.ModelIdentifier,
		v.UseWinReverser,
		v.BackgroundRun,
		v.ArtifactLocation,
	).Scan(&serial)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: insert voice")
	}
	return serial, nil
}

func (p *Postgres) Faces(ctx context.Context) ([]Face, error) {
	return p.queryFaces(ctx, "TRUE")
}

func (p *Postgres) Voices(ctx context.Context) ([]Voice, error) {
	return p.queryVoices(ctx, "TRUE")
}

func (p *Postgres) FacesOlderThan(ctx context.Context, cutoff time.Time) ([]Face, error) {
	return p.queryFaces(ctx, "timestamp < $1 AND NOT deleted_locally", cutoff)
}

func (p *Postgres) VoicesOlderThan(ctx context.Context, cutoff time.Time) ([]Voice, error) {
	return p.queryVoices(ctx, "timestamp < $1 AND NOT deleted_locally", cutoff)
}

func (p *Postgres) FacesNotUploaded(ctx context.Context) ([]Face, error) {
	return p.queryFaces(ctx, "NOT uploaded")
}

func (p *Postgres) VoicesNotUploaded(ctx context.Context) ([]Voice, error) {
	return p.queryVoices(ctx, "NOT uploaded")
}

func (p *Postgres) MarkFaceUploaded(ctx context.Context, serial int64) error {
	return p.mark(ctx, "UPDATE faces SET uploaded = true WHERE serial_number = $1", "face", serial)
}

func (p *Postgres) MarkVoiceUploaded(ctx context.Context, serial int64) error {
	return p.mark(ctx, "UPDATE voices SET uploaded = true WHERE serial_number = $1", "voice", serial)
}

func (p *Postgres) MarkFaceDeleted(ctx context.Context, serial int64) error {
	return p.mark(ctx, "UPDATE faces SET deleted_locally = true WHERE serial_number = $1", "face", serial)
}

func (p *Postgres) MarkVoiceDeleted(ctx context.Context, serial int64) error {
	return p.mark(ctx, "UPDATE voices SET deleted_locally = true WHERE serial_number = $1", "voice", serial)
}

func (p *Postgres) mark(ctx context.Context, q, kind string, serial int64) error {
	tag, err := p.pool.Exec(ctx, q, serial)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStorageFailed, "store: update %s %d", kind, serial)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "%s %d not found", kind, serial)
	}
	return nil
}

func (p *Postgres) queryFaces(ctx context.Context, where string, args ...any) ([]Face, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+faceColumns+" FROM faces WHERE "+where+" ORDER BY serial_number", args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: query faces")
	}
	faces, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Face, error) {
		var f Face
		err := row.Scan(
			&f.SerialNumber, &f.Timestamp, &f.ProbFakeScore, &f.ContourRatio, &f.ProportionOfFakes,
			&f.ProbFakeThreshold, &f.FakeAndContourThreshold, &f.MaskThreshold, &f.ProportionOfFakesThreshold,
			&f.ModelIdentifier, &f.BackgroundRun, &f.ArtifactLocation, &f.RawArtifactLocation,
			&f.GridIndex, &f.Uploaded, &f.DeletedLocally,
		)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan faces: %w", err)
	}
	return faces, nil
}

func (p *Postgres) queryVoices(ctx context.Context, where string, args ...any) ([]Voice, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+voiceColumns+" FROM voices WHERE "+where+" ORDER BY serial_number", args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageFailed, "store: query voices")
	}
	voices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Voice, error) {
		var v Voice
		err := row.Scan(
			&v.SerialNumber, &v.Timestamp, &v.Score, &v.ProportionOfFakes, &v.Threshold,
			&v.ProportionOfFakesThreshold, &v.ModelIdentifier, &v.UseWinReverser, &v.BackgroundRun,
			&v.ArtifactLocation, &v.Uploaded, &v.DeletedLocally,
		)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan voices: %w", err)
	}
	return voices, nil
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
