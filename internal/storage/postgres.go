package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// NewStore creates a PostgreSQL-backed Store.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

type postgresStore struct {
	db *sqlx.DB
}

type needRow struct {
	ID                  uuid.UUID     `db:"id"`
	ProjectID           uuid.UUID     `db:"project_id"`
	PositionID          uuid.UUID     `db:"position_id"`
	RankingListID       uuid.UUID     `db:"ranking_list_id"`
	Quantity            int           `db:"quantity"`
	AcceptedCount       int           `db:"accepted_count"`
	Strategy            string        `db:"strategy"`
	MaxOffers           sql.NullInt64 `db:"max_offers"`
	ResponseWindowHours int           `db:"response_window_hours"`
	Status              string        `db:"status"`
	CreatedAt           time.Time     `db:"created_at"`
}

func (r needRow) toNeed() core.Need {
	n := core.Need{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		PositionID:          r.PositionID,
		RankingListID:       r.RankingListID,
		Quantity:            r.Quantity,
		AcceptedCount:       r.AcceptedCount,
		Strategy:            core.DispatchStrategy(r.Strategy),
		ResponseWindowHours: r.ResponseWindowHours,
		Status:              core.NeedStatus(r.Status),
		CreatedAt:           r.CreatedAt,
	}
	if r.MaxOffers.Valid {
		v := int(r.MaxOffers.Int64)
		n.MaxOffers = &v
	}
	return n
}

type offerRow struct {
	ID          uuid.UUID      `db:"id"`
	NeedID      uuid.UUID      `db:"need_id"`
	CandidateID uuid.UUID      `db:"candidate_id"`
	Status      string         `db:"status"`
	SentAt      time.Time      `db:"sent_at"`
	ExpiresAt   time.Time      `db:"expires_at"`
	RemindedAt  *time.Time     `db:"reminded_at"`
	RespondedAt *time.Time     `db:"responded_at"`
	Response    sql.NullString `db:"response"`
}

func (r offerRow) toOffer() core.Offer {
	o := core.Offer{
		ID:          r.ID,
		NeedID:      r.NeedID,
		CandidateID: r.CandidateID,
		Status:      core.OfferStatus(r.Status),
		SentAt:      r.SentAt,
		ExpiresAt:   r.ExpiresAt,
		RemindedAt:  r.RemindedAt,
		RespondedAt: r.RespondedAt,
	}
	if r.Response.Valid {
		resp := core.OfferResponse(r.Response.String)
		o.Response = &resp
	}
	return o
}

const needColumns = `id, project_id, position_id, ranking_list_id, quantity, accepted_count,
	strategy, max_offers, response_window_hours, status, created_at`

const offerColumns = `id, need_id, candidate_id, status, sent_at, expires_at, reminded_at, responded_at, response`

func (s *postgresStore) CreateNeed(ctx context.Context, need *core.Need) error {
	query := `INSERT INTO project_needs (` + needColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	var maxOffers sql.NullInt64
	if need.MaxOffers != nil {
		maxOffers = sql.NullInt64{Int64: int64(*need.MaxOffers), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		need.ID, need.ProjectID, need.PositionID, need.RankingListID,
		need.Quantity, need.AcceptedCount, need.Strategy, maxOffers,
		need.ResponseWindowHours, need.Status, need.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert need: %w", err)
	}
	return nil
}

func (s *postgresStore) GetNeed(ctx context.Context, id uuid.UUID) (*core.Need, error) {
	var row needRow
	err := s.db.GetContext(ctx, &row, `SELECT `+needColumns+` FROM project_needs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("need %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("select need: %w", err)
	}
	need := row.toNeed()
	return &need, nil
}

func (s *postgresStore) ListActiveNeeds(ctx context.Context) ([]core.Need, error) {
	var rows []needRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+needColumns+` FROM project_needs WHERE status = $1 ORDER BY id`, core.NeedActive)
	if err != nil {
		return nil, fmt.Errorf("select active needs: %w", err)
	}
	needs := make([]core.Need, 0, len(rows))
	for _, r := range rows {
		needs = append(needs, r.toNeed())
	}
	return needs, nil
}

func (s *postgresStore) SetNeedStatus(ctx context.Context, id uuid.UUID, status core.NeedStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE project_needs SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update need status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("need %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *postgresStore) SetNeedQuantity(ctx context.Context, id uuid.UUID, quantity int) (*core.Need, []core.Offer, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row needRow
	err = tx.GetContext(ctx, &row, `SELECT `+needColumns+` FROM project_needs WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("need %s: %w", id, core.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("lock need: %w", err)
	}
	if quantity < row.AcceptedCount {
		return nil, nil, fmt.Errorf("need %s has %d accepted: %w", id, row.AcceptedCount, core.ErrQuantityBelowAccepted)
	}

	status := core.NeedStatus(row.Status)
	var superseded []core.Offer
	switch {
	case row.AcceptedCount == quantity && status == core.NeedActive:
		status = core.NeedCompleted
		superseded, err = supersedePendingTx(ctx, tx, id, time.Now())
		if err != nil {
			return nil, nil, err
		}
	case row.AcceptedCount < quantity && status == core.NeedCompleted:
		status = core.NeedActive
	}

	_, err = tx.ExecContext(ctx, `UPDATE project_needs SET quantity = $2, status = $3 WHERE id = $1`, id, quantity, status)
	if err != nil {
		return nil, nil, fmt.Errorf("update need quantity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit quantity change: %w", err)
	}

	row.Quantity = quantity
	row.Status = string(status)
	need := row.toNeed()
	return &need, superseded, nil
}

func (s *postgresStore) CloseNeed(ctx context.Context, id uuid.UUID, now time.Time) ([]core.Offer, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row needRow
	err = tx.GetContext(ctx, &row, `SELECT `+needColumns+` FROM project_needs WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("need %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("lock need: %w", err)
	}

	var offerCount int
	if err := tx.GetContext(ctx, &offerCount, `SELECT COUNT(*) FROM offers WHERE need_id = $1`, id); err != nil {
		return nil, fmt.Errorf("count offers: %w", err)
	}

	// A need that never issued an offer is hard-deleted; anything else is
	// archived so its history survives.
	if offerCount == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_needs WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("delete need: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit close: %w", err)
		}
		return nil, nil
	}

	superseded, err := supersedePendingTx(ctx, tx, id, now)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE project_needs SET status = $2 WHERE id = $1`, id, core.NeedArchived); err != nil {
		return nil, fmt.Errorf("archive need: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit close: %w", err)
	}
	return superseded, nil
}

func supersedePendingTx(ctx context.Context, tx *sqlx.Tx, needID uuid.UUID, now time.Time) ([]core.Offer, error) {
	var rows []offerRow
	err := tx.SelectContext(ctx, &rows, `
		UPDATE offers SET status = $3, responded_at = $2
		WHERE need_id = $1 AND status = $4
		RETURNING `+offerColumns, needID, now, core.OfferSuperseded, core.OfferPending)
	if err != nil {
		return nil, fmt.Errorf("supersede pending offers: %w", err)
	}
	superseded := make([]core.Offer, 0, len(rows))
	for _, r := range rows {
		superseded = append(superseded, r.toOffer())
	}
	return superseded, nil
}

func (s *postgresStore) GetPosition(ctx context.Context, id uuid.UUID) (*core.Position, error) {
	var p core.Position
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, hierarchy_level, required_qualification
		FROM positions WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Category, &p.HierarchyLevel, &p.RequiredQualification)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("position %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("select position: %w", err)
	}
	return &p, nil
}

func (s *postgresStore) GetCandidate(ctx context.Context, id uuid.UUID) (*core.Candidate, error) {
	var c core.Candidate
	var quals pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, active, archived, qualifications
		FROM candidates WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Active, &c.Archived, &quals)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("candidate %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("select candidate: %w", err)
	}
	c.Qualifications = quals
	return &c, nil
}

func (s *postgresStore) ListRankedCandidates(ctx context.Context, listID uuid.UUID) ([]RankedCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.email, c.phone, c.active, c.archived, c.qualifications,
		       r.rank, p.hierarchy_level, p.required_qualification
		FROM rankings r
		JOIN candidates c ON c.id = r.candidate_id
		JOIN ranking_lists l ON l.id = r.list_id
		JOIN positions p ON p.id = l.position_id
		WHERE r.list_id = $1`, listID)
	if err != nil {
		return nil, fmt.Errorf("select ranked candidates: %w", err)
	}
	defer rows.Close()

	var out []RankedCandidate
	for rows.Next() {
		var rc RankedCandidate
		var quals pq.StringArray
		err := rows.Scan(&rc.Candidate.ID, &rc.Candidate.Name, &rc.Candidate.Email, &rc.Candidate.Phone,
			&rc.Candidate.Active, &rc.Candidate.Archived, &quals,
			&rc.Rank, &rc.HierarchyLevel, &rc.RequiredQualification)
		if err != nil {
			return nil, fmt.Errorf("scan ranked candidate: %w", err)
		}
		rc.Candidate.Qualifications = quals
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *postgresStore) CreateOffer(ctx context.Context, offer *core.Offer) error {
	query := `INSERT INTO offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var response sql.NullString
	if offer.Response != nil {
		response = sql.NullString{String: string(*offer.Response), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		offer.ID, offer.NeedID, offer.CandidateID, offer.Status,
		offer.SentAt, offer.ExpiresAt, offer.RemindedAt, offer.RespondedAt, response)
	if err != nil {
		// The partial unique index on pending offers per candidate is
		// the cross-need arbitration backstop: the loser of a same-tick
		// race lands here and skips the candidate.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "offers_one_pending_per_candidate" {
			return fmt.Errorf("candidate %s: %w", offer.CandidateID, core.ErrCandidateBusy)
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (s *postgresStore) GetOffer(ctx context.Context, id uuid.UUID) (*core.Offer, error) {
	var row offerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("offer %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("select offer: %w", err)
	}
	offer := row.toOffer()
	return &offer, nil
}

func (s *postgresStore) ListOffersByNeed(ctx context.Context, needID uuid.UUID) ([]core.Offer, error) {
	return s.selectOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE need_id = $1 ORDER BY sent_at`, needID)
}

func (s *postgresStore) ListPendingOffersByCandidate(ctx context.Context, candidateID uuid.UUID) ([]core.Offer, error) {
	return s.selectOffers(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE candidate_id = $1 AND status = 'pending' ORDER BY sent_at`,
		candidateID)
}

func (s *postgresStore) ListPendingOffers(ctx context.Context) ([]core.Offer, error) {
	return s.selectOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE status = 'pending' ORDER BY sent_at`)
}

func (s *postgresStore) selectOffers(ctx context.Context, query string, args ...any) ([]core.Offer, error) {
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select offers: %w", err)
	}
	offers := make([]core.Offer, 0, len(rows))
	for _, r := range rows {
		offers = append(offers, r.toOffer())
	}
	return offers, nil
}

func (s *postgresStore) MarkReminded(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers SET reminded_at = $2
		WHERE id = $1 AND status = 'pending' AND reminded_at IS NULL`, offerID, now)
	if err != nil {
		return false, fmt.Errorf("mark reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reminded rows: %w", err)
	}
	return n == 1, nil
}

func (s *postgresStore) ExpireOffer(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'expired', responded_at = $2
		WHERE id = $1 AND status = 'pending'`, offerID, now)
	if err != nil {
		return false, fmt.Errorf("expire offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire offer rows: %w", err)
	}
	return n == 1, nil
}

func (s *postgresStore) SaveToken(ctx context.Context, token *core.ResponseToken) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Issuing a new token invalidates any prior unused token for the offer.
	_, err = tx.ExecContext(ctx, `DELETE FROM response_tokens WHERE offer_id = $1 AND used_at IS NULL`, token.OfferID)
	if err != nil {
		return fmt.Errorf("invalidate prior token: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO response_tokens (value, offer_id, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		token.Value, token.OfferID, token.ExpiresAt, token.UsedAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token: %w", err)
	}
	return nil
}

func (s *postgresStore) GetLiveToken(ctx context.Context, offerID uuid.UUID) (*core.ResponseToken, error) {
	var tok core.ResponseToken
	err := s.db.QueryRowContext(ctx, `
		SELECT value, offer_id, expires_at, used_at, created_at
		FROM response_tokens WHERE offer_id = $1 AND used_at IS NULL`, offerID).
		Scan(&tok.Value, &tok.OfferID, &tok.ExpiresAt, &tok.UsedAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("live token for offer %s: %w", offerID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("select live token: %w", err)
	}
	return &tok, nil
}

func (s *postgresStore) GetTokenContext(ctx context.Context, value string) (*core.OfferContext, *core.ResponseToken, error) {
	var tok core.ResponseToken
	err := s.db.QueryRowContext(ctx, `
		SELECT value, offer_id, expires_at, used_at, created_at
		FROM response_tokens WHERE value = $1`, value).
		Scan(&tok.Value, &tok.OfferID, &tok.ExpiresAt, &tok.UsedAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, core.ErrTokenInvalid
		}
		return nil, nil, fmt.Errorf("select token: %w", err)
	}
	if tok.UsedAt != nil {
		return nil, nil, core.ErrTokenAlreadyUsed
	}
	if time.Now().After(tok.ExpiresAt) {
		return nil, nil, core.ErrTokenExpired
	}

	var octx core.OfferContext
	err = s.db.QueryRowContext(ctx, `
		SELECT o.id, o.need_id, c.name, p.name, l.tier, o.sent_at, o.expires_at
		FROM offers o
		JOIN project_needs n ON n.id = o.need_id
		JOIN candidates c ON c.id = o.candidate_id
		JOIN ranking_lists l ON l.id = n.ranking_list_id
		JOIN positions p ON p.id = n.position_id
		WHERE o.id = $1`, tok.OfferID).
		Scan(&octx.OfferID, &octx.NeedID, &octx.CandidateName, &octx.PositionName, &octx.Tier, &octx.SentAt, &octx.ExpiresAt)
	if err != nil {
		return nil, nil, fmt.Errorf("select offer context: %w", err)
	}
	return &octx, &tok, nil
}

func (s *postgresStore) ConsumeToken(ctx context.Context, value string, response core.OfferResponse, now time.Time) (*core.ConsumeResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the token serializes concurrent consumes: exactly one
	// caller proceeds past the used_at check.
	var tok core.ResponseToken
	err = tx.QueryRowContext(ctx, `
		SELECT value, offer_id, expires_at, used_at, created_at
		FROM response_tokens WHERE value = $1 FOR UPDATE`, value).
		Scan(&tok.Value, &tok.OfferID, &tok.ExpiresAt, &tok.UsedAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &core.ConsumeResult{Outcome: core.ConsumeInvalid}, nil
		}
		return nil, fmt.Errorf("lock token: %w", err)
	}
	if tok.UsedAt != nil {
		return &core.ConsumeResult{Outcome: core.ConsumeAlreadyUsed}, nil
	}
	if now.After(tok.ExpiresAt) {
		return &core.ConsumeResult{Outcome: core.ConsumeExpired}, nil
	}

	var offRow offerRow
	err = tx.GetContext(ctx, &offRow, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, tok.OfferID)
	if err != nil {
		return nil, fmt.Errorf("lock offer: %w", err)
	}
	if core.OfferStatus(offRow.Status) != core.OfferPending {
		return &core.ConsumeResult{Outcome: core.ConsumeUnavailable}, nil
	}

	var ndRow needRow
	err = tx.GetContext(ctx, &ndRow, `SELECT `+needColumns+` FROM project_needs WHERE id = $1 FOR UPDATE`, offRow.NeedID)
	if err != nil {
		return nil, fmt.Errorf("lock need: %w", err)
	}
	if core.NeedStatus(ndRow.Status) != core.NeedActive {
		return &core.ConsumeResult{Outcome: core.ConsumeUnavailable}, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE response_tokens SET used_at = $2 WHERE value = $1`, value, now); err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	result := &core.ConsumeResult{}
	var offerStatus core.OfferStatus
	if response == core.ResponseAccepted {
		offerStatus = core.OfferAccepted
		result.Outcome = core.ConsumeAccepted
		ndRow.AcceptedCount++
		if ndRow.AcceptedCount >= ndRow.Quantity {
			ndRow.Status = string(core.NeedCompleted)
			result.NeedCompleted = true
		}
		_, err = tx.ExecContext(ctx, `UPDATE project_needs SET accepted_count = $2, status = $3 WHERE id = $1`,
			ndRow.ID, ndRow.AcceptedCount, ndRow.Status)
		if err != nil {
			return nil, fmt.Errorf("update accepted count: %w", err)
		}
	} else {
		offerStatus = core.OfferDeclined
		result.Outcome = core.ConsumeDeclined
	}

	_, err = tx.ExecContext(ctx, `UPDATE offers SET status = $2, responded_at = $3, response = $4 WHERE id = $1`,
		offRow.ID, offerStatus, now, response)
	if err != nil {
		return nil, fmt.Errorf("update offer: %w", err)
	}

	if result.NeedCompleted {
		result.Superseded, err = supersedePendingTx(ctx, tx, ndRow.ID, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit response: %w", err)
	}

	offRow.Status = string(offerStatus)
	offRow.RespondedAt = &now
	offRow.Response = sql.NullString{String: string(response), Valid: true}
	offer := offRow.toOffer()
	need := ndRow.toNeed()
	result.Offer = &offer
	result.Need = &need
	return result, nil
}
