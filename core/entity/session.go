package entity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudio/core"
	"github.com/relabs-tech/crudio/core/csql"
	"github.com/relabs-tech/crudio/core/model"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type notification struct {
	resource  string
	operation core.Operation
	payload   []byte
}

// Session is a unit of work, one per request. Writes run in a lazily
// opened transaction; reads run outside of it as long as nothing was
// written. A write error rolls the transaction back before it
// propagates. Lifecycle notifications are collected during the session
// and dispatched only after a successful Commit.
type Session struct {
	registry      *Registry
	db            *csql.DB
	tx            *sql.Tx
	bypass        bool
	notifications []notification
}

// NewSession creates a session on the given database
func (r *Registry) NewSession(db *csql.DB) *Session {
	return &Session{registry: r, db: db}
}

// Bypass runs fn with permission enforcement disabled. The prior
// enforcement state is restored on all exits, including panics.
func (s *Session) Bypass(fn func() error) error {
	prior := s.bypass
	s.bypass = true
	defer func() { s.bypass = prior }()
	return fn()
}

func (s *Session) transaction(ctx context.Context) (*sql.Tx, error) {
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *Session) querier() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// fail aborts the unit of work and returns err
func (s *Session) fail(err error) error {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	s.notifications = nil
	return err
}

func (s *Session) runHooks(ctx context.Context, event Event, rec *Record) error {
	for _, hook := range s.registry.hooksFor(rec.model.Resource(), event) {
		if err := hook(ctx, s, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) notify(rec *Record, operation core.Operation) {
	payload, err := json.Marshal(rec.Object())
	if err != nil {
		return
	}
	s.notifications = append(s.notifications, notification{
		resource:  rec.model.Resource(),
		operation: operation,
		payload:   payload,
	})
}

// Save writes the record, choosing the create or the update path
// depending on whether the record was persisted before.
func (s *Session) Save(ctx context.Context, rec *Record) error {
	if rec.persisted {
		return s.update(ctx, rec)
	}
	return s.create(ctx, rec)
}

// Update writes an already persisted record
func (s *Session) Update(ctx context.Context, rec *Record) error {
	if !rec.persisted {
		return fmt.Errorf("cannot update transient %s record", rec.model.Resource())
	}
	return s.update(ctx, rec)
}

func (s *Session) create(ctx context.Context, rec *Record) error {
	if !s.registry.allowed(ctx, core.OperationCreate, rec, s.bypass) {
		return s.fail(&ForbiddenError{Resource: rec.model.Resource(), Operation: core.OperationCreate})
	}
	if err := s.runHooks(ctx, BeforeCreate, rec); err != nil {
		return s.fail(err)
	}

	tx, err := s.transaction(ctx)
	if err != nil {
		return s.fail(err)
	}
	st := statementsFor(rec.model, s.db.Schema)
	columns := rec.model.Columns()
	parameters := make([]interface{}, len(columns))
	for i, c := range columns {
		value, ok := rec.values[c.Name]
		if parameters[i], err = parameterValue(c, value, ok); err != nil {
			return s.fail(err)
		}
	}
	err = tx.QueryRowContext(ctx, st.insertQuery, parameters...).Scan(&rec.createdAt, &rec.updatedAt)
	if err != nil {
		return s.fail(err)
	}
	rec.persisted = true

	// transient children get their own creation check
	for _, child := range rec.children {
		if child.persisted {
			continue
		}
		if err := s.create(ctx, child); err != nil {
			return err
		}
	}
	if err := s.runHooks(ctx, AfterCreate, rec); err != nil {
		return s.fail(err)
	}
	s.notify(rec, core.OperationCreate)
	return nil
}

func (s *Session) update(ctx context.Context, rec *Record) error {
	if !s.registry.allowed(ctx, core.OperationUpdate, rec, s.bypass) {
		return s.fail(&ForbiddenError{Resource: rec.model.Resource(), Operation: core.OperationUpdate})
	}
	if err := s.runHooks(ctx, BeforeUpdate, rec); err != nil {
		return s.fail(err)
	}

	// new children attached since the last save are created first
	for _, child := range rec.children {
		if child.persisted {
			continue
		}
		if err := s.create(ctx, child); err != nil {
			return err
		}
	}

	tx, err := s.transaction(ctx)
	if err != nil {
		return s.fail(err)
	}
	st := statementsFor(rec.model, s.db.Schema)
	primary := rec.model.Primary().Name
	parameters := []interface{}{rec.Key()}
	for _, c := range rec.model.Columns() {
		if c.Name == primary {
			continue
		}
		value, ok := rec.values[c.Name]
		parameter, err := parameterValue(c, value, ok)
		if err != nil {
			return s.fail(err)
		}
		parameters = append(parameters, parameter)
	}
	err = tx.QueryRowContext(ctx, st.updateQuery, parameters...).Scan(&rec.updatedAt)
	if err == sql.ErrNoRows {
		return s.fail(&NotFoundError{Resource: rec.model.Resource(), Key: rec.Key()})
	}
	if err != nil {
		return s.fail(err)
	}
	if err := s.runHooks(ctx, AfterUpdate, rec); err != nil {
		return s.fail(err)
	}
	s.notify(rec, core.OperationUpdate)
	return nil
}

// Delete removes the record. The record is refreshed first so that the
// policy and the delete hooks see its current state.
func (s *Session) Delete(ctx context.Context, rec *Record) error {
	current, err := s.get(ctx, rec.model, rec.Key())
	if err != nil {
		return s.fail(err)
	}
	if current == nil {
		return s.fail(&NotFoundError{Resource: rec.model.Resource(), Key: rec.Key()})
	}
	rec.values = current.values
	rec.createdAt = current.createdAt
	rec.updatedAt = current.updatedAt
	rec.persisted = true

	if !s.registry.allowed(ctx, core.OperationDelete, rec, s.bypass) {
		return s.fail(&ForbiddenError{Resource: rec.model.Resource(), Operation: core.OperationDelete})
	}
	if err := s.runHooks(ctx, BeforeDelete, rec); err != nil {
		return s.fail(err)
	}
	tx, err := s.transaction(ctx)
	if err != nil {
		return s.fail(err)
	}
	st := statementsFor(rec.model, s.db.Schema)
	if _, err := tx.ExecContext(ctx, st.deleteQuery, rec.Key()); err != nil {
		return s.fail(err)
	}
	if err := s.runHooks(ctx, AfterDelete, rec); err != nil {
		return s.fail(err)
	}
	s.notify(rec, core.OperationDelete)
	rec.persisted = false
	return nil
}

func (s *Session) get(ctx context.Context, m *model.Model, key interface{}) (*Record, error) {
	st := statementsFor(m, s.db.Schema)
	row := s.querier().QueryRowContext(ctx, st.getQuery, key)
	rec, err := scanRecord(m, row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Get reads one record by its primary identifier. A missing record
// returns nil without error; a denied read returns a ForbiddenError, or
// nil when the resource masks denials.
func (s *Session) Get(ctx context.Context, m *model.Model, key interface{}) (*Record, error) {
	rec, err := s.get(ctx, m, key)
	if err != nil {
		return nil, s.fail(err)
	}
	if rec == nil {
		return nil, nil
	}
	return s.guardRead(ctx, rec)
}

// GetOr404 is Get, with a missing record reported as NotFoundError
func (s *Session) GetOr404(ctx context.Context, m *model.Model, key interface{}) (*Record, error) {
	rec, err := s.Get(ctx, m, key)
	if err == nil && rec == nil {
		return nil, &NotFoundError{Resource: m.Resource(), Key: key}
	}
	return rec, err
}

// GetBy reads one record by an arbitrary column, see Get
func (s *Session) GetBy(ctx context.Context, m *model.Model, column string, value interface{}) (*Record, error) {
	if _, ok := m.Column(column); !ok {
		return nil, fmt.Errorf("model %s has no column %s", m.Resource(), column)
	}
	st := statementsFor(m, s.db.Schema)
	query := st.selectQuery + fmt.Sprintf("WHERE \"%s\" = $1 LIMIT 1;", column)
	row := s.querier().QueryRowContext(ctx, query, value)
	rec, err := scanRecord(m, row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(err)
	}
	return s.guardRead(ctx, rec)
}

// GetByOr404 is GetBy, with a missing record reported as NotFoundError
func (s *Session) GetByOr404(ctx context.Context, m *model.Model, column string, value interface{}) (*Record, error) {
	rec, err := s.GetBy(ctx, m, column, value)
	if err == nil && rec == nil {
		return nil, &NotFoundError{Resource: m.Resource(), Key: value}
	}
	return rec, err
}

func (s *Session) guardRead(ctx context.Context, rec *Record) (*Record, error) {
	if s.registry.allowed(ctx, core.OperationRead, rec, s.bypass) {
		return rec, nil
	}
	if s.registry.isMasked(rec.model.Resource()) {
		return nil, nil
	}
	return nil, &ForbiddenError{Resource: rec.model.Resource(), Operation: core.OperationRead}
}

// Commit commits the pending transaction and dispatches the collected
// notifications. On commit failure the notifications are dropped.
func (s *Session) Commit() error {
	if s.tx != nil {
		err := s.tx.Commit()
		s.tx = nil
		if err != nil {
			s.notifications = nil
			return err
		}
	}
	s.registry.mutex.RLock()
	notifier := s.registry.notifier
	s.registry.mutex.RUnlock()
	if notifier != nil {
		for _, n := range s.notifications {
			notifier.Notify(n.resource, n.operation, n.payload)
		}
	}
	s.notifications = nil
	return nil
}

// Rollback discards the pending transaction and all collected
// notifications
func (s *Session) Rollback() error {
	s.notifications = nil
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}
