package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgresError is the part of a server-side postgres error worth logging,
// whichever driver produced it.
type PostgresError struct {
	SQLState   string `json:"sqlstate"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

func postgresError(err error) (PostgresError, bool) {
	var pgx *pgconn.PgError
	if stdErrors.As(err, &pgx) {
		return PostgresError{
			SQLState:   pgx.Code,
			Constraint: pgx.ConstraintName,
			Table:      pgx.TableName,
			Detail:     pgx.Detail,
			Message:    pgx.Message,
		}, true
	}
	var pqe *pq.Error
	if stdErrors.As(err, &pqe) {
		return PostgresError{
			SQLState:   string(pqe.Code),
			Constraint: pqe.Constraint,
			Table:      pqe.Table,
			Detail:     pqe.Detail,
			Message:    pqe.Message,
		}, true
	}
	return PostgresError{}, false
}

// SQLState returns the SQLSTATE and constraint carried by err, if any.
func SQLState(err error) (code string, constraint string) {
	pg, _ := postgresError(err)
	return pg.SQLState, pg.Constraint
}

// Diagnostics is the server-side view of an error: never sent to clients.
type Diagnostics struct {
	Message  string
	Code     Code
	Category Category
	Chain    []string
	Postgres *PostgresError
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error(), Category: CategoryOf(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for link := err; link != nil; link = stdErrors.Unwrap(link) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", link, link))
	}
	if pg, ok := postgresError(err); ok {
		d.Postgres = &pg
	}
	return d
}

// LogFields flattens d for structured logging.
func (d Diagnostics) LogFields() map[string]any {
	out := map[string]any{
		"error":          d.Message,
		"error_code":     d.Code,
		"error_category": d.Category,
		"error_chain":    d.Chain,
	}
	if pg := d.Postgres; pg != nil {
		out["pg_sqlstate"] = pg.SQLState
		out["pg_constraint"] = pg.Constraint
		out["pg_table"] = pg.Table
		out["pg_detail"] = pg.Detail
		out["pg_message"] = pg.Message
	}
	return out
}
