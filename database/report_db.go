package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/facette/natsort"

	"github.com/camden-git/rsvpbackend/models"
)

// AttendanceSummary counts active people by response status. People without a
// response count as pending.
type AttendanceSummary struct {
	Attending    int `json:"attending"`
	NotAttending int `json:"not_attending"`
	Pending      int `json:"pending"`
	Total        int `json:"total"`
	Registered   int `json:"registered"`
}

// DietaryEntry is one attending guest with dietary notes.
type DietaryEntry struct {
	PersonID     string `json:"person_id"`
	DisplayName  string `json:"display_name"`
	DietaryNotes string `json:"dietary_notes"`
}

// GetAttendanceSummary aggregates responses of active people.
func GetAttendanceSummary(ctx context.Context, db *sql.DB) (AttendanceSummary, error) {
	var summary AttendanceSummary

	statusExpr := fmt.Sprintf("COALESCE(r.status, '%s')", models.ResponsePending)
	queryBuilder := psql.Select(statusExpr+" AS status", "COUNT(*)").
		From("people p").
		LeftJoin("responses r ON r.owner_id = p.id").
		Where(sq.Eq{"p.deleted_at": nil}).
		GroupBy(statusExpr)

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return summary, fmt.Errorf("failed to build SQL for GetAttendanceSummary: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return summary, fmt.Errorf("failed to execute GetAttendanceSummary query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return summary, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		switch models.ResponseStatus(status) {
		case models.ResponseAttending:
			summary.Attending += count
		case models.ResponseNotAttending:
			summary.NotAttending += count
		default:
			summary.Pending += count
		}
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("error iterating attendance rows: %w", err)
	}

	regBuilder := psql.Select("COUNT(*)").
		From("people").
		Where(sq.Eq{"deleted_at": nil, "account_status": string(models.AccountRegistered)})
	sqlStr, args, err = regBuilder.ToSql()
	if err != nil {
		return summary, fmt.Errorf("failed to build SQL for registered count: %w", err)
	}
	if err := db.QueryRowContext(ctx, sqlStr, args...).Scan(&summary.Registered); err != nil {
		return summary, fmt.Errorf("failed to query registered count: %w", err)
	}

	return summary, nil
}

// ListDietaryNotes returns attending active guests that left dietary notes, in natural
// name order.
func ListDietaryNotes(ctx context.Context, db *sql.DB) ([]DietaryEntry, error) {
	queryBuilder := psql.Select("p.id", "p.first_name", "p.last_name", "r.dietary_notes").
		From("responses r").
		Join("people p ON p.id = r.owner_id").
		Where(sq.Eq{"p.deleted_at": nil, "r.status": string(models.ResponseAttending)}).
		Where(sq.NotEq{"r.dietary_notes": ""})

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListDietaryNotes: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute ListDietaryNotes query: %w", err)
	}
	defer rows.Close()

	entries := []DietaryEntry{}
	for rows.Next() {
		var e DietaryEntry
		var first, last string
		if err := rows.Scan(&e.PersonID, &first, &last, &e.DietaryNotes); err != nil {
			return nil, fmt.Errorf("failed to scan dietary row: %w", err)
		}
		p := models.Person{FirstName: first, LastName: last}
		e.DisplayName = p.DisplayName()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dietary rows: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return natsort.Compare(entries[i].DisplayName, entries[j].DisplayName)
	})
	return entries, nil
}
