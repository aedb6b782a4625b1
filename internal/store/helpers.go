package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/projectech/VoiceGuide/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching values that contain s.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%"
}

// scanContacts collects contacts from rows.
func scanContacts(rows *sql.Rows) ([]models.Contact, error) {
	defer rows.Close()
	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.Name, &c.Number); err != nil {
			return nil, fmt.Errorf("scan contact failed: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows failed: %w", err)
	}
	return contacts, nil
}

// scanTranscript collects transcript entries from rows.
func scanTranscript(rows *sql.Rows) ([]models.TranscriptEntry, error) {
	defer rows.Close()
	var entries []models.TranscriptEntry
	for rows.Next() {
		var e models.TranscriptEntry
		var at int64
		if err := rows.Scan(&e.SessionID, &e.Flow, &e.Speaker, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("scan transcript entry failed: %w", err)
		}
		e.Time = time.Unix(0, at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows failed: %w", err)
	}
	return entries, nil
}

// scanReceipts collects receipts from rows.
func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	defer rows.Close()
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var detail sql.NullString
		if err := rows.Scan(&r.SessionID, &r.Action, &r.To, &r.Status, &detail, &r.Time); err != nil {
			return nil, fmt.Errorf("scan receipt failed: %w", err)
		}
		r.Detail = detail.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipt rows failed: %w", err)
	}
	return receipts, nil
}
