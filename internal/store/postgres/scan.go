package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a row in eventColumns order into a model.ActivityEvent.
func scanEvent(row scannable) (*model.ActivityEvent, error) {
	var ev model.ActivityEvent
	var (
		sourceAddr sql.NullString
		destAddr   sql.NullString
		resource   sql.NullString
		action     sql.NullString
		attributes []byte
		sessionID  sql.NullString
	)

	err := row.Scan(
		&ev.ID,
		&ev.ActorID,
		&ev.Kind,
		&ev.Timestamp,
		&sourceAddr,
		&destAddr,
		&resource,
		&action,
		&ev.Outcome,
		&attributes,
		&sessionID,
	)
	if err != nil {
		return nil, err
	}

	ev.SourceAddr = sourceAddr.String
	ev.DestAddr = destAddr.String
	ev.Resource = resource.String
	ev.Action = action.String
	ev.SessionID = sessionID.String

	attrs, err := decodeMap(attributes)
	if err != nil {
		return nil, err
	}
	ev.Attributes = attrs

	return &ev, nil
}

func scanProfile(row scannable) (*model.ActorProfile, error) {
	var p model.ActorProfile
	var (
		displayName sql.NullString
		orgUnit     sql.NullString
		role        sql.NullString
	)

	err := row.Scan(
		&p.ActorID,
		&displayName,
		&orgUnit,
		&role,
		&p.RiskLevel,
		&p.RiskScore,
		&p.AlertCount,
		&p.EventCount,
		&p.SessionCount,
		&p.LastActivity,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.DisplayName = displayName.String
	p.OrgUnit = orgUnit.String
	p.Role = role.String

	return &p, nil
}

func scanSession(row scannable) (*model.SessionRecord, error) {
	var s model.SessionRecord
	var endTime sql.NullTime

	err := row.Scan(
		&s.SessionID,
		&s.ActorID,
		&s.StartTime,
		&endTime,
		&s.DurationSec,
		&s.EventCount,
		&s.ResourceCount,
		&s.ActionCount,
		&s.Status,
	)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}

	return &s, nil
}

func scanPattern(row scannable) (*model.BehaviorPattern, error) {
	var p model.BehaviorPattern
	var eventIDs []byte

	err := row.Scan(
		&p.ID,
		&p.ActorID,
		&p.Kind,
		&p.Category,
		&p.Description,
		&eventIDs,
		&p.Frequency,
		&p.Confidence,
		&p.RiskScore,
		&p.FirstSeen,
		&p.LastSeen,
		&p.Status,
	)
	if err != nil {
		return nil, err
	}

	ids, err := decodeStrings(eventIDs)
	if err != nil {
		return nil, err
	}
	p.EventIDs = ids

	return &p, nil
}

func scanAlert(row scannable) (*model.BehavioralAlert, error) {
	var a model.BehavioralAlert
	var (
		evidence []byte
		metadata []byte
	)

	err := row.Scan(
		&a.ID,
		&a.ActorID,
		&a.Category,
		&a.Severity,
		&a.Description,
		&evidence,
		&a.Timestamp,
		&a.Status,
		&a.RiskScore,
		&a.Confidence,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	ev, err := decodeStrings(evidence)
	if err != nil {
		return nil, err
	}
	a.Evidence = ev

	md, err := decodeMap(metadata)
	if err != nil {
		return nil, err
	}
	a.Metadata = md

	return &a, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbMap marshals a string map for a JSONB column; empty maps store NULL.
func jsonbMap(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// jsonbStrings marshals a string slice for a JSONB column; empty slices store NULL.
func jsonbStrings(s []string) []byte {
	if len(s) == 0 {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return b
}

func decodeMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeStrings(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s, nil
}
