package store

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// setOpt adds key only when the value is present, so absent fields stream
// as NULL.
func setOpt[T any](row map[string]bigquery.Value, key string, v *T) {
	if v != nil {
		row[key] = *v
	}
}

func nullStr(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func nullInt(i *int64) bigquery.NullInt64 {
	if i == nil {
		return bigquery.NullInt64{}
	}
	return bigquery.NullInt64{Int64: *i, Valid: true}
}

func nullTime(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func nullDate(d *civil.Date) bigquery.NullDate {
	if d == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: *d, Valid: true}
}

func strPtr(v bigquery.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.StringVal
	return &s
}

func intPtr(v bigquery.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func timePtr(v bigquery.NullTimestamp) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Timestamp
	return &t
}

func datePtr(v bigquery.NullDate) *civil.Date {
	if !v.Valid {
		return nil
	}
	d := v.Date
	return &d
}
