// Shared row-scanning helpers for the SQL backends.
package store

import (
	"database/sql"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// rowScanner matches *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanProfile reads one profiles row, converting nullable booleans into the
// profile's tri-state pointers.
func scanProfile(row rowScanner) (*models.QualificationProfile, error) {
	var p models.QualificationProfile
	var stage string
	var decisionMaker, existingPlant, newPlant, activeContract, interest sql.NullBool
	err := row.Scan(&p.ConversationKey, &stage, &p.BillValue,
		&decisionMaker, &existingPlant, &newPlant, &activeContract, &interest,
		&p.AttemptsWithoutProgress, &p.GenerationFailures, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Stage = models.Stage(stage)
	p.HasDecisionMaker = boolPtrFromNull(decisionMaker)
	p.HasExistingPlant = boolPtrFromNull(existingPlant)
	p.WantsNewPlant = boolPtrFromNull(newPlant)
	p.HasActiveContract = boolPtrFromNull(activeContract)
	p.InterestConfirmed = boolPtrFromNull(interest)
	return &p, nil
}

func boolPtrFromNull(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

// nullBool converts a tri-state pointer into a nullable column value.
func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
