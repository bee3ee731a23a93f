package models

import (
	"strings"

	dErrors "allograft/pkg/domain-errors"
)

// BloodType is a closed ABO/Rh enumeration. Unknown strings are rejected at
// the boundary by ParseBloodType rather than trusted downstream.
type BloodType string

const (
	BloodONeg  BloodType = "O-"
	BloodOPos  BloodType = "O+"
	BloodANeg  BloodType = "A-"
	BloodAPos  BloodType = "A+"
	BloodBNeg  BloodType = "B-"
	BloodBPos  BloodType = "B+"
	BloodABNeg BloodType = "AB-"
	BloodABPos BloodType = "AB+"
)

// donorCompatibility maps each donor blood type to the receiver types it can
// donate to, following standard transfusion-compatibility rules. O- donates to
// all eight types; AB+ receivers accept all eight donor types.
var donorCompatibility = map[BloodType][]BloodType{
	BloodONeg:  {BloodONeg, BloodOPos, BloodANeg, BloodAPos, BloodBNeg, BloodBPos, BloodABNeg, BloodABPos},
	BloodOPos:  {BloodOPos, BloodAPos, BloodBPos, BloodABPos},
	BloodANeg:  {BloodANeg, BloodAPos, BloodABNeg, BloodABPos},
	BloodAPos:  {BloodAPos, BloodABPos},
	BloodBNeg:  {BloodBNeg, BloodBPos, BloodABNeg, BloodABPos},
	BloodBPos:  {BloodBPos, BloodABPos},
	BloodABNeg: {BloodABNeg, BloodABPos},
	BloodABPos: {BloodABPos},
}

// CanDonateTo reports whether a donor of this blood type can donate to the
// given receiver type. Total function: any unmapped type yields false, never
// an error.
func (b BloodType) CanDonateTo(receiver BloodType) bool {
	for _, t := range donorCompatibility[b] {
		if t == receiver {
			return true
		}
	}
	return false
}

// Valid reports whether b is one of the eight known types.
func (b BloodType) Valid() bool {
	_, ok := donorCompatibility[b]
	return ok
}

// ParseBloodType validates a caller-supplied blood type string.
func ParseBloodType(raw string) (BloodType, error) {
	b := BloodType(strings.ToUpper(strings.TrimSpace(raw)))
	if !b.Valid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown blood type %q", raw)
	}
	return b, nil
}
