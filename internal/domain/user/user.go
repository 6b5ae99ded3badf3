// Package user models the read-only view of users the core consumes from
// the external directory (spec.md §3, §4.B). The core never writes these rows.
package user

import (
	"errors"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrNotFound = errors.New("user not found")

// timezoneRegex mirrors spec.md §6's check-constraint on Users.timezone.
var timezoneRegex = regexp.MustCompile(`^[A-Za-z]+/[A-Za-z_]+$`)

var validate = validator.New()

type User struct {
	ID              string `validate:"required"`
	Email           string `validate:"required,email"`
	FirstName       string `validate:"required"`
	LastName        string `validate:"required"`
	Timezone        string `validate:"required"`
	BirthdayDate    *time.Time
	AnniversaryDate *time.Time
	DeletedAt       *time.Time
}

// Validate checks the directory-boundary shape of a row before the worker
// pool trusts it for a send: well-formed email, non-empty names, an IANA-
// looking timezone string. A row failing this is a data problem external to
// the core, never a storage failure (spec.md §7).
func (u User) Validate() error {
	if err := validate.Struct(u); err != nil {
		return err
	}
	if !u.ValidTimezone() {
		return errors.New("timezone does not look like an IANA zone")
	}
	return nil
}

func (u User) Deleted() bool {
	return u.DeletedAt != nil
}

// ValidTimezone reports whether u.Timezone looks like an IANA zone string.
// This is a shape check only; the timezone resolver still authoritatively
// loads it via time.LoadLocation.
func (u User) ValidTimezone() bool {
	return timezoneRegex.MatchString(u.Timezone)
}

// OccasionDate returns the relevant calendar date for the given occasion
// type, or nil if the user has none on record.
func (u User) OccasionDate(t OccasionType) *time.Time {
	switch t {
	case Anniversary:
		return u.AnniversaryDate
	default:
		return u.BirthdayDate
	}
}

type OccasionType string

const (
	Birthday    OccasionType = "BIRTHDAY"
	Anniversary OccasionType = "ANNIVERSARY"
)
