// Package dialog turns an appointment form into a remote dialog and seeds
// the local transcript with the assistant greeting.
package dialog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const DefaultLanguage = "en"

// DoctorTypes lists the accepted values of the doctor_type field.
var DoctorTypes = []string{"pediatrician", "surgeon", "therapist"}

// Languages lists the accepted values of the lang field.
var Languages = []string{"en", "es", "fr", "de"}

// Form is the appointment confirmation request submitted by the user.
type Form struct {
	Name                  string `json:"name"`
	Date                  string `json:"date"`
	Time                  string `json:"time"`
	DoctorType            string `json:"doctor_type"`
	Lang                  string `json:"lang"`
	ConfirmAdditionalData string `json:"confirm_additional_data"`
	CancelAdditionalData  string `json:"cancel_additional_data"`
}

// Normalize trims every field and applies the language default.
func (f *Form) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Date = strings.TrimSpace(f.Date)
	f.Time = strings.TrimSpace(f.Time)
	f.DoctorType = strings.ToLower(strings.TrimSpace(f.DoctorType))
	f.Lang = strings.ToLower(strings.TrimSpace(f.Lang))
	f.ConfirmAdditionalData = strings.TrimSpace(f.ConfirmAdditionalData)
	f.CancelAdditionalData = strings.TrimSpace(f.CancelAdditionalData)
	if f.Lang == "" {
		f.Lang = DefaultLanguage
	}
}

// Fields returns the form as ordered name/value pairs in wire order.
func (f Form) Fields() [][2]string {
	return [][2]string{
		{"name", f.Name},
		{"date", f.Date},
		{"time", f.Time},
		{"doctor_type", f.DoctorType},
		{"lang", f.Lang},
		{"confirm_additional_data", f.ConfirmAdditionalData},
		{"cancel_additional_data", f.CancelAdditionalData},
	}
}

// FieldError reports a problem with a single form field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the form and returns every problem found, joined.
// Call Normalize first; an empty lang is reported as missing.
func (f Form) Validate() error {
	var errs []error
	required := func(field, value, msg string) bool {
		if value == "" {
			errs = append(errs, &FieldError{Field: field, Message: msg})
			return false
		}
		return true
	}

	required("name", f.Name, "Name is required")
	if required("date", f.Date, "Date is required") {
		if _, err := time.Parse("2006-01-02", f.Date); err != nil {
			errs = append(errs, &FieldError{Field: "date", Message: "Date must be YYYY-MM-DD"})
		}
	}
	if required("time", f.Time, "Time is required") {
		if _, err := time.Parse("15:04", f.Time); err != nil {
			errs = append(errs, &FieldError{Field: "time", Message: "Time must be HH:MM"})
		}
	}
	if required("doctor_type", f.DoctorType, "Doctor type is required") && !slices.Contains(DoctorTypes, f.DoctorType) {
		errs = append(errs, &FieldError{
			Field:   "doctor_type",
			Message: fmt.Sprintf("Doctor type must be one of %s", strings.Join(DoctorTypes, ", ")),
		})
	}
	if required("lang", f.Lang, "Language is required") && !slices.Contains(Languages, f.Lang) {
		errs = append(errs, &FieldError{
			Field:   "lang",
			Message: fmt.Sprintf("Language must be one of %s", strings.Join(Languages, ", ")),
		})
	}
	return errors.Join(errs...)
}

// FieldErrors extracts per-field messages from an error returned by
// Validate. The first message for a field wins.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	collect(err, out)
	return out
}

func collect(err error, out map[string]string) {
	switch e := err.(type) {
	case nil:
	case *FieldError:
		if _, seen := out[e.Field]; !seen {
			out[e.Field] = e.Message
		}
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			collect(inner, out)
		}
	case interface{ Unwrap() error }:
		collect(e.Unwrap(), out)
	}
}
