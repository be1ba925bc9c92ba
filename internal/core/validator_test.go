package core

import (
	"errors"
	"testing"
	"time"

	"expenseterminal/internal/types"
)

type checkoutBody struct {
	Plan string `json:"plan" validate:"required,paid_plan"`
}

type rowBody struct {
	Date   string `json:"date" validate:"required,iso_date"`
	Vendor string `json:"vendor" validate:"required"`
}

type batchBody struct {
	Rows []rowBody `json:"rows" validate:"required,min=1,max=3,dive"`
}

func TestValidator_PaidPlan(t *testing.T) {
	v := NewValidator(testLogger())
	for plan, valid := range map[string]bool{
		"starter": true,
		"plus":    true,
		"free":    false,
		"pro":     false,
		"":        false,
	} {
		err := v.ValidateStruct(checkoutBody{Plan: plan})
		if (err == nil) != valid {
			t.Errorf("plan %q: err = %v, want valid=%v", plan, err, valid)
		}
	}
}

func TestValidator_FieldDetails(t *testing.T) {
	v := NewValidator(testLogger())
	err := v.ValidateStruct(batchBody{Rows: []rowBody{
		{Date: "2026-01-31", Vendor: "Staples"},
		{Date: "31/01/2026", Vendor: ""},
	}})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("code = %q", appErr.Code)
	}
	if appErr.HTTPStatus() != 400 {
		t.Errorf("status = %d", appErr.HTTPStatus())
	}

	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("details = %#v", appErr.Details)
	}
	want := map[string]string{"rows[1].date": "iso_date", "rows[1].vendor": "required"}
	if len(fields) != len(want) {
		t.Fatalf("fields = %+v", fields)
	}
	for _, f := range fields {
		if want[f.Field] != f.Rule {
			t.Errorf("unexpected field error %+v", f)
		}
	}
	if appErr.Message != "invalid value for rows[1].date" {
		t.Errorf("message = %q", appErr.Message)
	}
}

func TestValidator_BatchBounds(t *testing.T) {
	v := NewValidator(testLogger())
	row := rowBody{Date: "2026-01-01", Vendor: "x"}

	if err := v.ValidateStruct(batchBody{}); err == nil {
		t.Error("empty batch should fail")
	}
	if err := v.ValidateStruct(batchBody{Rows: []rowBody{row, row, row, row}}); err == nil {
		t.Error("oversized batch should fail")
	}
	if err := v.ValidateStruct(batchBody{Rows: []rowBody{row}}); err != nil {
		t.Errorf("valid batch failed: %v", err)
	}
}

func TestValidator_NonStruct(t *testing.T) {
	v := NewValidator(testLogger())
	var appErr *types.AppError
	if err := v.ValidateStruct(42); !errors.As(err, &appErr) || appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("err = %v", err)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2026-02-14", want: time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)},
		{in: "2026-02-14T23:30:00-05:00", want: time.Date(2026, 2, 15, 4, 30, 0, 0, time.UTC)},
		{in: "2026-02-30", wantErr: true},
		{in: "02/14/2026", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDate(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil || !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Errorf("ParseDate(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
