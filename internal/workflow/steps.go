package workflow

import (
	"fmt"
	"time"

	"github.com/ppiankov/carewatch/internal/clinic"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/slots"
)

// Slot names the booking workflow consumes.
const (
	SlotPatient    = "patient"
	SlotDepartment = "department"
	SlotTime       = "time"
)

// Step names, also the keys of Response.Results.
const (
	StepPatient     = "patient"
	StepInsurance   = "insurance"
	StepSlots       = "slots"
	StepAppointment = "appointment"
)

// Symbolic references used in dry-run plans where a live output would
// supply the identifier.
const (
	RefPatientID = "<patient.patient_id>"
	RefSlotID    = "<slots[0].slot_id>"
)

// searchWindow is the slot search range from the requested date.
const searchWindow = 7 * 24 * time.Hour

// run carries one workflow execution's inputs and the identifiers
// extracted from earlier step outputs.
type run struct {
	mode      model.Mode
	resolved  map[string]string
	patientID string
	slotID    string
}

type step struct {
	name  string
	tool  string
	build func(r *run) (map[string]any, error)
	// absorb extracts identifiers later steps need from a live output.
	absorb func(r *run, out any) error
}

var bookingSteps = []step{
	{
		name: StepPatient,
		tool: clinic.OpSearchPatient,
		build: func(r *run) (map[string]any, error) {
			return map[string]any{"name": r.resolved[SlotPatient]}, nil
		},
		absorb: func(r *run, out any) error {
			id, err := field(out, "patient_id")
			r.patientID = id
			return err
		},
	},
	{
		name: StepInsurance,
		tool: clinic.OpCheckEligibility,
		build: func(r *run) (map[string]any, error) {
			return map[string]any{"patient_id": r.patientID, "service_type": r.resolved[SlotDepartment]}, nil
		},
	},
	{
		name: StepSlots,
		tool: clinic.OpFindSlots,
		build: func(r *run) (map[string]any, error) {
			start, err := time.Parse(slots.DateLayout, r.resolved[SlotTime])
			if err != nil {
				return nil, &model.ValidationError{Tool: clinic.OpFindSlots, Param: "start_date", Reason: err.Error()}
			}
			return map[string]any{
				"department": r.resolved[SlotDepartment],
				"start_date": start.Format(slots.DateLayout),
				"end_date":   start.Add(searchWindow).Format(slots.DateLayout),
			}, nil
		},
		absorb: func(r *run, out any) error {
			first, ok := firstItem(out)
			if !ok {
				return fmt.Errorf("no available slots")
			}
			id, err := field(first, "slot_id")
			r.slotID = id
			return err
		},
	},
	{
		name: StepAppointment,
		tool: clinic.OpBookAppointment,
		build: func(r *run) (map[string]any, error) {
			return map[string]any{
				"patient_id": r.patientID,
				"slot_id":    r.slotID,
				"department": r.resolved[SlotDepartment],
			}, nil
		},
	},
}

func field(out any, key string) (string, error) {
	m, ok := out.(map[string]any)
	if !ok {
		return "", fmt.Errorf("output is %T, want an object with %q", out, key)
	}
	v, ok := m[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("output has no %q", key)
	}
	return v, nil
}

func firstItem(out any) (any, bool) {
	switch list := out.(type) {
	case []map[string]any:
		if len(list) > 0 {
			return list[0], true
		}
	case []any:
		if len(list) > 0 {
			return list[0], true
		}
	}
	return nil, false
}
