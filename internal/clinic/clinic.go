// Package clinic defines the governed clinical operations and their backends.
package clinic

import (
	"context"
	"errors"

	"github.com/ppiankov/carewatch/internal/registry"
)

// Operation names.
const (
	OpSearchPatient    = "search_patient"
	OpCheckEligibility = "check_insurance_eligibility"
	OpFindSlots        = "find_available_slots"
	OpBookAppointment  = "book_appointment"
)

// Departments accepted by the scheduling operations.
var Departments = []string{"Cardiology", "Neurology", "Orthopedic"}

// ErrPatientNotFound is returned by backends that cannot match a patient.
var ErrPatientNotFound = errors.New("patient not found")

// ErrSlotUnavailable is returned when a slot is unknown or already booked.
var ErrSlotUnavailable = errors.New("slot unavailable")

// Backend is the clinical system the operations call into. Results are
// plain JSON-shaped values so they can be audited and redacted uniformly.
type Backend interface {
	SearchPatient(ctx context.Context, name, dob string) (map[string]any, error)
	CheckEligibility(ctx context.Context, patientID, serviceType string) (map[string]any, error)
	FindSlots(ctx context.Context, department, startDate, endDate string) ([]map[string]any, error)
	BookAppointment(ctx context.Context, patientID, slotID, department string) (map[string]any, error)
}

const (
	idRule   = "min=1,max=64,printascii"
	deptRule = "oneof=Cardiology Neurology Orthopedic"
)

// Operations describes the four clinical operations backed by b.
func Operations(b Backend) []registry.Operation {
	return []registry.Operation{
		{
			Name:        OpSearchPatient,
			Description: "Look up a patient record by full name",
			Params: []registry.Param{
				{Name: "name", Type: registry.TypeString, Rule: "min=2,max=100"},
				{Name: "dob", Type: registry.TypeDate, Optional: true},
			},
			Backend: func(ctx context.Context, args map[string]any) (any, error) {
				return b.SearchPatient(ctx, str(args, "name"), str(args, "dob"))
			},
		},
		{
			Name:        OpCheckEligibility,
			Description: "Check insurance eligibility of a patient for a service",
			Params: []registry.Param{
				{Name: "patient_id", Type: registry.TypeString, Rule: idRule},
				{Name: "service_type", Type: registry.TypeString, Rule: deptRule},
			},
			Backend: func(ctx context.Context, args map[string]any) (any, error) {
				return b.CheckEligibility(ctx, str(args, "patient_id"), str(args, "service_type"))
			},
		},
		{
			Name:        OpFindSlots,
			Description: "List open appointment slots for a department in a date range",
			Params: []registry.Param{
				{Name: "department", Type: registry.TypeString, Rule: deptRule},
				{Name: "start_date", Type: registry.TypeDate},
				{Name: "end_date", Type: registry.TypeDate},
			},
			Backend: func(ctx context.Context, args map[string]any) (any, error) {
				return b.FindSlots(ctx, str(args, "department"), str(args, "start_date"), str(args, "end_date"))
			},
		},
		{
			Name:        OpBookAppointment,
			Description: "Book an appointment slot for a patient",
			Params: []registry.Param{
				{Name: "patient_id", Type: registry.TypeString, Rule: idRule},
				{Name: "slot_id", Type: registry.TypeString, Rule: idRule},
				{Name: "department", Type: registry.TypeString, Rule: deptRule},
			},
			Backend: func(ctx context.Context, args map[string]any) (any, error) {
				return b.BookAppointment(ctx, str(args, "patient_id"), str(args, "slot_id"), str(args, "department"))
			},
		},
	}
}

// NewRegistry builds the registry of clinical operations backed by b.
func NewRegistry(b Backend) (*registry.Registry, error) {
	return registry.New(Operations(b)...)
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
