package clinic

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DefaultPatients is the sandbox roster when none is configured.
var DefaultPatients = []string{"Ravi Kumar"}

// InsuranceProvider is reported for every eligible sandbox patient.
const InsuranceProvider = "ABC Health Insurance"

var slotTimes = []string{"10:00 AM", "11:30 AM", "02:00 PM"}

// Booking is one confirmed sandbox appointment.
type Booking struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	SlotID        string `json:"slot_id"`
	Department    string `json:"department"`
}

// Sandbox is an in-memory Backend for demos and tests. Patients receive
// sequential IDs starting at PAT123; every department offers three slots
// (SLOT123..SLOT125) that disappear once booked.
type Sandbox struct {
	mu       sync.Mutex
	byName   map[string]map[string]any
	byID     map[string]map[string]any
	bookings []Booking
	booked   map[string]bool
}

// NewSandbox creates a sandbox that knows the given patients.
func NewSandbox(patients ...string) *Sandbox {
	if len(patients) == 0 {
		patients = DefaultPatients
	}
	s := &Sandbox{
		byName: make(map[string]map[string]any),
		byID:   make(map[string]map[string]any),
		booked: make(map[string]bool),
	}
	for i, name := range patients {
		rec := map[string]any{
			"patient_id": fmt.Sprintf("PAT%d", 123+i),
			"name":       name,
			"dob":        "1980-01-01",
		}
		s.byName[strings.ToLower(name)] = rec
		s.byID[rec["patient_id"].(string)] = rec
	}
	return s
}

// SearchPatient matches name case-insensitively against the roster.
func (s *Sandbox) SearchPatient(ctx context.Context, name, dob string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPatientNotFound, name)
	}
	if dob != "" && dob != rec["dob"] {
		return nil, fmt.Errorf("%w: %q with dob %s", ErrPatientNotFound, name, dob)
	}
	return map[string]any{
		"patient_id": rec["patient_id"],
		"name":       rec["name"],
		"dob":        rec["dob"],
		"status":     "FOUND",
	}, nil
}

// CheckEligibility reports every known patient as eligible.
func (s *Sandbox) CheckEligibility(ctx context.Context, patientID, serviceType string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := s.byID[patientID]; !ok {
		return nil, fmt.Errorf("%w: id %s", ErrPatientNotFound, patientID)
	}
	return map[string]any{
		"patient_id":   patientID,
		"service_type": serviceType,
		"eligible":     true,
		"provider":     InsuranceProvider,
	}, nil
}

// FindSlots returns the unbooked slots of department, all dated startDate.
func (s *Sandbox) FindSlots(ctx context.Context, department, startDate, endDate string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := []map[string]any{}
	for i, t := range slotTimes {
		id := fmt.Sprintf("SLOT%d", 123+i)
		if s.booked[slotKey(department, id)] {
			continue
		}
		slots = append(slots, map[string]any{
			"slot_id":    id,
			"department": department,
			"date":       startDate,
			"time":       t,
		})
	}
	return slots, nil
}

// BookAppointment confirms slotID for patientID. Appointment IDs are
// sequential starting at APT456.
func (s *Sandbox) BookAppointment(ctx context.Context, patientID, slotID, department string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := s.byID[patientID]; !ok {
		return nil, fmt.Errorf("%w: id %s", ErrPatientNotFound, patientID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !knownSlot(slotID) || s.booked[slotKey(department, slotID)] {
		return nil, fmt.Errorf("%w: %s in %s", ErrSlotUnavailable, slotID, department)
	}
	b := Booking{
		AppointmentID: fmt.Sprintf("APT%d", 456+len(s.bookings)),
		PatientID:     patientID,
		SlotID:        slotID,
		Department:    department,
	}
	s.booked[slotKey(department, slotID)] = true
	s.bookings = append(s.bookings, b)

	return map[string]any{
		"appointment_id": b.AppointmentID,
		"patient_id":     patientID,
		"slot_id":        slotID,
		"department":     department,
		"status":         "CONFIRMED",
	}, nil
}

// Bookings returns a copy of the booking ledger.
func (s *Sandbox) Bookings() []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Booking(nil), s.bookings...)
}

func slotKey(department, slotID string) string {
	return department + "/" + slotID
}

func knownSlot(id string) bool {
	for i := range slotTimes {
		if id == fmt.Sprintf("SLOT%d", 123+i) {
			return true
		}
	}
	return false
}
