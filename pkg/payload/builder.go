// Package payload turns input records into eligibility request payloads.
package payload

import (
	"fmt"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/payers"
	"github.com/wehubfusion/Daedalus/pkg/record"
	"github.com/wehubfusion/Daedalus/pkg/schema"
)

// Column aliases, tried in order.
var (
	PayerNameColumns   = []string{"Payor Name", "payer name", "Payer Name"}
	PayerIDColumns     = []string{"ECS ID", "ECS PAYOR ID", "payer id", "Payer ID"}
	MemberIDColumns    = []string{"Member ID", "memberId", "Subscriber ID"}
	FirstNameColumns   = []string{"First Name", "Sub First Name", "firstName"}
	LastNameColumns    = []string{"Last Name", "Sub Last Name", "lastName"}
	BirthDateColumns   = []string{"Sub DOB", "DOB", "Date of Birth", "dateOfBirth"}
	OrganizationColumn = []string{"organizationName", "Organization Name"}
	NPIColumns         = []string{"Org npi", "NPI", "npi"}
	ServiceTypeColumns = []string{"Service Type codes", "serviceTypeCodes"}
	ExternalIDColumns  = []string{"externalPatientId", "External Patient ID"}
)

// minDirectPayerID is the shortest payer id used as a trading partner id without
// a directory lookup.
const minDirectPayerID = 5

// Payload is the eligibility inquiry request body.
type Payload struct {
	TradingPartnerServiceID string     `json:"tradingPartnerServiceId"`
	ExternalPatientID       string     `json:"externalPatientId,omitempty"`
	Subscriber              Subscriber `json:"subscriber"`
	Provider                Provider   `json:"provider"`
	ServiceTypeCodes        []string   `json:"serviceTypeCodes,omitempty"`
}

// Subscriber identifies the insured member.
type Subscriber struct {
	MemberID    string `json:"memberId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Provider identifies the requesting provider.
type Provider struct {
	OrganizationName string `json:"organizationName,omitempty"`
	NPI              string `json:"npi,omitempty"`
}

// fields flattens the payload into the names used by the validation schema.
func (p Payload) fields() map[string]string {
	return map[string]string{
		"tradingPartnerServiceId":   p.TradingPartnerServiceID,
		"subscriber.memberId":       p.Subscriber.MemberID,
		"subscriber.firstName":      p.Subscriber.FirstName,
		"subscriber.lastName":       p.Subscriber.LastName,
		"subscriber.dateOfBirth":    p.Subscriber.DateOfBirth,
		"provider.organizationName": p.Provider.OrganizationName,
		"provider.npi":              p.Provider.NPI,
	}
}

// ValidationError lists every field of a record that failed validation.
type ValidationError struct {
	Position int
	Fields   []schema.FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d failed validation: %s", e.Position, e.Reason())
}

// Reason returns the field errors without the record prefix.
func (e *ValidationError) Reason() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, "; ")
}

// DefaultSchema returns the rules applied to eligibility payloads.
func DefaultSchema() *schema.Schema {
	return (&schema.Schema{
		Name: "eligibility",
		Columns: []*schema.Column{
			{Name: "tradingPartnerServiceId", Required: true, MaxLength: schema.IntPtr(80)},
			{Name: "subscriber.memberId", Required: true, MaxLength: schema.IntPtr(80)},
			{Name: "subscriber.firstName", Required: true, MaxLength: schema.IntPtr(35)},
			{Name: "subscriber.lastName", Required: true, MaxLength: schema.IntPtr(60)},
			{Name: "subscriber.dateOfBirth", Required: true, Format: "yyyymmdd"},
			{Name: "provider.npi", Pattern: `^[0-9]{10}$`},
		},
	}).MustCompile()
}

// Builder converts records into payloads. It holds only read-only state and is
// safe for concurrent use.
type Builder struct {
	directory *payers.Directory
	validator *schema.Validator
	schema    *schema.Schema
}

// Option configures a Builder.
type Option func(*Builder)

// WithSchema replaces the default validation rules.
func WithSchema(s *schema.Schema) Option {
	return func(b *Builder) {
		b.schema = s
	}
}

// NewBuilder creates a builder. The directory may be nil, in which case payer ids
// are used as given.
func NewBuilder(directory *payers.Directory, opts ...Option) *Builder {
	b := &Builder{
		directory: directory,
		validator: schema.NewValidator(),
		schema:    DefaultSchema(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the payload for rec or a *ValidationError.
func (b *Builder) Build(rec record.Record) (Payload, error) {
	p := Payload{
		TradingPartnerServiceID: b.tradingPartner(rec),
		ExternalPatientID:       NormalizeValue(rec.Get(ExternalIDColumns...)),
		Subscriber: Subscriber{
			MemberID:    NormalizeValue(rec.Get(MemberIDColumns...)),
			FirstName:   rec.Get(FirstNameColumns...),
			LastName:    rec.Get(LastNameColumns...),
			DateOfBirth: NormalizeDate(rec.Get(BirthDateColumns...)),
		},
		Provider: Provider{
			OrganizationName: rec.Get(OrganizationColumn...),
			NPI:              NormalizeValue(rec.Get(NPIColumns...)),
		},
		ServiceTypeCodes: splitCodes(rec.Get(ServiceTypeColumns...)),
	}

	result := b.validator.Validate(p.fields(), b.schema)
	if !result.Valid {
		return Payload{}, &ValidationError{Position: rec.Position, Fields: result.Errors}
	}
	return p, nil
}

func (b *Builder) tradingPartner(rec record.Record) string {
	id := NormalizeValue(rec.Get(PayerIDColumns...))
	if len(id) >= minDirectPayerID {
		return id
	}
	if b.directory == nil {
		return id
	}
	resolved, _ := b.directory.Resolve(rec.Get(PayerNameColumns...), id)
	return resolved
}
