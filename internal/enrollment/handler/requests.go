package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"enrolld/internal/enrollment/models"
	"enrolld/internal/enrollment/service"
	"enrolld/pkg/domain"
	dErrors "enrolld/pkg/domain-errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so error descriptions match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator failures into a single coded error naming
// the first offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.TrimPrefix(fe.Namespace(), strings.Split(fe.Namespace(), ".")[0]+".")
		switch fe.Tag() {
		case "required":
			return dErrors.New(dErrors.CodeValidation, field+" is required")
		case "email":
			return dErrors.New(dErrors.CodeValidation, field+" must be a valid email address")
		case "datetime":
			return dErrors.New(dErrors.CodeValidation, field+" must be a date formatted "+fe.Param())
		case "max":
			return dErrors.New(dErrors.CodeValidation, field+" must be at most "+fe.Param()+" characters")
		default:
			return dErrors.New(dErrors.CodeValidation, field+" is invalid")
		}
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
}

// SelectorsRequest carries catalog references. module_id is optional.
type SelectorsRequest struct {
	ModalityID int64 `json:"modality_id" validate:"gt=0"`
	PlanID     int64 `json:"plan_id" validate:"gt=0"`
	ModuleID   int64 `json:"module_id" validate:"gte=0"`
}

func (s SelectorsRequest) toModel() models.Selectors {
	return models.Selectors{
		ModalityID: domain.ModalityID(s.ModalityID),
		PlanID:     domain.PlanID(s.PlanID),
		ModuleID:   domain.ModuleID(s.ModuleID),
	}
}

// DomicileRequest is the applicant's address as typed on the form.
type DomicileRequest struct {
	Street       string `json:"street" validate:"required,max=120"`
	Number       string `json:"number" validate:"required,max=20"`
	Floor        string `json:"floor" validate:"max=10"`
	Apartment    string `json:"apartment" validate:"max=10"`
	Province     string `json:"province" validate:"required,max=80"`
	City         string `json:"city" validate:"max=80"`
	Neighborhood string `json:"neighborhood" validate:"max=80"`
	PostalCode   string `json:"postal_code" validate:"max=12"`
}

// ProfileRequest is the personal data block of an application.
type ProfileRequest struct {
	FirstName   string          `json:"first_name" validate:"required,max=100"`
	LastName    string          `json:"last_name" validate:"required,max=100"`
	Email       string          `json:"email" validate:"required,email,max=254"`
	Phone       string          `json:"phone" validate:"max=40"`
	BirthDate   string          `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	BirthPlace  string          `json:"birth_place" validate:"max=100"`
	Nationality string          `json:"nationality" validate:"max=60"`
	Gender      string          `json:"gender" validate:"max=20"`
	Domicile    DomicileRequest `json:"domicile"`
}

// SubmitRequest is the body of POST /applications.
type SubmitRequest struct {
	NationalID string           `json:"national_id"`
	Profile    ProfileRequest   `json:"profile"`
	Selectors  SelectorsRequest `json:"selectors"`

	parsedNationalID domain.NationalID
}

// Validate trims free text, checks field rules, and parses the national ID.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	nationalID, err := domain.ParseNationalID(r.NationalID)
	if err != nil {
		return err
	}
	r.parsedNationalID = nationalID

	trimAll(&r.Profile.FirstName, &r.Profile.LastName, &r.Profile.Email, &r.Profile.Phone,
		&r.Profile.BirthDate, &r.Profile.BirthPlace, &r.Profile.Nationality, &r.Profile.Gender)
	d := &r.Profile.Domicile
	trimAll(&d.Street, &d.Number, &d.Floor, &d.Apartment, &d.Province, &d.City, &d.Neighborhood, &d.PostalCode)

	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// Command converts the validated request into the service command.
func (r *SubmitRequest) Command() service.SubmitCommand {
	p := r.Profile
	return service.SubmitCommand{
		NationalID: r.parsedNationalID,
		Profile: models.Profile{
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Email:       strings.ToLower(p.Email),
			Phone:       p.Phone,
			BirthDate:   p.BirthDate,
			BirthPlace:  p.BirthPlace,
			Nationality: p.Nationality,
			Gender:      p.Gender,
			Domicile: models.Domicile{
				Street:       p.Domicile.Street,
				Number:       p.Domicile.Number,
				Floor:        p.Domicile.Floor,
				Apartment:    p.Domicile.Apartment,
				Province:     p.Domicile.Province,
				City:         p.Domicile.City,
				Neighborhood: p.Domicile.Neighborhood,
				PostalCode:   p.Domicile.PostalCode,
			},
		},
		Selectors: r.Selectors.toModel(),
	}
}

// ProcessRequest is the JSON form of a processing trigger. Omitting
// selectors keeps the stored selection.
type ProcessRequest struct {
	Selectors *SelectorsRequest `json:"selectors,omitempty"`
}

// Validate checks the optional selector override.
func (r *ProcessRequest) Validate() error {
	if r == nil || r.Selectors == nil {
		return nil
	}
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// ResetAlarmRequest is the body of POST /admin/applications/{nationalID}/alarm.
type ResetAlarmRequest struct {
	Days   int    `json:"days" validate:"gt=0,lte=365"`
	Reason string `json:"reason" validate:"max=500"`
}

// Validate checks the extension length.
func (r *ResetAlarmRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if err := validate.Struct(r); err != nil {
		if r.Days <= 0 {
			return dErrors.New(dErrors.CodeValidation, "days must be a positive number")
		}
		return validationError(err)
	}
	return nil
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
