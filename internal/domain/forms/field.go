// Package forms compiles admin-authored form schemas into metadata validators.
//
// A schema is an ordered list of typed fields. Each field kind is its own Go
// type implementing Field, so Compile can switch over every kind exhaustively.
package forms

// Kind is the wire name of a field type.
type Kind string

// Field kinds understood by schema version 1.
const (
	KindText            Kind = "text"
	KindTextarea        Kind = "textarea"
	KindNumber          Kind = "number"
	KindSelect          Kind = "select"
	KindCheckbox        Kind = "checkbox"
	KindDate            Kind = "date"
	KindPhone           Kind = "phone"
	KindEmail           Kind = "email"
	KindPhotoCount      Kind = "photo-count"
	KindSignatureToggle Kind = "signature-toggle"
)

// Common holds the attributes every field kind carries.
type Common struct {
	ID       string
	Label    string
	Required bool
	HelpText string
}

// Header returns the shared attributes of a field.
func (c Common) Header() Common { return c }

// Field is implemented only by the field kinds in this package.
type Field interface {
	Kind() Kind
	Header() Common
	sealed()
}

// TextField is a single-line string.
type TextField struct {
	Common
	MaxLength   *int
	Pattern     string
	Placeholder string
}

// TextareaField is a multi-line string.
type TextareaField struct {
	Common
	MaxLength *int
	Rows      *int
}

// NumberField is any JSON number with optional inclusive bounds.
type NumberField struct {
	Common
	Min  *float64
	Max  *float64
	Step *float64
	Unit string
}

// Option is one selectable value of a SelectField.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SelectField accepts one of its option values.
type SelectField struct {
	Common
	Options []Option
}

// CheckboxField is a boolean.
type CheckboxField struct {
	Common
}

// DateField is a calendar date or timestamp string with optional bounds.
type DateField struct {
	Common
	MinDate string
	MaxDate string
}

// PhoneField is a free-form phone number string.
type PhoneField struct {
	Common
}

// EmailField is an email address string.
type EmailField struct {
	Common
}

// PhotoCountField is a non-negative integer count of attached photos.
type PhotoCountField struct {
	Common
	Min *int
	Max *int
}

// SignatureToggleField records whether a signature was captured.
type SignatureToggleField struct {
	Common
}

func (TextField) Kind() Kind            { return KindText }
func (TextareaField) Kind() Kind        { return KindTextarea }
func (NumberField) Kind() Kind          { return KindNumber }
func (SelectField) Kind() Kind          { return KindSelect }
func (CheckboxField) Kind() Kind        { return KindCheckbox }
func (DateField) Kind() Kind            { return KindDate }
func (PhoneField) Kind() Kind           { return KindPhone }
func (EmailField) Kind() Kind           { return KindEmail }
func (PhotoCountField) Kind() Kind      { return KindPhotoCount }
func (SignatureToggleField) Kind() Kind { return KindSignatureToggle }

func (TextField) sealed()            {}
func (TextareaField) sealed()        {}
func (NumberField) sealed()          {}
func (SelectField) sealed()          {}
func (CheckboxField) sealed()        {}
func (DateField) sealed()            {}
func (PhoneField) sealed()           {}
func (EmailField) sealed()           {}
func (PhotoCountField) sealed()      {}
func (SignatureToggleField) sealed() {}
