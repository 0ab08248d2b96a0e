package schemas

// PersonalInfo holds the candidate's contact details.
type PersonalInfo struct {
	FirstName string `json:"first_name" yaml:"first_name" validate:"required"`
	LastName  string `json:"last_name" yaml:"last_name" validate:"required"`
	Email     string `json:"email" yaml:"email" validate:"required,email"`
	Phone     string `json:"phone,omitempty" yaml:"phone"`
	Location  string `json:"location,omitempty" yaml:"location"`
	LinkedIn  string `json:"linkedin,omitempty" yaml:"linkedin" validate:"omitempty,url"`
	Website   string `json:"website,omitempty" yaml:"website" validate:"omitempty,url"`
}

// Experience is one prior role.
type Experience struct {
	Company     string `json:"company" yaml:"company" validate:"required"`
	Title       string `json:"title" yaml:"title" validate:"required"`
	StartDate   string `json:"start_date,omitempty" yaml:"start_date"`
	EndDate     string `json:"end_date,omitempty" yaml:"end_date"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Education is one degree or program.
type Education struct {
	School string `json:"school" yaml:"school" validate:"required"`
	Degree string `json:"degree,omitempty" yaml:"degree"`
	Field  string `json:"field,omitempty" yaml:"field"`
	Year   string `json:"year,omitempty" yaml:"year"`
}

// Disclosure keys for legally sensitive questions. Values are always
// profile-declared and never generated.
const (
	DisclosureWorkAuthorization = "work_authorization"
	DisclosureSponsorship       = "sponsorship"
	DisclosureVeteran           = "veteran"
	DisclosureDisability        = "disability"
	DisclosureGender            = "gender"
	DisclosureRace              = "race"
	DisclosureCriminalRecord    = "criminal_record"
)

// Profile is the structured candidate data used to answer forms.
type Profile struct {
	UserID      string            `json:"user_id" yaml:"user_id" validate:"required"`
	Personal    PersonalInfo      `json:"personal" yaml:"personal" validate:"required"`
	Experience  []Experience      `json:"experience,omitempty" yaml:"experience" validate:"dive"`
	Education   []Education       `json:"education,omitempty" yaml:"education" validate:"dive"`
	Skills      []string          `json:"skills,omitempty" yaml:"skills"`
	Summary     string            `json:"summary,omitempty" yaml:"summary"`
	ResumePath  string            `json:"-" yaml:"resume_path"`
	Disclosures map[string]string `json:"-" yaml:"disclosures"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	if p.Personal.LastName == "" {
		return p.Personal.FirstName
	}
	return p.Personal.FirstName + " " + p.Personal.LastName
}

// JobContext is the job metadata supplied by the Job Data Provider.
type JobContext struct {
	JobID         string `json:"job_id" yaml:"job_id"`
	Title         string `json:"title" yaml:"title"`
	Company       string `json:"company" yaml:"company"`
	Description   string `json:"description,omitempty" yaml:"description"`
	ApplyURL      string `json:"apply_url" yaml:"apply_url"`
	ATSType       string `json:"ats_type" yaml:"ats_type"`
	ATSComplexity string `json:"ats_complexity,omitempty" yaml:"ats_complexity"`
}
