package report

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Sections a report can be assembled from.
const (
	SectionOverview    = "overview"
	SectionFinancials  = "financials"
	SectionDisclosures = "disclosures"
	SectionValuation   = "valuation"
	SectionRisks       = "risks"
)

var knownSections = []any{SectionOverview, SectionFinancials, SectionDisclosures, SectionValuation, SectionRisks}

// DefaultSections is what an auto report covers when none are picked.
var DefaultSections = []string{SectionOverview, SectionFinancials, SectionDisclosures}

var (
	corpCodeRe = regexp.MustCompile(`^\d{8}$`)
	periodRe   = regexp.MustCompile(`^\d{4}(Q[1-4]|H[12])?$`)
)

const (
	maxCompanyLength = 100
	maxTitleLength   = 200
)

// Request asks the backend for one report. Auto reports recur on Schedule;
// manual reports are generated once.
type Request struct {
	Company  string   `json:"company"`
	CorpCode string   `json:"corp_code,omitempty"` // DART corporation code
	Title    string   `json:"title,omitempty"`
	Mode     Mode     `json:"mode"`
	Period   string   `json:"period"` // 2024, 2024Q3 or 2024H1
	Sections []string `json:"sections"`
	Schedule string   `json:"schedule,omitempty"` // daily | weekly | monthly, auto only
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Company,
			validation.Required,
			validation.Length(1, maxCompanyLength),
		),
		validation.Field(&r.CorpCode, validation.Match(corpCodeRe).Error("must be an 8 digit DART code")),
		validation.Field(&r.Title, validation.Length(0, maxTitleLength)),
		validation.Field(&r.Mode,
			validation.Required,
			validation.In(ModeAuto, ModeManual),
		),
		validation.Field(&r.Period,
			validation.Required,
			validation.Match(periodRe).Error("must look like 2024, 2024Q3 or 2024H1"),
		),
		validation.Field(&r.Sections,
			validation.When(r.Mode == ModeManual, validation.Required),
			validation.Each(validation.In(knownSections...)),
		),
		validation.Field(&r.Schedule,
			validation.When(r.Mode == ModeAuto, validation.Required, validation.In("daily", "weekly", "monthly")),
			validation.When(r.Mode == ModeManual, validation.Empty.Error("is only allowed for auto reports")),
		),
	)
}

// Normalize trims fields and fills auto-report defaults.
func (r Request) Normalize() Request {
	r.Company = strings.TrimSpace(r.Company)
	r.CorpCode = strings.TrimSpace(r.CorpCode)
	r.Title = strings.TrimSpace(r.Title)
	r.Period = strings.ToUpper(strings.TrimSpace(r.Period))
	r.Schedule = strings.ToLower(strings.TrimSpace(r.Schedule))
	if r.Mode == ModeAuto && len(r.Sections) == 0 {
		r.Sections = append([]string(nil), DefaultSections...)
	}
	return r
}
