package wizard

import (
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/suPer8Hu/ola-suite/internal/report"
)

type ReportStep string

const (
	ReportCompany ReportStep = "company"
	ReportType    ReportStep = "type"
	ReportOptions ReportStep = "options"
	ReportReview  ReportStep = "review"
)

// ReportDraft accumulates report settings. Zero fields are "unset".
type ReportDraft struct {
	Company  string
	CorpCode string
	Title    string
	Mode     report.Mode
	Period   string
	Sections []string
	Schedule string
}

func (d ReportDraft) merge(p ReportDraft) ReportDraft {
	if p.Company != "" {
		d.Company = p.Company
	}
	if p.CorpCode != "" {
		d.CorpCode = p.CorpCode
	}
	if p.Title != "" {
		d.Title = p.Title
	}
	if p.Mode != "" {
		d.Mode = p.Mode
	}
	if p.Period != "" {
		d.Period = p.Period
	}
	if p.Sections != nil {
		d.Sections = slices.Clone(p.Sections)
	}
	if p.Schedule != "" {
		d.Schedule = p.Schedule
	}
	return d
}

type ReportFlow struct {
	*Flow[ReportStep]
	draft ReportDraft
}

func NewReportFlow() *ReportFlow {
	return &ReportFlow{
		Flow: NewFlow(ReportCompany, ReportType, ReportOptions, ReportReview),
	}
}

// SetDraft merges partial into the draft.
func (r *ReportFlow) SetDraft(partial ReportDraft) {
	r.draft = r.draft.merge(partial)
}

func (r *ReportFlow) Draft() ReportDraft {
	d := r.draft
	d.Sections = slices.Clone(d.Sections)
	return d
}

func (r *ReportFlow) ValidateStep(step ReportStep) error {
	d := r.draft
	switch step {
	case ReportCompany:
		return validation.ValidateStruct(&d,
			validation.Field(&d.Company, validation.Required),
		)
	case ReportType:
		return validation.ValidateStruct(&d,
			validation.Field(&d.Mode, validation.Required, validation.In(report.ModeAuto, report.ModeManual)),
		)
	case ReportOptions, ReportReview:
		_, err := r.Request()
		return err
	}
	return nil
}

// Advance validates the current step and moves forward.
func (r *ReportFlow) Advance() error {
	if err := r.ValidateStep(r.Current()); err != nil {
		return err
	}
	r.GoToNextStep()
	return nil
}

// Request builds the validated backend request from the draft.
func (r *ReportFlow) Request() (report.Request, error) {
	d := r.draft
	req := report.Request{
		Company:  d.Company,
		CorpCode: d.CorpCode,
		Title:    d.Title,
		Mode:     d.Mode,
		Period:   d.Period,
		Sections: slices.Clone(d.Sections),
		Schedule: d.Schedule,
	}.Normalize()
	if err := req.Validate(); err != nil {
		return report.Request{}, err
	}
	return req, nil
}
