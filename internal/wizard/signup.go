package wizard

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type SignupStep string

const (
	SignupTerms    SignupStep = "terms"
	SignupVerify   SignupStep = "verify"
	SignupUserInfo SignupStep = "user_info"
	SignupComplete SignupStep = "complete"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^01[016789]-?\d{3,4}-?\d{4}$`)
	codeRe  = regexp.MustCompile(`^\d{6}$`)
)

type Agreements struct {
	Service   bool `json:"service"`
	Privacy   bool `json:"privacy"`
	Marketing bool `json:"marketing"`
}

// UserInfo is filled across steps; empty fields mean "not provided yet".
type UserInfo struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`
	Password string `json:"-"`
}

// merge overlays the non-empty fields of p.
func (u UserInfo) merge(p UserInfo) UserInfo {
	if p.Name != "" {
		u.Name = p.Name
	}
	if p.Email != "" {
		u.Email = p.Email
	}
	if p.Phone != "" {
		u.Phone = p.Phone
	}
	if p.Company != "" {
		u.Company = p.Company
	}
	if p.Password != "" {
		u.Password = p.Password
	}
	return u
}

type SignupFlow struct {
	*Flow[SignupStep]

	agreements Agreements
	user       UserInfo
	code       string
	verified   bool
}

func NewSignupFlow() *SignupFlow {
	return &SignupFlow{
		Flow: NewFlow(SignupTerms, SignupVerify, SignupUserInfo, SignupComplete),
	}
}

func (s *SignupFlow) SetAgreements(a Agreements) { s.agreements = a }

func (s *SignupFlow) Agreements() Agreements { return s.agreements }

// SetUserInfo merges partial into what was collected so far.
func (s *SignupFlow) SetUserInfo(partial UserInfo) {
	s.user = s.user.merge(partial)
}

func (s *SignupFlow) UserInfo() UserInfo { return s.user }

// SetVerificationCode records the code the user typed. MarkVerified is
// called once the backend accepted it.
func (s *SignupFlow) SetVerificationCode(code string) { s.code = code }

func (s *SignupFlow) MarkVerified() { s.verified = true }

func (s *SignupFlow) Verified() bool { return s.verified }

var errNotVerified = errors.New("phone number is not verified")

// ValidateStep checks the data a step requires before moving on.
func (s *SignupFlow) ValidateStep(step SignupStep) error {
	switch step {
	case SignupTerms:
		a := s.agreements
		return validation.ValidateStruct(&a,
			validation.Field(&a.Service, validation.Required.Error("must be accepted")),
			validation.Field(&a.Privacy, validation.Required.Error("must be accepted")),
		)
	case SignupVerify:
		u := s.user
		if err := validation.ValidateStruct(&u,
			validation.Field(&u.Phone, validation.Required, validation.Match(phoneRe)),
		); err != nil {
			return err
		}
		if err := validation.Validate(s.code, validation.Required, validation.Match(codeRe).Error("must be 6 digits")); err != nil {
			return validation.Errors{"code": err}
		}
		if !s.verified {
			return errNotVerified
		}
		return nil
	case SignupUserInfo:
		u := s.user
		return validation.ValidateStruct(&u,
			validation.Field(&u.Name, validation.Required, validation.Length(1, 50)),
			validation.Field(&u.Email, validation.Required, validation.Match(emailRe).Error("must be a valid email address")),
			validation.Field(&u.Phone, validation.Required, validation.Match(phoneRe)),
			validation.Field(&u.Password, validation.Required, validation.Length(8, 64)),
		)
	}
	return nil
}

// Advance validates the current step and moves forward.
func (s *SignupFlow) Advance() error {
	if err := s.ValidateStep(s.Current()); err != nil {
		return err
	}
	s.GoToNextStep()
	return nil
}
