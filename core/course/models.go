package course

import (
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/simplemooc/simplemooc/core"
)

// Enrollment statuses.
const (
	StatusPending   Status = 0
	StatusApproved  Status = 1
	StatusCancelled Status = 2
)

type Status int

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

type (
	Course struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		Slug        string     `json:"slug"`
		Description string     `json:"description"`
		About       string     `json:"about"`
		StartDate   *time.Time `json:"start_date"`
		Image       string     `json:"image"`
		CreatedAt   time.Time  `json:"created_at"` // UTC
		UpdatedAt   time.Time  `json:"updated_at"` // UTC
	}

	// Enrollment joins a user to a course with an approval status;
	// unique per (user, course).
	Enrollment struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		CourseID  string    `json:"course_id"`
		Status    Status    `json:"status"`
		CreatedAt time.Time `json:"created_at"` // UTC
		UpdatedAt time.Time `json:"updated_at"` // UTC
	}

	// Enrollee is an enrollment row joined with the enrolled user's
	// contact attributes, for notification fan-out.
	Enrollee struct {
		UserID string
		Name   string
		Email  string
	}

	// Lesson belongs to a course; ordered by Number.
	Lesson struct {
		ID          string     `json:"id"`
		CourseID    string     `json:"course_id"`
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Number      int        `json:"number"`
		ReleaseDate *time.Time `json:"release_date"`
		CreatedAt   time.Time  `json:"created_at"` // UTC
	}

	// Material belongs to a lesson; exactly one of Embedded or File is
	// the effective content.
	Material struct {
		ID        string    `json:"id"`
		LessonID  string    `json:"lesson_id"`
		Name      string    `json:"name"`
		Embedded  string    `json:"embedded"`
		File      string    `json:"file"`
		CreatedAt time.Time `json:"created_at"` // UTC
	}

	// Announcement belongs to a course; newest first.
	Announcement struct {
		ID        string    `json:"id"`
		CourseID  string    `json:"course_id"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"` // UTC
		UpdatedAt time.Time `json:"updated_at"` // UTC
	}

	// Comment belongs to an announcement; oldest first.
	Comment struct {
		ID             string    `json:"id"`
		AnnouncementID string    `json:"announcement_id"`
		UserID         string    `json:"user_id"`
		Text           string    `json:"text"`
		CreatedAt      time.Time `json:"created_at"` // UTC
	}
)

func (e Enrollment) IsApproved() bool { return e.Status == StatusApproved }

// IsAvailable reports whether the lesson is released: no release date, or
// one that is not in the future. Evaluated per request, never cached.
func (l Lesson) IsAvailable(now time.Time) bool {
	return l.ReleaseDate == nil || !l.ReleaseDate.After(now)
}

func (m Material) IsEmbedded() bool { return m.Embedded != "" }

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Name        string     `json:"name" validate:"required"`
	Slug        string     `json:"slug" validate:"omitempty,slug"`
	Description string     `json:"description"`
	About       string     `json:"about"`
	StartDate   *time.Time `json:"start_date"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Slug = core.CleanString(nc.Slug, true /* lower */)
	if nc.Slug == "" {
		nc.Slug = Slugify(nc.Name)
	}
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Name        string     `json:"name"`
	Slug        string     `json:"slug" validate:"omitempty,slug"`
	Description *string    `json:"description"`
	About       *string    `json:"about"`
	StartDate   *time.Time `json:"start_date"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Name = core.CleanString(uc.Name)
	uc.Slug = core.CleanString(uc.Slug, true /* lower */)
	return validate.Struct(uc)
}

type NewLesson struct {
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description"`
	Number      int        `json:"number" validate:"min=0"`
	ReleaseDate *time.Time `json:"release_date"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Name = core.CleanString(nl.Name)
	return validate.Struct(nl)
}

type NewMaterial struct {
	Name     string `json:"name" validate:"required"`
	Embedded string `json:"embedded"`
	File     string `json:"file"`
}

func (nm *NewMaterial) Validate(validate *validator.Validate) error {
	nm.Name = core.CleanString(nm.Name)
	if err := validate.Struct(nm); err != nil {
		return err
	}
	if (nm.Embedded == "") == (nm.File == "") {
		return core.NewValidationError(nil, core.FieldError{
			Field: "embedded", Error: "exactly one of embedded content or file is required",
		})
	}
	return nil
}

type NewAnnouncement struct {
	Title   string `json:"title" validate:"required"`
	Content string `json:"content" validate:"required"`
}

func (na *NewAnnouncement) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	return validate.Struct(na)
}

type NewComment struct {
	Text string `json:"text" validate:"required"`
}

func (nc *NewComment) Validate(validate *validator.Validate) error {
	nc.Text = core.CleanString(nc.Text)
	return validate.Struct(nc)
}

type QueryFilter struct {
	Search string `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// Slugify derives a URL slug from a course name: lowercase alphanumeric
// runs joined by single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	prevHyphen := true // no leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteRune('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
