package course

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/simplemooc/simplemooc/core"
)

var (
	// errors
	ErrNotFound             = errors.New("course not found")
	ErrSlugTaken            = errors.New("a course with this slug already exists")
	ErrLessonNotFound       = errors.New("lesson not found")
	ErrMaterialNotFound     = errors.New("material not found")
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrAlreadyEnrolled      = errors.New("you are already enrolled in this course")
	ErrNotEnrolled          = errors.New("you are not enrolled in this course")
	ErrEnrollmentPending    = errors.New("your enrollment is still pending")
)

type (
	// CourseRepository persists the course catalog.
	CourseRepository interface {
		// CreateCourse fails with ErrSlugTaken when another course
		// already holds the slug; so does UpdateCourse.
		CreateCourse(ctx context.Context, crs Course) (Course, error)
		GetCourseByID(ctx context.Context, id string) (Course, error)
		GetCourseBySlug(ctx context.Context, slug string) (Course, error)
		// QueryCourses orders by name; QueryFilter.Search does a
		// case-insensitive substring match on name or description.
		QueryCourses(ctx context.Context, filter *QueryFilter) ([]Course, error)
		UpdateCourse(ctx context.Context, crs Course) (Course, error)
		// DeleteCourse cascades to lessons, materials, enrollments,
		// announcements and comments.
		DeleteCourse(ctx context.Context, id string) error
	}

	// EnrollmentRepository persists the (user, course) enrollment ledger.
	EnrollmentRepository interface {
		// CreateEnrollment fails with ErrAlreadyEnrolled when the
		// (user, course) pair already exists; uniqueness holds under
		// concurrent inserts.
		CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
		UpdateEnrollmentStatus(ctx context.Context, id string, status Status) (Enrollment, error)
		DeleteEnrollment(ctx context.Context, userID, courseID string) error
		QueryUserCourses(ctx context.Context, userID string) ([]Course, error)
		// QueryEnrollees returns enrollments of the given status joined
		// with the user's name and email.
		QueryEnrollees(ctx context.Context, courseID string, status Status) ([]Enrollee, error)
	}

	// LessonRepository persists lessons, ordered by number.
	LessonRepository interface {
		CreateLesson(ctx context.Context, lsn Lesson) (Lesson, error)
		GetLesson(ctx context.Context, courseID, lessonID string) (Lesson, error)
		QueryLessons(ctx context.Context, courseID string) ([]Lesson, error)
	}

	// MaterialRepository persists lesson materials.
	MaterialRepository interface {
		CreateMaterial(ctx context.Context, mat Material) (Material, error)
		QueryMaterials(ctx context.Context, lessonID string) ([]Material, error)
	}

	// AnnouncementRepository persists announcements (newest first) and
	// their comments (oldest first).
	AnnouncementRepository interface {
		CreateAnnouncement(ctx context.Context, ann Announcement) (Announcement, error)
		GetAnnouncement(ctx context.Context, courseID, announcementID string) (Announcement, error)
		QueryAnnouncements(ctx context.Context, courseID string) ([]Announcement, error)
		CreateComment(ctx context.Context, cmt Comment) (Comment, error)
		QueryComments(ctx context.Context, announcementID string) ([]Comment, error)
	}

	// Repository aggregates the per-entity repositories backing the course domain.
	Repository interface {
		CourseRepository
		EnrollmentRepository
		LessonRepository
		MaterialRepository
		AnnouncementRepository
	}

	Service interface {
		CreateCourse(ctx context.Context, nc NewCourse) (Course, error)
		UpdateCourse(ctx context.Context, id string, uc UpdateCourse) (Course, error)
		DeleteCourse(ctx context.Context, id string) error
		GetCourseBySlug(ctx context.Context, slug string) (Course, error)
		QueryCourses(ctx context.Context, filter *QueryFilter) ([]Course, error)
		SetCourseImage(ctx context.Context, id, image string) (Course, error)

		Enroll(ctx context.Context, userID, courseID string) (Enrollment, error)
		Unenroll(ctx context.Context, userID, courseID string) error
		GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
		QueryUserCourses(ctx context.Context, userID string) ([]Course, error)

		CreateLesson(ctx context.Context, courseID string, nl NewLesson) (Lesson, error)
		GetLesson(ctx context.Context, courseID, lessonID string, includeUnreleased bool) (Lesson, error)
		QueryLessons(ctx context.Context, courseID string, includeUnreleased bool) ([]Lesson, error)
		AddMaterial(ctx context.Context, courseID, lessonID string, nm NewMaterial) (Material, error)
		QueryMaterials(ctx context.Context, lessonID string) ([]Material, error)

		Announce(ctx context.Context, crs Course, na NewAnnouncement) (Announcement, error)
		GetAnnouncement(ctx context.Context, courseID, announcementID string) (Announcement, error)
		QueryAnnouncements(ctx context.Context, courseID string) ([]Announcement, error)
		CommentAnnouncement(ctx context.Context, userID, announcementID string, nc NewComment) (Comment, error)
		QueryComments(ctx context.Context, announcementID string) ([]Comment, error)

		Contact(ctx context.Context, crs Course, cc ContactCourse) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
		logger:  logger,
	}
}

// Catalog

func (svc *service) CreateCourse(ctx context.Context, nc NewCourse) (Course, error) {
	now := time.Now().UTC()
	crs, err := svc.repo.CreateCourse(ctx, Course{
		Name:        nc.Name,
		Slug:        nc.Slug,
		Description: nc.Description,
		About:       nc.About,
		StartDate:   nc.StartDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Course{}, trapSlugTakenErr(err)
	}
	return crs, nil
}

func (svc *service) UpdateCourse(ctx context.Context, id string, uc UpdateCourse) (Course, error) {
	crs, err := svc.repo.GetCourseByID(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if uc.Name != "" {
		crs.Name = uc.Name
	}
	if uc.Slug != "" {
		crs.Slug = uc.Slug
	}
	if uc.Description != nil {
		crs.Description = *uc.Description
	}
	if uc.About != nil {
		crs.About = *uc.About
	}
	if uc.StartDate != nil {
		crs.StartDate = uc.StartDate
	}
	crs.UpdatedAt = time.Now().UTC()
	crs, err = svc.repo.UpdateCourse(ctx, crs)
	if err != nil {
		return Course{}, trapSlugTakenErr(err)
	}
	return crs, nil
}

// trapSlugTakenErr maps a repository slug collision to a field-level
// validation error so the API surfaces it inline.
func trapSlugTakenErr(err error) error {
	if errors.Cause(err) == ErrSlugTaken {
		return core.NewValidationError(nil, core.FieldError{Field: "slug", Error: ErrSlugTaken.Error()})
	}
	return err
}

func (svc *service) DeleteCourse(ctx context.Context, id string) error {
	return svc.repo.DeleteCourse(ctx, id)
}

func (svc *service) GetCourseBySlug(ctx context.Context, slug string) (Course, error) {
	return svc.repo.GetCourseBySlug(ctx, core.CleanString(slug, true /* lower */))
}

func (svc *service) QueryCourses(ctx context.Context, filter *QueryFilter) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter)
}

func (svc *service) SetCourseImage(ctx context.Context, id, image string) (Course, error) {
	crs, err := svc.repo.GetCourseByID(ctx, id)
	if err != nil {
		return Course{}, err
	}
	crs.Image = image
	crs.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCourse(ctx, crs)
}

// Enrollment ledger

// Enroll inserts a Pending enrollment and immediately approves it; no
// moderation step is wired up. Enrolling twice leaves the existing row
// untouched and returns it alongside ErrAlreadyEnrolled so callers can
// tell the duplicate apart from a first enrollment.
func (svc *service) Enroll(ctx context.Context, userID, courseID string) (Enrollment, error) {
	now := time.Now().UTC()
	enr, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		UserID:    userID,
		CourseID:  courseID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Cause(err) == ErrAlreadyEnrolled {
			existing, gerr := svc.repo.GetEnrollment(ctx, userID, courseID)
			if gerr != nil {
				return Enrollment{}, gerr
			}
			return existing, ErrAlreadyEnrolled
		}
		return Enrollment{}, err
	}
	return svc.repo.UpdateEnrollmentStatus(ctx, enr.ID, StatusApproved)
}

func (svc *service) Unenroll(ctx context.Context, userID, courseID string) error {
	return svc.repo.DeleteEnrollment(ctx, userID, courseID)
}

func (svc *service) GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, userID, courseID)
}

func (svc *service) QueryUserCourses(ctx context.Context, userID string) ([]Course, error) {
	return svc.repo.QueryUserCourses(ctx, userID)
}

// Lessons & materials

func (svc *service) CreateLesson(ctx context.Context, courseID string, nl NewLesson) (Lesson, error) {
	return svc.repo.CreateLesson(ctx, Lesson{
		CourseID:    courseID,
		Name:        nl.Name,
		Description: nl.Description,
		Number:      nl.Number,
		ReleaseDate: nl.ReleaseDate,
		CreatedAt:   time.Now().UTC(),
	})
}

func (svc *service) GetLesson(ctx context.Context, courseID, lessonID string, includeUnreleased bool) (Lesson, error) {
	lsn, err := svc.repo.GetLesson(ctx, courseID, lessonID)
	if err != nil {
		return Lesson{}, err
	}
	if !includeUnreleased && !lsn.IsAvailable(time.Now()) {
		return Lesson{}, ErrLessonNotFound
	}
	return lsn, nil
}

func (svc *service) QueryLessons(ctx context.Context, courseID string, includeUnreleased bool) ([]Lesson, error) {
	lessons, err := svc.repo.QueryLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if includeUnreleased {
		return lessons, nil
	}
	now := time.Now()
	available := make([]Lesson, 0, len(lessons))
	for _, lsn := range lessons {
		if lsn.IsAvailable(now) {
			available = append(available, lsn)
		}
	}
	return available, nil
}

func (svc *service) AddMaterial(ctx context.Context, courseID, lessonID string, nm NewMaterial) (Material, error) {
	if _, err := svc.repo.GetLesson(ctx, courseID, lessonID); err != nil {
		return Material{}, err
	}
	return svc.repo.CreateMaterial(ctx, Material{
		LessonID:  lessonID,
		Name:      nm.Name,
		Embedded:  nm.Embedded,
		File:      nm.File,
		CreatedAt: time.Now().UTC(),
	})
}

func (svc *service) QueryMaterials(ctx context.Context, lessonID string) ([]Material, error) {
	return svc.repo.QueryMaterials(ctx, lessonID)
}

// Announcements & comments

// Announce creates the announcement and fans out one email per approved
// enrollee. The fan-out is an explicit post-create hook: it runs once, on
// creation only; the email service isolates per-message send failures, so
// a dead address never aborts the remaining notifications.
func (svc *service) Announce(ctx context.Context, crs Course, na NewAnnouncement) (Announcement, error) {
	now := time.Now().UTC()
	ann, err := svc.repo.CreateAnnouncement(ctx, Announcement{
		CourseID:  crs.ID,
		Title:     na.Title,
		Content:   na.Content,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Announcement{}, err
	}

	enrollees, err := svc.repo.QueryEnrollees(ctx, crs.ID, StatusApproved)
	if err != nil {
		// the announcement is already persisted; a notification failure
		// must not turn its creation into an error
		svc.logger.Error(fmt.Sprintf("querying approved enrollees: %v", err), err)
		return ann, nil
	}
	if len(enrollees) == 0 {
		return ann, nil
	}

	msgs := make([]*core.EmailMessage, 0, len(enrollees))
	for _, enrollee := range enrollees {
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: enrollee.Name, Address: enrollee.Email}},
			Subject:      fmt.Sprintf("%s | %s", crs.Name, ann.Title),
			TemplateName: "new-announcement",
			TemplateData: struct {
				Name         string
				Course       Course
				Announcement Announcement
			}{enrollee.Name, crs, ann},
		})
	}
	svc.mailSvc.SendMessages(msgs...)
	return ann, nil
}

func (svc *service) GetAnnouncement(ctx context.Context, courseID, announcementID string) (Announcement, error) {
	return svc.repo.GetAnnouncement(ctx, courseID, announcementID)
}

func (svc *service) QueryAnnouncements(ctx context.Context, courseID string) ([]Announcement, error) {
	return svc.repo.QueryAnnouncements(ctx, courseID)
}

func (svc *service) CommentAnnouncement(ctx context.Context, userID, announcementID string, nc NewComment) (Comment, error) {
	return svc.repo.CreateComment(ctx, Comment{
		AnnouncementID: announcementID,
		UserID:         userID,
		Text:           nc.Text,
		CreatedAt:      time.Now().UTC(),
	})
}

func (svc *service) QueryComments(ctx context.Context, announcementID string) ([]Comment, error) {
	return svc.repo.QueryComments(ctx, announcementID)
}

// Contact mails a visitor's question about a course to the configured
// contact address.
func (svc *service) Contact(ctx context.Context, crs Course, cc ContactCourse) error {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{svc.conf.ContactEmail()},
		Subject:      fmt.Sprintf("Contact | %s", crs.Name),
		TemplateName: "course-contact",
		TemplateData: struct {
			Course  Course
			Contact ContactCourse
		}{crs, cc},
	})
	return nil
}
