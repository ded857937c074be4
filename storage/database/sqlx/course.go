package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/simplemooc/simplemooc/core/course"
)

const pqUniqueViolation = "23505"

type courseRow struct {
	ID          string       `db:"id"`
	Name        string       `db:"name"`
	Slug        string       `db:"slug"`
	Description string       `db:"description"`
	About       string       `db:"about"`
	StartDate   sql.NullTime `db:"start_date"`
	Image       string       `db:"image"`
	CreatedAt   sql.NullTime `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

func (row courseRow) unpack() course.Course {
	crs := course.Course{
		ID:          row.ID,
		Name:        row.Name,
		Slug:        row.Slug,
		Description: row.Description,
		About:       row.About,
		Image:       row.Image,
	}
	if row.StartDate.Valid {
		startDate := row.StartDate.Time
		crs.StartDate = &startDate
	}
	if row.CreatedAt.Valid {
		crs.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		crs.UpdatedAt = row.UpdatedAt.Time
	}
	return crs
}

func unpackCourses(rows []courseRow) []course.Course {
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.unpack())
	}
	return courses
}

type enrollmentRow struct {
	ID        string        `db:"id"`
	UserID    string        `db:"user_id"`
	CourseID  string        `db:"course_id"`
	Status    course.Status `db:"status"`
	CreatedAt sql.NullTime  `db:"created_at"`
	UpdatedAt sql.NullTime  `db:"updated_at"`
}

func (row enrollmentRow) unpack() course.Enrollment {
	enr := course.Enrollment{
		ID:       row.ID,
		UserID:   row.UserID,
		CourseID: row.CourseID,
		Status:   row.Status,
	}
	if row.CreatedAt.Valid {
		enr.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		enr.UpdatedAt = row.UpdatedAt.Time
	}
	return enr
}

type lessonRow struct {
	ID          string       `db:"id"`
	CourseID    string       `db:"course_id"`
	Name        string       `db:"name"`
	Description string       `db:"description"`
	Number      int          `db:"number"`
	ReleaseDate sql.NullTime `db:"release_date"`
	CreatedAt   sql.NullTime `db:"created_at"`
}

func (row lessonRow) unpack() course.Lesson {
	lsn := course.Lesson{
		ID:          row.ID,
		CourseID:    row.CourseID,
		Name:        row.Name,
		Description: row.Description,
		Number:      row.Number,
	}
	if row.ReleaseDate.Valid {
		releaseDate := row.ReleaseDate.Time
		lsn.ReleaseDate = &releaseDate
	}
	if row.CreatedAt.Valid {
		lsn.CreatedAt = row.CreatedAt.Time
	}
	return lsn
}

type materialRow struct {
	ID        string       `db:"id"`
	LessonID  string       `db:"lesson_id"`
	Name      string       `db:"name"`
	Embedded  string       `db:"embedded"`
	File      string       `db:"file"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (row materialRow) unpack() course.Material {
	mat := course.Material{
		ID:       row.ID,
		LessonID: row.LessonID,
		Name:     row.Name,
		Embedded: row.Embedded,
		File:     row.File,
	}
	if row.CreatedAt.Valid {
		mat.CreatedAt = row.CreatedAt.Time
	}
	return mat
}

type announcementRow struct {
	ID        string       `db:"id"`
	CourseID  string       `db:"course_id"`
	Title     string       `db:"title"`
	Content   string       `db:"content"`
	CreatedAt sql.NullTime `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

func (row announcementRow) unpack() course.Announcement {
	ann := course.Announcement{
		ID:       row.ID,
		CourseID: row.CourseID,
		Title:    row.Title,
		Content:  row.Content,
	}
	if row.CreatedAt.Valid {
		ann.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		ann.UpdatedAt = row.UpdatedAt.Time
	}
	return ann
}

type commentRow struct {
	ID             string       `db:"id"`
	AnnouncementID string       `db:"announcement_id"`
	UserID         string       `db:"user_id"`
	Text           string       `db:"text"`
	CreatedAt      sql.NullTime `db:"created_at"`
}

func (row commentRow) unpack() course.Comment {
	cmt := course.Comment{
		ID:             row.ID,
		AnnouncementID: row.AnnouncementID,
		UserID:         row.UserID,
		Text:           row.Text,
	}
	if row.CreatedAt.Valid {
		cmt.CreatedAt = row.CreatedAt.Time
	}
	return cmt
}

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) *courseRepository {
	return &courseRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to notFound
func (repo courseRepository) trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// catalog

func (repo courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	crs.ID = uuid.New().String()
	q := `INSERT INTO course (id, name, slug, description, about, start_date, image, created_at, updated_at)
		  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, q,
		crs.ID, crs.Name, crs.Slug, crs.Description, crs.About, crs.StartDate, crs.Image, crs.CreatedAt, crs.UpdatedAt)
	if err != nil {
		// slug is the only UNIQUE column on course
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return course.Course{}, course.ErrSlugTaken
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return crs, nil
}

func (repo courseRepository) GetCourseByID(ctx context.Context, id string) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM course WHERE id = $1`, id); err != nil {
		return course.Course{}, repo.trapNoRowsErr(err, course.ErrNotFound, "finding course by ID")
	}
	return row.unpack(), nil
}

func (repo courseRepository) GetCourseBySlug(ctx context.Context, slug string) (course.Course, error) {
	var row courseRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM course WHERE slug = $1`, slug); err != nil {
		return course.Course{}, repo.trapNoRowsErr(err, course.ErrNotFound, "finding course by slug")
	}
	return row.unpack(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter) ([]course.Course, error) {
	q := `SELECT * FROM course`
	var args []interface{}
	if filter != nil && filter.Search != "" {
		q += ` WHERE name ILIKE $1 OR description ILIKE $1`
		args = append(args, "%"+filter.Search+"%")
	}
	q += ` ORDER BY name ASC`

	var rows []courseRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	return unpackCourses(rows), nil
}

func (repo courseRepository) UpdateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	q := `UPDATE course SET name = $1, slug = $2, description = $3, about = $4, start_date = $5, image = $6, updated_at = $7
		  WHERE id = $8 RETURNING *`
	var row courseRow
	err := repo.db.GetContext(ctx, &row, q,
		crs.Name, crs.Slug, crs.Description, crs.About, crs.StartDate, crs.Image, crs.UpdatedAt, crs.ID)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return course.Course{}, course.ErrSlugTaken
		}
		return course.Course{}, repo.trapNoRowsErr(err, course.ErrNotFound, "updating course")
	}
	return row.unpack(), nil
}

func (repo courseRepository) DeleteCourse(ctx context.Context, id string) error {
	// children go with it via FK cascades
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM course WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return nil
}

// enrollment ledger

func (repo courseRepository) CreateEnrollment(ctx context.Context, enr course.Enrollment) (course.Enrollment, error) {
	enr.ID = uuid.New().String()
	q := `INSERT INTO enrollment (id, user_id, course_id, status, created_at, updated_at)
		  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := repo.db.ExecContext(ctx, q, enr.ID, enr.UserID, enr.CourseID, enr.Status, enr.CreatedAt, enr.UpdatedAt)
	if err != nil {
		// the UNIQUE (user_id, course_id) constraint arbitrates concurrent enrolls
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return course.Enrollment{}, course.ErrAlreadyEnrolled
		}
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return enr, nil
}

func (repo courseRepository) GetEnrollment(ctx context.Context, userID, courseID string) (course.Enrollment, error) {
	var row enrollmentRow
	q := `SELECT * FROM enrollment WHERE user_id = $1 AND course_id = $2`
	if err := repo.db.GetContext(ctx, &row, q, userID, courseID); err != nil {
		return course.Enrollment{}, repo.trapNoRowsErr(err, course.ErrNotEnrolled, "finding enrollment")
	}
	return row.unpack(), nil
}

func (repo courseRepository) UpdateEnrollmentStatus(ctx context.Context, id string, status course.Status) (course.Enrollment, error) {
	var row enrollmentRow
	q := `UPDATE enrollment SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *`
	if err := repo.db.GetContext(ctx, &row, q, status, id); err != nil {
		return course.Enrollment{}, repo.trapNoRowsErr(err, course.ErrNotEnrolled, "updating enrollment status")
	}
	return row.unpack(), nil
}

func (repo courseRepository) DeleteEnrollment(ctx context.Context, userID, courseID string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM enrollment WHERE user_id = $1 AND course_id = $2`, userID, courseID)
	if err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return course.ErrNotEnrolled
	}
	return nil
}

func (repo courseRepository) QueryUserCourses(ctx context.Context, userID string) ([]course.Course, error) {
	q := `SELECT c.* FROM course c
		  JOIN enrollment e ON e.course_id = c.id
		  WHERE e.user_id = $1 AND e.status = $2
		  ORDER BY c.name ASC`
	var rows []courseRow
	if err := repo.db.SelectContext(ctx, &rows, q, userID, course.StatusApproved); err != nil {
		return nil, errors.Wrap(err, "querying user courses")
	}
	return unpackCourses(rows), nil
}

func (repo courseRepository) QueryEnrollees(ctx context.Context, courseID string, status course.Status) ([]course.Enrollee, error) {
	q := `SELECT u.id AS user_id, u.name, u.email FROM "user" u
		  JOIN enrollment e ON e.user_id = u.id
		  WHERE e.course_id = $1 AND e.status = $2`
	rows, err := repo.db.QueryContext(ctx, q, courseID, status)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollees")
	}
	defer func() { _ = rows.Close() }()

	var enrollees []course.Enrollee
	for rows.Next() {
		var enrollee course.Enrollee
		if err = rows.Scan(&enrollee.UserID, &enrollee.Name, &enrollee.Email); err != nil {
			return nil, errors.Wrap(err, "scanning enrollee")
		}
		enrollees = append(enrollees, enrollee)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "querying enrollees")
	}
	return enrollees, nil
}

// lessons & materials

func (repo courseRepository) CreateLesson(ctx context.Context, lsn course.Lesson) (course.Lesson, error) {
	lsn.ID = uuid.New().String()
	q := `INSERT INTO lesson (id, course_id, name, description, number, release_date, created_at)
		  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := repo.db.ExecContext(ctx, q,
		lsn.ID, lsn.CourseID, lsn.Name, lsn.Description, lsn.Number, lsn.ReleaseDate, lsn.CreatedAt)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return lsn, nil
}

func (repo courseRepository) GetLesson(ctx context.Context, courseID, lessonID string) (course.Lesson, error) {
	if _, err := uuid.Parse(lessonID); err != nil {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	var row lessonRow
	q := `SELECT * FROM lesson WHERE id = $1 AND course_id = $2`
	if err := repo.db.GetContext(ctx, &row, q, lessonID, courseID); err != nil {
		return course.Lesson{}, repo.trapNoRowsErr(err, course.ErrLessonNotFound, "finding lesson")
	}
	return row.unpack(), nil
}

func (repo courseRepository) QueryLessons(ctx context.Context, courseID string) ([]course.Lesson, error) {
	var rows []lessonRow
	q := `SELECT * FROM lesson WHERE course_id = $1 ORDER BY number ASC, created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "querying lessons")
	}
	lessons := make([]course.Lesson, 0, len(rows))
	for _, row := range rows {
		lessons = append(lessons, row.unpack())
	}
	return lessons, nil
}

func (repo courseRepository) CreateMaterial(ctx context.Context, mat course.Material) (course.Material, error) {
	mat.ID = uuid.New().String()
	q := `INSERT INTO material (id, lesson_id, name, embedded, file, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := repo.db.ExecContext(ctx, q, mat.ID, mat.LessonID, mat.Name, mat.Embedded, mat.File, mat.CreatedAt)
	if err != nil {
		return course.Material{}, errors.Wrap(err, "inserting material")
	}
	return mat, nil
}

func (repo courseRepository) QueryMaterials(ctx context.Context, lessonID string) ([]course.Material, error) {
	var rows []materialRow
	q := `SELECT * FROM material WHERE lesson_id = $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, lessonID); err != nil {
		return nil, errors.Wrap(err, "querying materials")
	}
	materials := make([]course.Material, 0, len(rows))
	for _, row := range rows {
		materials = append(materials, row.unpack())
	}
	return materials, nil
}

// announcements & comments

func (repo courseRepository) CreateAnnouncement(ctx context.Context, ann course.Announcement) (course.Announcement, error) {
	ann.ID = uuid.New().String()
	q := `INSERT INTO announcement (id, course_id, title, content, created_at, updated_at)
		  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := repo.db.ExecContext(ctx, q, ann.ID, ann.CourseID, ann.Title, ann.Content, ann.CreatedAt, ann.UpdatedAt)
	if err != nil {
		return course.Announcement{}, errors.Wrap(err, "inserting announcement")
	}
	return ann, nil
}

func (repo courseRepository) GetAnnouncement(ctx context.Context, courseID, announcementID string) (course.Announcement, error) {
	if _, err := uuid.Parse(announcementID); err != nil {
		return course.Announcement{}, course.ErrAnnouncementNotFound
	}
	var row announcementRow
	q := `SELECT * FROM announcement WHERE id = $1 AND course_id = $2`
	if err := repo.db.GetContext(ctx, &row, q, announcementID, courseID); err != nil {
		return course.Announcement{}, repo.trapNoRowsErr(err, course.ErrAnnouncementNotFound, "finding announcement")
	}
	return row.unpack(), nil
}

func (repo courseRepository) QueryAnnouncements(ctx context.Context, courseID string) ([]course.Announcement, error) {
	var rows []announcementRow
	q := `SELECT * FROM announcement WHERE course_id = $1 ORDER BY created_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "querying announcements")
	}
	announcements := make([]course.Announcement, 0, len(rows))
	for _, row := range rows {
		announcements = append(announcements, row.unpack())
	}
	return announcements, nil
}

func (repo courseRepository) CreateComment(ctx context.Context, cmt course.Comment) (course.Comment, error) {
	cmt.ID = uuid.New().String()
	q := `INSERT INTO comment (id, announcement_id, user_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := repo.db.ExecContext(ctx, q, cmt.ID, cmt.AnnouncementID, cmt.UserID, cmt.Text, cmt.CreatedAt)
	if err != nil {
		return course.Comment{}, errors.Wrap(err, "inserting comment")
	}
	return cmt, nil
}

func (repo courseRepository) QueryComments(ctx context.Context, announcementID string) ([]course.Comment, error) {
	var rows []commentRow
	q := `SELECT * FROM comment WHERE announcement_id = $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, announcementID); err != nil {
		return nil, errors.Wrap(err, "querying comments")
	}
	comments := make([]course.Comment, 0, len(rows))
	for _, row := range rows {
		comments = append(comments, row.unpack())
	}
	return comments, nil
}
