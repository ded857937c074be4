package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simplemooc/simplemooc/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

// catalog

func (repo *courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// slug uniqueness is arbitrated under the write lock, like the
	// UNIQUE constraint on the SQL schema
	for _, existing := range repo.db.courses {
		if existing.Slug == crs.Slug {
			return course.Course{}, course.ErrSlugTaken
		}
	}

	crs.ID = uuid.New().String()
	repo.db.courses[crs.ID] = &crs
	return crs, nil
}

func (repo *courseRepository) GetCourseByID(ctx context.Context, id string) (course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if crs, ok := repo.db.courses[id]; ok {
		return *crs, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) GetCourseBySlug(ctx context.Context, slug string) (course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, crs := range repo.db.courses {
		if crs.Slug == slug {
			return *crs, nil
		}
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter) ([]course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, crs := range repo.db.courses {
		if filter != nil && filter.Search != "" {
			s := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(crs.Name), s) &&
				!strings.Contains(strings.ToLower(crs.Description), s) {
				continue
			}
		}
		courses = append(courses, *crs)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Name < courses[j].Name })
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.courses[crs.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	for id, existing := range repo.db.courses {
		if id != crs.ID && existing.Slug == crs.Slug {
			return course.Course{}, course.ErrSlugTaken
		}
	}
	repo.db.courses[crs.ID] = &crs
	return crs, nil
}

func (repo *courseRepository) DeleteCourse(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	delete(repo.db.courses, id)

	// cascade
	for enrID, enr := range repo.db.enrollments {
		if enr.CourseID == id {
			delete(repo.db.enrollments, enrID)
		}
	}
	for lsnID, lsn := range repo.db.lessons {
		if lsn.CourseID == id {
			for matID, mat := range repo.db.materials {
				if mat.LessonID == lsnID {
					delete(repo.db.materials, matID)
				}
			}
			delete(repo.db.lessons, lsnID)
		}
	}
	for annID, ann := range repo.db.announcements {
		if ann.CourseID == id {
			for cmtID, cmt := range repo.db.comments {
				if cmt.AnnouncementID == annID {
					delete(repo.db.comments, cmtID)
				}
			}
			delete(repo.db.announcements, annID)
		}
	}
	return nil
}

// enrollment ledger

func (repo *courseRepository) CreateEnrollment(ctx context.Context, enr course.Enrollment) (course.Enrollment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// (user, course) uniqueness is arbitrated under the write lock
	for _, existing := range repo.db.enrollments {
		if existing.UserID == enr.UserID && existing.CourseID == enr.CourseID {
			return course.Enrollment{}, course.ErrAlreadyEnrolled
		}
	}

	enr.ID = uuid.New().String()
	repo.db.enrollments[enr.ID] = &enr
	return enr, nil
}

func (repo *courseRepository) GetEnrollment(ctx context.Context, userID, courseID string) (course.Enrollment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, enr := range repo.db.enrollments {
		if enr.UserID == userID && enr.CourseID == courseID {
			return *enr, nil
		}
	}
	return course.Enrollment{}, course.ErrNotEnrolled
}

func (repo *courseRepository) UpdateEnrollmentStatus(ctx context.Context, id string, status course.Status) (course.Enrollment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	enr, ok := repo.db.enrollments[id]
	if !ok {
		return course.Enrollment{}, course.ErrNotEnrolled
	}
	enr.Status = status
	enr.UpdatedAt = time.Now().UTC()
	return *enr, nil
}

func (repo *courseRepository) DeleteEnrollment(ctx context.Context, userID, courseID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for id, enr := range repo.db.enrollments {
		if enr.UserID == userID && enr.CourseID == courseID {
			delete(repo.db.enrollments, id)
			return nil
		}
	}
	return course.ErrNotEnrolled
}

func (repo *courseRepository) QueryUserCourses(ctx context.Context, userID string) ([]course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var courses []course.Course
	for _, enr := range repo.db.enrollments {
		if enr.UserID == userID && enr.IsApproved() {
			if crs, ok := repo.db.courses[enr.CourseID]; ok {
				courses = append(courses, *crs)
			}
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Name < courses[j].Name })
	return courses, nil
}

func (repo *courseRepository) QueryEnrollees(ctx context.Context, courseID string, status course.Status) ([]course.Enrollee, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var enrollees []course.Enrollee
	for _, enr := range repo.db.enrollments {
		if enr.CourseID == courseID && enr.Status == status {
			if usr, ok := repo.db.users[enr.UserID]; ok {
				enrollees = append(enrollees, course.Enrollee{UserID: usr.ID, Name: usr.Name, Email: usr.Email})
			}
		}
	}
	return enrollees, nil
}

// lessons & materials

func (repo *courseRepository) CreateLesson(ctx context.Context, lsn course.Lesson) (course.Lesson, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	lsn.ID = uuid.New().String()
	repo.db.lessons[lsn.ID] = &lsn
	return lsn, nil
}

func (repo *courseRepository) GetLesson(ctx context.Context, courseID, lessonID string) (course.Lesson, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if lsn, ok := repo.db.lessons[lessonID]; ok && lsn.CourseID == courseID {
		return *lsn, nil
	}
	return course.Lesson{}, course.ErrLessonNotFound
}

func (repo *courseRepository) QueryLessons(ctx context.Context, courseID string) ([]course.Lesson, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var lessons []course.Lesson
	for _, lsn := range repo.db.lessons {
		if lsn.CourseID == courseID {
			lessons = append(lessons, *lsn)
		}
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].Number < lessons[j].Number })
	return lessons, nil
}

func (repo *courseRepository) CreateMaterial(ctx context.Context, mat course.Material) (course.Material, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	mat.ID = uuid.New().String()
	repo.db.materials[mat.ID] = &mat
	return mat, nil
}

func (repo *courseRepository) QueryMaterials(ctx context.Context, lessonID string) ([]course.Material, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var materials []course.Material
	for _, mat := range repo.db.materials {
		if mat.LessonID == lessonID {
			materials = append(materials, *mat)
		}
	}
	sort.Slice(materials, func(i, j int) bool { return materials[i].CreatedAt.Before(materials[j].CreatedAt) })
	return materials, nil
}

// announcements & comments

func (repo *courseRepository) CreateAnnouncement(ctx context.Context, ann course.Announcement) (course.Announcement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ann.ID = uuid.New().String()
	repo.db.announcements[ann.ID] = &ann
	return ann, nil
}

func (repo *courseRepository) GetAnnouncement(ctx context.Context, courseID, announcementID string) (course.Announcement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ann, ok := repo.db.announcements[announcementID]; ok && ann.CourseID == courseID {
		return *ann, nil
	}
	return course.Announcement{}, course.ErrAnnouncementNotFound
}

func (repo *courseRepository) QueryAnnouncements(ctx context.Context, courseID string) ([]course.Announcement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var announcements []course.Announcement
	for _, ann := range repo.db.announcements {
		if ann.CourseID == courseID {
			announcements = append(announcements, *ann)
		}
	}
	// newest first
	sort.Slice(announcements, func(i, j int) bool { return announcements[i].CreatedAt.After(announcements[j].CreatedAt) })
	return announcements, nil
}

func (repo *courseRepository) CreateComment(ctx context.Context, cmt course.Comment) (course.Comment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cmt.ID = uuid.New().String()
	repo.db.comments[cmt.ID] = &cmt
	return cmt, nil
}

func (repo *courseRepository) QueryComments(ctx context.Context, announcementID string) ([]course.Comment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var comments []course.Comment
	for _, cmt := range repo.db.comments {
		if cmt.AnnouncementID == announcementID {
			comments = append(comments, *cmt)
		}
	}
	// oldest first
	sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}
