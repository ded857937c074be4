// Package testutil provides shared fixtures for unit tests.
package testutil

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/simplemooc/simplemooc/core"
	"github.com/simplemooc/simplemooc/core/course"
	"github.com/simplemooc/simplemooc/core/user"
)

// Logger is a core.Logger writing to stdout; Fatal does not kill the test binary.
type Logger struct {
	std *log.Logger
}

func NewLogger() *Logger {
	return &Logger{std: log.New(os.Stdout, "TEST : ", log.LstdFlags)}
}

func (l Logger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l Logger) Debug(msg string, args ...interface{}) { l.print(msg, args) }
func (l Logger) Info(msg string, args ...interface{})  { l.print(msg, args) }
func (l Logger) Warn(msg string, args ...interface{})  { l.print(msg, args) }
func (l Logger) Error(msg string, args ...interface{}) { l.print(msg, args) }
func (l Logger) Fatal(msg string, args ...interface{}) { l.print(msg, args) }

var _ core.Logger = (*Logger)(nil)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(
	t *testing.T,
	repo course.Repository,
	name, slug, description string,
) course.Course {
	t.Helper()

	if slug == "" {
		slug = course.Slugify(name)
	}
	now := time.Now().UTC()
	crs, err := repo.CreateCourse(context.Background(), course.Course{
		Name:        name,
		Slug:        slug,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return crs
}

func CreateLesson(
	t *testing.T,
	repo course.Repository,
	crs course.Course,
	name string,
	number int,
	releaseDate *time.Time,
) course.Lesson {
	t.Helper()

	lsn, err := repo.CreateLesson(context.Background(), course.Lesson{
		CourseID:    crs.ID,
		Name:        name,
		Number:      number,
		ReleaseDate: releaseDate,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateLesson() failed: %v", err)
	}
	return lsn
}

func Enroll(
	t *testing.T,
	repo course.Repository,
	usr user.User,
	crs course.Course,
	status course.Status,
) course.Enrollment {
	t.Helper()

	now := time.Now().UTC()
	enr, err := repo.CreateEnrollment(context.Background(), course.Enrollment{
		UserID:    usr.ID,
		CourseID:  crs.ID,
		Status:    course.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	if status != course.StatusPending {
		enr, err = repo.UpdateEnrollmentStatus(context.Background(), enr.ID, status)
		if err != nil {
			t.Fatalf("Enroll() failed: %v", err)
		}
	}
	return enr
}
