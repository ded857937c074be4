// Package inmemdb provides mutex-guarded in-memory repositories for tests.
package inmemdb

import (
	"sync"

	"github.com/simplemooc/simplemooc/core/course"
	"github.com/simplemooc/simplemooc/core/user"
)

type DB struct {
	mutex sync.RWMutex

	users          map[string]*user.User
	passwordResets map[string]*user.PasswordReset

	courses       map[string]*course.Course
	enrollments   map[string]*course.Enrollment
	lessons       map[string]*course.Lesson
	materials     map[string]*course.Material
	announcements map[string]*course.Announcement
	comments      map[string]*course.Comment
}

func NewDB() *DB {
	return &DB{
		users:          make(map[string]*user.User),
		passwordResets: make(map[string]*user.PasswordReset),
		courses:        make(map[string]*course.Course),
		enrollments:    make(map[string]*course.Enrollment),
		lessons:        make(map[string]*course.Lesson),
		materials:      make(map[string]*course.Material),
		announcements:  make(map[string]*course.Announcement),
		comments:       make(map[string]*course.Comment),
	}
}

// Clear empties all tables; for use between test cases.
func (db *DB) Clear() {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.users = make(map[string]*user.User)
	db.passwordResets = make(map[string]*user.PasswordReset)
	db.courses = make(map[string]*course.Course)
	db.enrollments = make(map[string]*course.Enrollment)
	db.lessons = make(map[string]*course.Lesson)
	db.materials = make(map[string]*course.Material)
	db.announcements = make(map[string]*course.Announcement)
	db.comments = make(map[string]*course.Comment)
}
