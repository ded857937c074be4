package course_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/simplemooc/simplemooc/core"
	"github.com/simplemooc/simplemooc/core/course"
	emailsvc "github.com/simplemooc/simplemooc/services/email"
	inmemdb "github.com/simplemooc/simplemooc/storage/database/inmem"
	testutil "github.com/simplemooc/simplemooc/tests"
)

var (
	db      = inmemdb.NewDB()
	crsRepo = inmemdb.NewCourseRepository(db)
	usrRepo = inmemdb.NewUserRepository(db)
	conf    *core.Config
)

func TestMain(m *testing.M) {
	conf = core.NewTestConfig()
	core.ParseEmailTemplates(conf, testutil.NewLogger())
	os.Exit(m.Run())
}

func TestEnroll(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "Stu Dent", "student", "stu@dent.test", "", nil, true)
	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "An introduction.")

	enr, err := svc.Enroll(ctx, usr.ID, crs.ID)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if enr.Status != course.StatusApproved {
		t.Errorf("Enroll() status = %v, want %v", enr.Status, course.StatusApproved)
	}

	// enrolling again reports the duplicate and leaves the existing row untouched
	again, err := svc.Enroll(ctx, usr.ID, crs.ID)
	if errors.Cause(err) != course.ErrAlreadyEnrolled {
		t.Fatalf("Enroll() again error = %v, want %v", err, course.ErrAlreadyEnrolled)
	}
	if again.ID != enr.ID {
		t.Errorf("Enroll() again ID = %v, want existing %v", again.ID, enr.ID)
	}

	enrollees, err := crsRepo.QueryEnrollees(ctx, crs.ID, course.StatusApproved)
	if err != nil {
		t.Fatalf("QueryEnrollees() error = %v", err)
	}
	if len(enrollees) != 1 {
		t.Errorf("QueryEnrollees() count = %d, want 1", len(enrollees))
	}
}

func TestEnrollConcurrent(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "Stu Dent", "student", "stu@dent.test", "", nil, true)
	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// losers of the race get ErrAlreadyEnrolled; anything else is a failure
			if _, err := svc.Enroll(ctx, usr.ID, crs.ID); err != nil && errors.Cause(err) != course.ErrAlreadyEnrolled {
				t.Errorf("Enroll() error = %v", err)
			}
		}()
	}
	wg.Wait()

	enrollees, err := crsRepo.QueryEnrollees(ctx, crs.ID, course.StatusApproved)
	if err != nil {
		t.Fatalf("QueryEnrollees() error = %v", err)
	}
	if len(enrollees) != 1 {
		t.Errorf("QueryEnrollees() count = %d, want 1", len(enrollees))
	}
}

func TestUnenroll(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "Stu Dent", "student", "stu@dent.test", "", nil, true)
	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")
	testutil.Enroll(t, crsRepo, usr, crs, course.StatusApproved)

	if err := svc.Unenroll(ctx, usr.ID, crs.ID); err != nil {
		t.Fatalf("Unenroll() error = %v", err)
	}
	if err := svc.Unenroll(ctx, usr.ID, crs.ID); errors.Cause(err) != course.ErrNotEnrolled {
		t.Errorf("Unenroll() again error = %v, want %v", err, course.ErrNotEnrolled)
	}
}

func TestLessonReleaseGating(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")
	past := time.Now().Add(-24 * time.Hour)
	future := time.Now().Add(24 * time.Hour)
	testutil.CreateLesson(t, crsRepo, crs, "Released", 1, &past)
	testutil.CreateLesson(t, crsRepo, crs, "Undated", 2, nil)
	unreleased := testutil.CreateLesson(t, crsRepo, crs, "Upcoming", 3, &future)

	lessons, err := svc.QueryLessons(ctx, crs.ID, false /* includeUnreleased */)
	if err != nil {
		t.Fatalf("QueryLessons() error = %v", err)
	}
	if len(lessons) != 2 {
		t.Errorf("QueryLessons() count = %d, want 2", len(lessons))
	}
	for _, lsn := range lessons {
		if lsn.ID == unreleased.ID {
			t.Errorf("QueryLessons() returned unreleased lesson %q", lsn.Name)
		}
	}

	all, err := svc.QueryLessons(ctx, crs.ID, true /* includeUnreleased */)
	if err != nil {
		t.Fatalf("QueryLessons() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("QueryLessons() count = %d, want 3", len(all))
	}
	// ordered by number
	for i := 1; i < len(all); i++ {
		if all[i-1].Number > all[i].Number {
			t.Errorf("QueryLessons() not ordered by number: %v", all)
		}
	}

	if _, err = svc.GetLesson(ctx, crs.ID, unreleased.ID, false); errors.Cause(err) != course.ErrLessonNotFound {
		t.Errorf("GetLesson() error = %v, want %v", err, course.ErrLessonNotFound)
	}
	if _, err = svc.GetLesson(ctx, crs.ID, unreleased.ID, true); err != nil {
		t.Errorf("GetLesson() staff error = %v", err)
	}
}

func TestAnnounceFanOut(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")

	// three approved enrollees, one pending, one cancelled
	for i := 0; i < 3; i++ {
		usr := testutil.CreateUser(t, usrRepo, fmt.Sprintf("Stu %d", i), fmt.Sprintf("stu%d", i), fmt.Sprintf("stu%d@test.test", i), "", nil, true)
		testutil.Enroll(t, crsRepo, usr, crs, course.StatusApproved)
	}
	pending := testutil.CreateUser(t, usrRepo, "Pen Ding", "pending", "pen@ding.test", "", nil, true)
	testutil.Enroll(t, crsRepo, pending, crs, course.StatusPending)
	cancelled := testutil.CreateUser(t, usrRepo, "Can Celled", "cancelled", "can@celled.test", "", nil, true)
	testutil.Enroll(t, crsRepo, cancelled, crs, course.StatusCancelled)

	ann, err := svc.Announce(ctx, crs, course.NewAnnouncement{Title: "Welcome", Content: "First class is on Monday."})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if ann.ID == "" {
		t.Error("Announce() did not persist the announcement")
	}

	sent := mock.Sent()
	if len(sent) != 3 {
		t.Fatalf("Announce() sent %d mails, want 3", len(sent))
	}
	wantSubject := "Go Basics | Welcome"
	recipients := make(map[string]bool)
	for _, msg := range sent {
		if msg.Subject != wantSubject {
			t.Errorf("Announce() subject = %q, want %q", msg.Subject, wantSubject)
		}
		recipients[msg.To[0].Address] = true
	}
	if recipients["pen@ding.test"] || recipients["can@celled.test"] {
		t.Errorf("Announce() mailed a non-approved enrollee: %v", recipients)
	}
}

func TestAnnounceNoEnrollees(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())

	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")
	if _, err := svc.Announce(context.Background(), crs, course.NewAnnouncement{Title: "Hello", Content: "Anyone?"}); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if got := len(mock.Sent()); got != 0 {
		t.Errorf("Announce() sent %d mails, want 0", got)
	}
}

func TestCreateCourseSlugTaken(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	first, err := svc.CreateCourse(ctx, course.NewCourse{Name: "Go Basics", Slug: "go-basics"})
	if err != nil {
		t.Fatalf("CreateCourse() error = %v", err)
	}

	// a second course cannot claim the same slug
	_, err = svc.CreateCourse(ctx, course.NewCourse{Name: "Go Basics Redux", Slug: "go-basics"})
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		t.Fatalf("CreateCourse() duplicate slug error = %v, want *core.ValidationError", err)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0].Field != "slug" {
		t.Errorf("CreateCourse() duplicate slug fields = %+v, want one error on slug", vErr.Fields)
	}

	// nor can an update steal it from another course
	django, err := svc.CreateCourse(ctx, course.NewCourse{Name: "Django", Slug: "django"})
	if err != nil {
		t.Fatalf("CreateCourse() error = %v", err)
	}
	slug := "go-basics"
	if _, err = svc.UpdateCourse(ctx, django.ID, course.UpdateCourse{Slug: slug}); err == nil {
		t.Error("UpdateCourse() stole a taken slug")
	} else if _, ok = errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("UpdateCourse() duplicate slug error = %v, want *core.ValidationError", err)
	}

	// the slug still resolves to the original course
	crs, err := svc.GetCourseBySlug(ctx, slug)
	if err != nil {
		t.Fatalf("GetCourseBySlug() error = %v", err)
	}
	if crs.ID != first.ID {
		t.Errorf("GetCourseBySlug() ID = %v, want %v", crs.ID, first.ID)
	}
}

// enrolleeQueryFailRepo simulates the enrollment store going away between
// persisting an announcement and loading its recipients.
type enrolleeQueryFailRepo struct {
	course.Repository
}

func (repo enrolleeQueryFailRepo) QueryEnrollees(ctx context.Context, courseID string, status course.Status) ([]course.Enrollee, error) {
	return nil, errors.New("enrollment store unavailable")
}

func TestAnnounceEnrolleeQueryFailure(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(enrolleeQueryFailRepo{crsRepo}, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")

	// the announcement is created; the notification failure is logged, not returned
	ann, err := svc.Announce(ctx, crs, course.NewAnnouncement{Title: "Welcome", Content: "First class is on Monday."})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if ann.ID == "" {
		t.Error("Announce() did not persist the announcement")
	}
	if _, err = crsRepo.GetAnnouncement(ctx, crs.ID, ann.ID); err != nil {
		t.Errorf("GetAnnouncement() error = %v", err)
	}
	if got := len(mock.Sent()); got != 0 {
		t.Errorf("Announce() sent %d mails, want 0", got)
	}
}

func TestContact(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())

	crs := testutil.CreateCourse(t, crsRepo, "Go Basics", "", "")
	err := svc.Contact(context.Background(), crs, course.ContactCourse{
		Name:    "Curious Visitor",
		Email:   "visitor@test.test",
		Message: "When does the next session start?",
	})
	if err != nil {
		t.Fatalf("Contact() error = %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("Contact() sent %d mails, want 1", len(sent))
	}
	if to := sent[0].To[0].Address; to != conf.ContactEmail().Address {
		t.Errorf("Contact() mailed %q, want %q", to, conf.ContactEmail().Address)
	}
	if want := "Contact | Go Basics"; sent[0].Subject != want {
		t.Errorf("Contact() subject = %q, want %q", sent[0].Subject, want)
	}
}

func TestQueryCoursesSearch(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := course.NewService(crsRepo, mock, conf, testutil.NewLogger())
	ctx := context.Background()

	testutil.CreateCourse(t, crsRepo, "Django", "django", "Python web framework")
	testutil.CreateCourse(t, crsRepo, "Go Basics", "", "An introduction to Go")
	testutil.CreateCourse(t, crsRepo, "Advanced Go", "", "Concurrency patterns")

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{name: "all ordered by name", want: []string{"Advanced Go", "Django", "Go Basics"}},
		{name: "match name", search: "go", want: []string{"Advanced Go", "Go Basics"}},
		{name: "match description", search: "python", want: []string{"Django"}},
		{name: "no match", search: "rust", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			courses, err := svc.QueryCourses(ctx, &course.QueryFilter{Search: tt.search})
			if err != nil {
				t.Fatalf("QueryCourses() error = %v", err)
			}
			got := make([]string, 0, len(courses))
			for _, crs := range courses {
				got = append(got, crs.Name)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("QueryCourses() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("QueryCourses() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
