package tests

import (
	"os"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/simplemooc/simplemooc/apps/api/echo"
	"github.com/simplemooc/simplemooc/core"
	"github.com/simplemooc/simplemooc/core/course"
	"github.com/simplemooc/simplemooc/core/user"
	emailsvc "github.com/simplemooc/simplemooc/services/email"
	inmemdb "github.com/simplemooc/simplemooc/storage/database/inmem"
	testutil "github.com/simplemooc/simplemooc/tests"
)

var (
	conf *core.Config
	db   *inmemdb.DB

	usrRepo user.Repository
	crsRepo course.Repository

	mailMock *emailsvc.ConsoleServiceMock
	usrSvc   user.Service
	crsSvc   course.Service

	app echoapi.Server
)

func TestMain(m *testing.M) {
	conf = core.NewTestConfig()
	logger := testutil.NewLogger()

	db = inmemdb.NewDB()
	usrRepo = inmemdb.NewUserRepository(db)
	crsRepo = inmemdb.NewCourseRepository(db)

	mailMock = emailsvc.NewConsoleServiceMock(conf)
	usrSvc = user.NewService(usrRepo, mailMock, conf)
	crsSvc = course.NewService(crsRepo, mailMock, conf, logger)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)
	user.LoadCommonPasswords(conf, logger)

	app = echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			CourseSvc:  crsSvc,
			Validate:   validate,
			Translator: translator,
		},
	)

	os.Exit(m.Run())
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// resetDB empties all tables and the outbox between tests.
func resetDB(t *testing.T) {
	t.Helper()
	db.Clear()
	mailMock.Clear()
}
