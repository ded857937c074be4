package user_test

import (
	"context"
	"os"
	"regexp"
	"testing"

	"github.com/pkg/errors"

	"github.com/simplemooc/simplemooc/core"
	"github.com/simplemooc/simplemooc/core/user"
	emailsvc "github.com/simplemooc/simplemooc/services/email"
	inmemdb "github.com/simplemooc/simplemooc/storage/database/inmem"
	testutil "github.com/simplemooc/simplemooc/tests"
)

var (
	db   = inmemdb.NewDB()
	repo = inmemdb.NewUserRepository(db)
	conf *core.Config
)

func TestMain(m *testing.M) {
	conf = core.NewTestConfig()
	logger := testutil.NewLogger()
	core.ParseEmailTemplates(conf, logger)
	os.Exit(m.Run())
}

func TestRegister(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := user.NewService(repo, mock, conf)

	usr, err := svc.Register(context.Background(), user.NewUser{
		Name:            "Awe Some",
		Username:        "awesome",
		Email:           "awe@some.test",
		Password:        "gibberish",
		PasswordConfirm: "gibberish",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if usr.ID == "" {
		t.Error("Register() did not assign an ID")
	}
	if !usr.IsActive {
		t.Error("Register() user should be active")
	}
	if len(usr.Roles) != 1 || usr.Roles[0] != user.RoleStudent {
		t.Errorf("Register() roles = %v, want default student role", usr.Roles)
	}
	if err = usr.CheckPassword("gibberish"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	if usr.CheckPassword("not-the-password") == nil {
		t.Error("CheckPassword() should fail for a wrong password")
	}
}

func TestCheckUniqueness(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := user.NewService(repo, mock, conf)

	testutil.CreateUser(t, repo, "Awe Some", "awesome", "awe@some.test", "", nil, true)

	tests := []struct {
		name      string
		uname     string
		email     string
		wantField string
	}{
		{name: "available", uname: "new", email: "new@test.test"},
		{name: "username taken", uname: "awesome", email: "new@test.test", wantField: "username"},
		{name: "email taken", uname: "new", email: "awe@some.test", wantField: "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckUniqueness(tt.uname, tt.email)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("CheckUniqueness() error = %v", err)
				}
				return
			}

			vErr, ok := errors.Cause(err).(*core.ValidationError)
			if !ok {
				t.Fatalf("CheckUniqueness() error = %v, want *core.ValidationError", err)
			}
			if len(vErr.Fields) != 1 || vErr.Fields[0].Field != tt.wantField {
				t.Errorf("CheckUniqueness() fields = %+v, want field %q", vErr.Fields, tt.wantField)
			}
		})
	}
}

var resetURLRegex = regexp.MustCompile(`uid=([\w-]+)&token=([\w-]+)`)

func TestPasswordResetFlow(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := user.NewService(repo, mock, conf)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Awe Some", "awesome", "awe@some.test", "oldpassword", nil, true)

	// unknown email
	if err := svc.RequestPasswordReset(ctx, "nobody@test.test"); errors.Cause(err) != user.ErrNotFound {
		t.Errorf("RequestPasswordReset() error = %v, want %v", err, user.ErrNotFound)
	}

	// inactive user
	testutil.CreateUser(t, repo, "Gone", "gone", "gone@test.test", "oldpassword", nil, false)
	if err := svc.RequestPasswordReset(ctx, "gone@test.test"); errors.Cause(err) != user.ErrNotFound {
		t.Errorf("RequestPasswordReset() error = %v, want %v", err, user.ErrNotFound)
	}
	if len(mock.Sent()) != 0 {
		t.Fatalf("RequestPasswordReset() sent %d mails, want 0", len(mock.Sent()))
	}

	// happy path: one mail with a usable confirm link
	if err := svc.RequestPasswordReset(ctx, usr.Email); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("RequestPasswordReset() sent %d mails, want 1", len(sent))
	}
	if to := sent[0].To[0].Address; to != usr.Email {
		t.Errorf("RequestPasswordReset() mailed %q, want %q", to, usr.Email)
	}

	match := resetURLRegex.FindStringSubmatch(sent[0].TextContent)
	if match == nil {
		t.Fatalf("no reset link found in mail body:\n%s", sent[0].TextContent)
	}
	uid, token := match[1], match[2]

	data := user.ResetUserPassword{
		UID:             uid,
		Token:           token,
		Password:        "brand-new-pwd",
		PasswordConfirm: "brand-new-pwd",
	}
	if err := svc.ResetPassword(ctx, data); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	usr, err := svc.GetByID(ctx, usr.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if err = usr.CheckPassword("brand-new-pwd"); err != nil {
		t.Errorf("CheckPassword() error = %v, password was not changed", err)
	}

	// the ledger entry is single-use
	err = svc.ResetPassword(ctx, data)
	if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("ResetPassword() reuse error = %v, want *core.ValidationError", err)
	}
}

func TestResetPasswordBadInput(t *testing.T) {
	db.Clear()
	mock := emailsvc.NewConsoleServiceMock(conf)
	svc := user.NewService(repo, mock, conf)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Awe Some", "awesome", "awe@some.test", "oldpassword", nil, true)

	// garbage uid
	err := svc.ResetPassword(ctx, user.ResetUserPassword{UID: "%%%", Token: "whatever", Password: "p", PasswordConfirm: "p"})
	if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("ResetPassword() error = %v, want *core.ValidationError", err)
	}

	// valid uid, unknown key
	err = svc.ResetPassword(ctx, user.ResetUserPassword{
		UID:             user.EncodeUID(usr),
		Token:           "no-such-key",
		Password:        "p",
		PasswordConfirm: "p",
	})
	if errors.Cause(err) != user.ErrResetNotFound {
		t.Errorf("ResetPassword() error = %v, want %v", err, user.ErrResetNotFound)
	}
}
