package main

import (
	"context"
	"database/sql"
	"reflect"
	"testing"

	"github.com/simplemooc/simplemooc/core/user"
	inmemdb "github.com/simplemooc/simplemooc/storage/database/inmem"
	testutil "github.com/simplemooc/simplemooc/tests"
)

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
}

func Test_commandLine_run_help(t *testing.T) {
	db := inmemdb.NewDB()
	cli := &commandLine{usrRepo: inmemdb.NewUserRepository(db)}

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: []string{"admin"}},
		{name: "unknown command", args: []string{"admin", "lol"}},
		{name: "adduser without flags", args: []string{"admin", "adduser"}},
		{name: "resetpassword without flags", args: []string{"admin", "resetpassword"}},
		{name: "migrate without args", args: []string{"admin", "migrate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(tt.args); err != errHelp {
				t.Errorf("run() error = %v, want %v", err, errHelp)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	db := inmemdb.NewDB()
	repo := inmemdb.NewUserRepository(db)
	cli := &commandLine{usrRepo: repo}
	ctx := context.Background()

	mockPassword("gibberish97")
	if err := cli.run([]string{"admin", "adduser", "-username", "hero", "-email", "hero@test.cd"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	usr, err := repo.GetUserByUsername(ctx, "hero")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if !usr.IsActive {
		t.Error("addUser() user should be active")
	}
	if !reflect.DeepEqual(usr.Roles, []string{user.RoleStudent}) {
		t.Errorf("addUser() roles = %v, want default student role", usr.Roles)
	}
	if err = usr.CheckPassword("gibberish97"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}

	// -admin on an existing user grants all roles and resets the password
	mockPassword("gibberish97a")
	if err = cli.run([]string{"admin", "adduser", "-username", "hero", "-email", "hero@test.cd", "-admin"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	usr, err = repo.GetUserByUsername(ctx, "hero")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if !usr.IsAdmin() {
		t.Errorf("addUser() roles = %v, want admin roles", usr.Roles)
	}
	if err = usr.CheckPassword("gibberish97a"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	db := inmemdb.NewDB()
	repo := inmemdb.NewUserRepository(db)
	cli := &commandLine{usrRepo: repo}
	ctx := context.Background()

	testutil.CreateUser(t, repo, "Hero", "hero", "hero@test.cd", "oldpassword", nil, true)

	mockPassword("gibberish97")
	if err := cli.run([]string{"admin", "resetpassword", "-username", "hero"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	usr, err := repo.GetUserByUsername(ctx, "hero")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if err = usr.CheckPassword("gibberish97"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}

	// unknown user
	mockPassword("gibberish97")
	if err = cli.run([]string{"admin", "resetpassword", "-username", "nobody"}); err != user.ErrNotFound {
		t.Errorf("run() error = %v, want %v", err, user.ErrNotFound)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := &commandLine{}

	var gotCommand, gotDir string
	var gotArgs []string
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		gotCommand = command
		gotDir = dir
		gotArgs = args
		return nil
	}

	tests := []struct {
		name     string
		args     []string
		wantCmd  string
		wantArgs []string
	}{
		{name: "up", args: []string{"admin", "migrate", "up"}, wantCmd: "up", wantArgs: []string{}},
		{name: "down", args: []string{"admin", "migrate", "down"}, wantCmd: "down", wantArgs: []string{}},
		{name: "up-to with version", args: []string{"admin", "migrate", "up-to", "2"}, wantCmd: "up-to", wantArgs: []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(tt.args); err != nil {
				t.Fatalf("run() error = %v", err)
			}
			if gotCommand != tt.wantCmd {
				t.Errorf("command = %q, want %q", gotCommand, tt.wantCmd)
			}
			if gotDir != "migrations" {
				t.Errorf("dir = %q, want %q", gotDir, "migrations")
			}
			if !reflect.DeepEqual(gotArgs, tt.wantArgs) {
				t.Errorf("args = %v, want %v", gotArgs, tt.wantArgs)
			}
		})
	}
}
