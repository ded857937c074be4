package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"testing"

	echoapi "github.com/simplemooc/simplemooc/apps/api/echo"
	"github.com/simplemooc/simplemooc/core/user"
	testutil "github.com/simplemooc/simplemooc/tests"
)

func Test_userApi_register(t *testing.T) {
	resetDB(t)

	testutil.CreateUser(t, usrRepo, "Taken", "taken", "taken@test.cd", "", nil, true)

	reqMsg := "this field is required"
	newUser := func(uname, email, pwd, pwdConfirm string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name: "New Guy", Username: uname, Email: email,
			Password: pwd, PasswordConfirm: pwdConfirm, Roles: roles,
		})
	}

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"username": reqMsg, "email": reqMsg,
				"password": "password must contain at least 8 characters", "password_confirm": reqMsg,
			}),
		},
		{
			name: "invalid username", wantCode: http.StatusBadRequest,
			body:     newUser("he!!o", "new@test.cd", "gibberish97", "gibberish97"),
			wantData: marchallObj(t, map[string]string{"username": "username may only contain letters, numbers and @/./+/-/_ characters"}),
		},
		{
			name: "username too short", wantCode: http.StatusBadRequest,
			body:     newUser("ab", "new@test.cd", "gibberish97", "gibberish97"),
			wantData: marchallObj(t, map[string]string{"username": "username must be at least 3 characters in length"}),
		},
		{
			name: "invalid email", wantCode: http.StatusBadRequest,
			body:     newUser("newguy", "lol", "gibberish97", "gibberish97"),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "password mismatch", wantCode: http.StatusBadRequest,
			body:     newUser("newguy", "new@test.cd", "gibberish97", "gibberish"),
			wantData: marchallObj(t, map[string]string{"password_confirm": "password_confirm must be equal to Password"}),
		},
		{
			name: "password too short", wantCode: http.StatusBadRequest,
			body:     newUser("newguy", "new@test.cd", "lol", "lol"),
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 8 characters"}),
		},
		{
			name: "password all numeric", wantCode: http.StatusBadRequest,
			body:     newUser("newguy", "new@test.cd", "19971997", "19971997"),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be entirely numeric"}),
		},
		{
			name: "password too common", wantCode: http.StatusBadRequest,
			body:     newUser("newguy", "new@test.cd", "password1", "password1"),
			wantData: marchallObj(t, map[string]string{"password": "password is too common"}),
		},
		{
			name: "password similar to username", wantCode: http.StatusBadRequest,
			body:     newUser("johnsmith", "new@test.cd", "johnsmith1", "johnsmith1"),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be similar to user attributes"}),
		},
		{
			name: "username taken", wantCode: http.StatusBadRequest,
			body:     newUser("taken", "new@test.cd", "gibberish97", "gibberish97"),
			wantData: marchallObj(t, map[string]string{"username": "a user with this username already exists"}),
		},
		{
			name: "email taken", wantCode: http.StatusBadRequest,
			body:     newUser("newguy", "taken@test.cd", "gibberish97", "gibberish97"),
			wantData: marchallObj(t, map[string]string{"email": "a user with this email already exists"}),
		},
		{
			// roles in the payload are dropped: sign-ups are always students
			name: "registered", wantCode: http.StatusCreated,
			body: newUser("newguy", "new@test.cd", "gibberish97", "gibberish97", user.RoleAdmin),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData echoapi.RegisterResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if respData.User.ID == "" {
					t.Error("failed! empty user ID")
				}
				if !respData.User.IsActive {
					t.Error("failed! new user is inactive")
				}
				if len(respData.User.Roles) != 1 || respData.User.Roles[0] != user.RoleStudent {
					t.Errorf("failed! roles = %v; want default student role", respData.User.Roles)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_login(t *testing.T) {
	resetDB(t)

	testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "gibberish97", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, usrRepo, "N Dog", "ndog", "ndog@test.cd", "gibberish97", []string{user.RoleStudent}, false)

	login := func(uname, pwd string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Username: uname, Password: pwd})
	}

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest, body: login("nobody", "gibberish97"),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest, body: login("hero", "nope"),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", wantCode: http.StatusForbidden, body: login("ndog", "gibberish97"),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "login with username", wantCode: http.StatusOK, body: login("hero", "gibberish97")},
		{name: "login with email", wantCode: http.StatusOK, body: login("hero@test.cd", "gibberish97")},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	resetDB(t)

	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "gibberish97", []string{user.RoleStudent}, true)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	linkRegex := regexp.MustCompile(`/password-reset-confirm\?uid=[\w-]+&(?:amp;)?token=[\w-]+`)

	type extraTest struct {
		emailSent bool
		to        mail.Address
	}
	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": "this field is required"})},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.com"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "known email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: student.Email}),
			wantData: successData, extra: extraTest{emailSent: true, to: mail.Address{Name: student.Name, Address: student.Email}},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			mailMock.Clear()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if extra, ok := tt.extra.(extraTest); ok {
				sent := mailMock.Sent()
				if extra.emailSent {
					if len(sent) != 1 {
						t.Fatalf("failed! len(sent) = %d; want 1", len(sent))
					}
					msg := sent[0]
					if msg.To[0] != extra.to {
						t.Errorf("failed! To = %v; want %v", msg.To[0], extra.to)
					}
					if !strings.Contains(msg.TextContent, extra.to.Name) {
						t.Errorf("failed! text content does not contain recipient's name %q", extra.to.Name)
					}
					if !strings.Contains(msg.HTMLContent, extra.to.Name) {
						t.Errorf("failed! HTML content does not contain recipient's name %q", extra.to.Name)
					}
					if !linkRegex.MatchString(msg.TextContent) {
						t.Errorf("failed! text content does not match linkRegex %v", linkRegex)
					}
					if !linkRegex.MatchString(msg.HTMLContent) {
						t.Errorf("failed! HTML content does not match linkRegex %v", linkRegex)
					}
				} else if len(sent) > 0 {
					t.Errorf("failed! len(sent) = %d; want 0", len(sent))
				}
			}
		})
	}
}

func Test_userApi_confirmPasswordReset(t *testing.T) {
	resetDB(t)

	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "gibberish97", []string{user.RoleStudent}, true)
	validUID := user.EncodeUID(student)

	// mint a usable ledger entry and fish the token out of the mail
	if err := usrSvc.RequestPasswordReset(context.Background(), student.Email); err != nil {
		t.Fatalf("RequestPasswordReset() failed: %v", err)
	}
	sent := mailMock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reset mail, got %d", len(sent))
	}
	match := regexp.MustCompile(`uid=([\w-]+)&(?:amp;)?token=([\w-]+)`).FindStringSubmatch(sent[0].TextContent)
	if match == nil {
		t.Fatalf("no reset link found in mail body:\n%s", sent[0].TextContent)
	}
	validToken := match[2]

	reqMsg := "this field is required"
	invalidToken := marchallObj(t, httpErr{Error: "invalid token"})
	resetReq := func(token, uid, pwd, pwdConfirm string) []byte {
		return marchallObj(t, user.ResetUserPassword{Token: token, UID: uid, Password: pwd, PasswordConfirm: pwdConfirm})
	}

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"token": reqMsg, "uid": reqMsg, "password": reqMsg, "password_confirm": reqMsg}),
		},
		{
			name: "invalid pwd: min len", wantCode: http.StatusBadRequest,
			body:     resetReq("lol", "lol", "lol", "lol"),
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 8 characters"}),
		},
		{
			name: "invalid pwd: no whitespace", wantCode: http.StatusBadRequest,
			body:     resetReq("lol", "lol", "l o loll", "l o loll"),
			wantData: marchallObj(t, map[string]string{"password": "password must not contain whitespace"}),
		},
		{
			name: "invalid pwd: not all numeric", wantCode: http.StatusBadRequest,
			body:     resetReq("lol", "lol", "19971997", "19971997"),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be entirely numeric"}),
		},
		{
			name: "invalid pwd: too common", wantCode: http.StatusBadRequest,
			body:     resetReq("lol", "lol", "password1", "password1"),
			wantData: marchallObj(t, map[string]string{"password": "password is too common"}),
		},
		{
			name: "PasswordConfirm must = Password", wantCode: http.StatusBadRequest,
			body:     resetReq("lol", "lol", "gibberish97", "lol"),
			wantData: marchallObj(t, map[string]string{"password_confirm": "password_confirm must be equal to Password"}),
		},
		{
			name: "invalid uid", wantCode: http.StatusBadRequest,
			body: resetReq("lol", "%%%", "gibberish97", "gibberish97"), wantData: invalidToken,
		},
		{
			name: "user not found", wantCode: http.StatusBadRequest,
			body: resetReq("lol", "OTk5", "gibberish97", "gibberish97"), wantData: invalidToken,
		},
		{
			name: "token not in ledger", wantCode: http.StatusBadRequest,
			body: resetReq("HE4TS-sigsig-sig", validUID, "gibberish97", "gibberish97"), wantData: invalidToken,
		},
		{
			name: "valid token", wantCode: http.StatusOK,
			body:     resetReq(validToken, validUID, "gibberish97a", "gibberish97a"),
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
		{
			// the ledger entry is single-use
			name: "token reuse", wantCode: http.StatusBadRequest,
			body: resetReq(validToken, validUID, "gibberish97b", "gibberish97b"), wantData: invalidToken,
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset-confirm"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				refreshed, err := usrRepo.GetUserByID(context.Background(), student.ID)
				if err != nil {
					t.Fatalf("GetUserByID() failed: %v", err)
				}
				if bytes.Equal(refreshed.PasswordHash, student.PasswordHash) {
					t.Fatal("failed to update new password")
				}
			}
		})
	}
}

func Test_userApi_userQuery(t *testing.T) {
	resetDB(t)

	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false)

	adminToken := getToken(t, admin)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Get all", path: "/v1/users", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, student, teacher, admin, naughty),
		},
		{
			name: "search", path: "/v1/users?search=hero", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, student),
		},
		{
			name: "role filter", path: "/v1/users?role=" + user.RoleStudent, token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, student, naughty),
		},
		{
			name: "is_active filter", path: "/v1/users?is_active=false", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, naughty),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userDetail(t *testing.T) {
	resetDB(t)

	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, usrRepo, "Other", "other", "other@test.cd", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	studentToken := getToken(t, student)
	adminToken := getToken(t, admin)

	tests := []httpTest{
		{
			name: "Auth required", method: http.MethodGet, path: "/v1/users/" + student.ID,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "Own detail", method: http.MethodGet, path: "/v1/users/" + student.ID, token: studentToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, student),
		},
		{
			name: "Someone else's detail is hidden", method: http.MethodGet, path: "/v1/users/" + other.ID, token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Admin sees any detail", method: http.MethodGet, path: "/v1/users/" + other.ID, token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, other),
		},
		{
			name: "Non-admin cannot change roles", method: http.MethodPut, path: "/v1/users/" + student.ID, token: studentToken,
			body:     marchallObj(t, user.UpdateUser{Roles: []string{user.RoleAdmin}}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Destroy is admin-only", method: http.MethodDelete, path: "/v1/users/" + student.ID, token: studentToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			// Say No to Suicide! admins cannot delete themselves
			name: "No self-delete", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Admin deletes", method: http.MethodDelete, path: "/v1/users/" + other.ID, token: adminToken, wantCode: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusNoContent {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
