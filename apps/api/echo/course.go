package echoapi

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/simplemooc/simplemooc/core"
	"github.com/simplemooc/simplemooc/core/course"
	"github.com/simplemooc/simplemooc/core/user"
)

var errCrsNotFoundInCtx = errors.New("course object not found in echo.Context")

type courseApi struct {
	svc      course.Service
	userSvc  user.Service
	conf     *core.Config
	validate *validator.Validate
}

func registerCourseAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc course.Service,
	userSvc user.Service,
	conf *core.Config,
	validate *validator.Validate,
) {
	api := courseApi{
		svc:      svc,
		userSvc:  userSvc,
		conf:     conf,
		validate: validate,
	}

	cg := g.Group("/courses")

	// un-authed endpoints: the catalog is public
	cg.GET("", api.query)
	cg.POST("", api.create, jwt, staffMiddleware())
	cg.GET("/mine", api.mine, jwt)

	// detail endpoints
	dg := cg.Group("/:slug", api.ctxCourseMiddleware())
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, jwt, staffMiddleware())
	dg.DELETE("", api.destroy, jwt, adminMiddleware())
	dg.PUT("/image", api.setImage, jwt, staffMiddleware())
	dg.POST("/contact", api.contact)

	dg.POST("/enrollment", api.enroll, jwt)
	dg.DELETE("/enrollment", api.unenroll, jwt)

	lg := dg.Group("/lessons", jwt)
	lg.GET("", api.queryLessons)
	lg.POST("", api.createLesson, staffMiddleware())
	lg.GET("/:lessonID", api.retrieveLesson)
	lg.GET("/:lessonID/materials", api.queryMaterials)
	lg.POST("/:lessonID/materials", api.addMaterial, staffMiddleware())

	ag := dg.Group("/announcements", jwt)
	ag.GET("", api.queryAnnouncements)
	ag.POST("", api.announce, staffMiddleware())
	ag.GET("/:announcementID", api.retrieveAnnouncement)
	ag.GET("/:announcementID/comments", api.queryComments)
	ag.POST("/:announcementID/comments", api.comment)
}

// ctxCourseMiddleware resolves :slug and stashes the course in the context.
func (api *courseApi) ctxCourseMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			crs, err := api.svc.GetCourseBySlug(ctx.Request().Context(), ctx.Param("slug"))
			if err != nil {
				if errors.Cause(err) == course.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding course by slug")
			}
			ctx.Set("course", crs)
			return next(ctx)
		}
	}
}

func getContextCourse(ctx echo.Context) (course.Course, error) {
	if crs, ok := ctx.Get("course").(course.Course); ok {
		return crs, nil
	}
	return course.Course{}, errors.Wrap(errCrsNotFoundInCtx, "retrieving course from context")
}

// courseAccess settles what the caller may see of a course's contents:
// staff see everything (released or not); students need an approved
// enrollment; a pending one is reported as such.
type courseAccess struct {
	user  user.User
	staff bool
}

func (api *courseApi) checkCourseAccess(ctx echo.Context, crs course.Course) (courseAccess, error) {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return courseAccess{}, errors.Wrap(err, "getting context user")
	}
	if usr.IsStaff() {
		return courseAccess{user: usr, staff: true}, nil
	}

	enr, err := api.svc.GetEnrollment(ctx.Request().Context(), usr.ID, crs.ID)
	if err != nil {
		if errors.Cause(err) == course.ErrNotEnrolled {
			return courseAccess{}, errHttpForbidden
		}
		return courseAccess{}, errors.Wrap(err, "finding enrollment")
	}
	if !enr.IsApproved() {
		return courseAccess{}, echo.NewHTTPError(http.StatusForbidden, course.ErrEnrollmentPending.Error())
	}
	return courseAccess{user: usr}, nil
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []course.Course{})
	}
	filter.Clean()

	courses, err := api.svc.QueryCourses(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	crs, err := api.svc.CreateCourse(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, crs)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) update(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}

	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	crs, err = api.svc.UpdateCourse(ctx.Request().Context(), crs.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteCourse(ctx.Request().Context(), crs.ID); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) setImage(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}

	fh, err := ctx.FormFile("image")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "image", Error: "image file is required"})
	}
	image, err := api.saveUpload(fh, filepath.Join("courses", "images"))
	if err != nil {
		return errors.Wrap(err, "saving course image")
	}

	crs, err = api.svc.SetCourseImage(ctx.Request().Context(), crs.ID, image)
	if err != nil {
		return errors.Wrap(err, "setting course image")
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) contact(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}

	var data course.ContactCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ContactCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.Contact(ctx.Request().Context(), crs, data); err != nil {
		return errors.Wrap(err, "sending contact mail")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Your message was sent successfully."})
}

func (api *courseApi) mine(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	courses, err := api.svc.QueryUserCourses(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying user courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	enr, err := api.svc.Enroll(ctx.Request().Context(), usr.ID, crs.ID)
	if err != nil {
		// duplicate enrollment is informational, not a failure
		if errors.Cause(err) == course.ErrAlreadyEnrolled {
			return ctx.JSON(http.StatusOK, SuccessResponse{Success: course.ErrAlreadyEnrolled.Error()})
		}
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *courseApi) unenroll(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.Unenroll(ctx.Request().Context(), usr.ID, crs.ID); err != nil {
		if errors.Cause(err) == course.ErrNotEnrolled {
			return errHttpNotFound
		}
		return errors.Wrap(err, "unenrolling")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// lessons & materials

func (api *courseApi) queryLessons(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	access, err := api.checkCourseAccess(ctx, crs)
	if err != nil {
		return err
	}

	lessons, err := api.svc.QueryLessons(ctx.Request().Context(), crs.ID, access.staff)
	if err != nil {
		return errors.Wrap(err, "querying lessons")
	}
	if lessons == nil {
		lessons = []course.Lesson{}
	}
	return ctx.JSON(http.StatusOK, lessons)
}

func (api *courseApi) createLesson(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}

	var data course.NewLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	lsn, err := api.svc.CreateLesson(ctx.Request().Context(), crs.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, lsn)
}

func (api *courseApi) retrieveLesson(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	access, err := api.checkCourseAccess(ctx, crs)
	if err != nil {
		return err
	}

	lsn, err := api.svc.GetLesson(ctx.Request().Context(), crs.ID, ctx.Param("lessonID"), access.staff)
	if err != nil {
		if errors.Cause(err) == course.ErrLessonNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding lesson")
	}
	return ctx.JSON(http.StatusOK, lsn)
}

func (api *courseApi) queryMaterials(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	access, err := api.checkCourseAccess(ctx, crs)
	if err != nil {
		return err
	}

	// unreleased lessons keep their materials out of sight too
	lsn, err := api.svc.GetLesson(ctx.Request().Context(), crs.ID, ctx.Param("lessonID"), access.staff)
	if err != nil {
		if errors.Cause(err) == course.ErrLessonNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding lesson")
	}

	materials, err := api.svc.QueryMaterials(ctx.Request().Context(), lsn.ID)
	if err != nil {
		return errors.Wrap(err, "querying materials")
	}
	if materials == nil {
		materials = []course.Material{}
	}
	return ctx.JSON(http.StatusOK, materials)
}

func (api *courseApi) addMaterial(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}

	data := course.NewMaterial{
		Name:     ctx.FormValue("name"),
		Embedded: ctx.FormValue("embedded"),
	}
	if fh, err := ctx.FormFile("file"); err == nil {
		file, err := api.saveUpload(fh, filepath.Join("lessons", "materials"))
		if err != nil {
			return errors.Wrap(err, "saving material file")
		}
		data.File = file
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	mat, err := api.svc.AddMaterial(ctx.Request().Context(), crs.ID, ctx.Param("lessonID"), data)
	if err != nil {
		if errors.Cause(err) == course.ErrLessonNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "adding material")
	}
	return ctx.JSON(http.StatusCreated, mat)
}

// announcements & comments

func (api *courseApi) queryAnnouncements(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	if _, err := api.checkCourseAccess(ctx, crs); err != nil {
		return err
	}

	announcements, err := api.svc.QueryAnnouncements(ctx.Request().Context(), crs.ID)
	if err != nil {
		return errors.Wrap(err, "querying announcements")
	}
	if announcements == nil {
		announcements = []course.Announcement{}
	}
	return ctx.JSON(http.StatusOK, announcements)
}

func (api *courseApi) announce(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}

	var data course.NewAnnouncement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnouncement")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ann, err := api.svc.Announce(ctx.Request().Context(), crs, data)
	if err != nil {
		return errors.Wrap(err, "creating announcement")
	}
	return ctx.JSON(http.StatusCreated, ann)
}

func (api *courseApi) retrieveAnnouncement(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	if _, err := api.checkCourseAccess(ctx, crs); err != nil {
		return err
	}

	ann, err := api.svc.GetAnnouncement(ctx.Request().Context(), crs.ID, ctx.Param("announcementID"))
	if err != nil {
		if errors.Cause(err) == course.ErrAnnouncementNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding announcement")
	}
	return ctx.JSON(http.StatusOK, ann)
}

func (api *courseApi) queryComments(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	if _, err := api.checkCourseAccess(ctx, crs); err != nil {
		return err
	}

	ann, err := api.svc.GetAnnouncement(ctx.Request().Context(), crs.ID, ctx.Param("announcementID"))
	if err != nil {
		if errors.Cause(err) == course.ErrAnnouncementNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding announcement")
	}

	comments, err := api.svc.QueryComments(ctx.Request().Context(), ann.ID)
	if err != nil {
		return errors.Wrap(err, "querying comments")
	}
	if comments == nil {
		comments = []course.Comment{}
	}
	return ctx.JSON(http.StatusOK, comments)
}

func (api *courseApi) comment(ctx echo.Context) error {
	crs, err := getContextCourse(ctx)
	if err != nil {
		return err
	}
	access, err := api.checkCourseAccess(ctx, crs)
	if err != nil {
		return err
	}

	ann, err := api.svc.GetAnnouncement(ctx.Request().Context(), crs.ID, ctx.Param("announcementID"))
	if err != nil {
		if errors.Cause(err) == course.ErrAnnouncementNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding announcement")
	}

	var data course.NewComment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewComment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	cmt, err := api.svc.CommentAnnouncement(ctx.Request().Context(), access.user.ID, ann.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating comment")
	}
	return ctx.JSON(http.StatusCreated, cmt)
}

// saveUpload stores a multipart upload under MediaRoot/subdir with a random
// name and returns its media-relative path.
func (api *courseApi) saveUpload(fh *multipart.FileHeader, subdir string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "opening upload")
	}
	defer src.Close()

	name := uuid.New().String() + filepath.Ext(fh.Filename)
	dir := filepath.Join(api.conf.MediaRoot, subdir)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating media dir")
	}

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", errors.Wrap(err, "creating media file")
	}
	defer dst.Close()

	if _, err = io.Copy(dst, src); err != nil {
		return "", errors.Wrap(err, "writing media file")
	}
	return filepath.ToSlash(filepath.Join(subdir, name)), nil
}
