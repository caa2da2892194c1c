package folio

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/folio/content"
	"github.com/eringen/folio/docstore"
	"github.com/eringen/folio/uploads"
)

type apiError struct {
	Error string `json:"error"`
}

// statusFor maps store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, content.ErrInvalidEntry), errors.Is(err, uploads.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrRelocationFailed), errors.Is(err, content.ErrKeyChanged),
		errors.Is(err, uploads.ErrUndecided):
		return http.StatusConflict
	case errors.Is(err, docstore.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) fail(c echo.Context, err error) error {
	code := statusFor(err)
	if code >= 500 {
		a.log.Error("admin api", zap.String("path", c.Path()), zap.Error(err))
		if code == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", "1")
		}
	}
	return c.JSON(code, apiError{Error: err.Error()})
}

// handleCSRF hands the CSRF token of this request to script clients, which
// send it back in the X-CSRF-Token header.
func handleCSRF(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"token": CsrfToken(c)})
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Allow(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) != 1 {
		return c.String(http.StatusUnauthorized, "Invalid password")
	}
	a.loginLimiter.Reset(ip)
	if err := setAdminSession(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleEntryList(c echo.Context) error {
	list, err := a.Entries.List(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (a *App) handleEntryGet(c echo.Context) error {
	e, err := a.Entries.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (a *App) handleEntryCreate(c echo.Context) error {
	var fields content.Entry
	if err := c.Bind(&fields); err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: "invalid entry payload"})
	}
	fields.Categories = FilterEmpty(fields.Categories)
	e, err := a.Entries.Create(c.Request().Context(), fields)
	if err != nil {
		return a.fail(c, err)
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusCreated, e)
}

type updateResponse struct {
	content.UpdateResult
	Warnings []string `json:"warnings,omitempty"`
}

func (a *App) handleEntryUpdate(c echo.Context) error {
	var patch content.Patch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: "invalid patch payload"})
	}
	if patch.Categories != nil {
		cats := FilterEmpty(*patch.Categories)
		patch.Categories = &cats
	}
	res, err := a.Entries.Update(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return a.fail(c, err)
	}
	a.Cache.Invalidate()

	out := updateResponse{UpdateResult: res}
	for _, w := range res.Warnings() {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (a *App) handleEntryDelete(c echo.Context) error {
	if err := a.Entries.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return a.fail(c, err)
	}
	a.Cache.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleBodyGet(c echo.Context) error {
	body, err := a.Entries.Body(c.Request().Context(), c.Param("id"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.HTML(http.StatusOK, body)
}

func (a *App) handleBodySave(c echo.Context) error {
	limit := a.Config.MaxUploadSize
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, limit+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: "could not read body"})
	}
	if int64(len(data)) > limit {
		return c.JSON(http.StatusRequestEntityTooLarge, apiError{Error: fmt.Sprintf("body exceeds %d bytes", limit)})
	}
	if err := a.Entries.SaveBody(c.Request().Context(), c.Param("id"), string(data)); err != nil {
		return a.fail(c, err)
	}
	a.Cache.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

type sidecarRequest struct {
	URL      string                  `json:"url"`
	Metadata content.CaptureMetadata `json:"metadata"`
}

// handleSidecarPut records capture metadata produced by an external EXIF
// extractor for an already stored file.
func (a *App) handleSidecarPut(c echo.Context) error {
	var req sidecarRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return c.JSON(http.StatusBadRequest, apiError{Error: "url is required"})
	}
	if err := a.Entries.Sidecar().Put(c.Request().Context(), req.URL, req.Metadata); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleSidecarPrune(c echo.Context) error {
	n, err := a.Entries.PruneSidecar(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": n})
}
