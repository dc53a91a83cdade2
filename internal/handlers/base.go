package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"memoria/internal/errs"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

// statusFor maps an error kind onto the HTTP status the client sees.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.Forbidden, errs.QuotaExceeded:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Invalid:
		return http.StatusBadRequest
	case errs.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError is the only way handlers report failures:
// {"error": <public message>, "code": <kind>}. Upstream causes are attached
// to the context for the request logger and never sent to the client.
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	if kind == errs.Upstream {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(statusFor(kind), gin.H{
		"error": errs.Public(err),
		"code":  kind,
	})
}

// bindError reports a request body that failed binding validation.
func bindError(c *gin.Context, err error) {
	respondError(c, errs.Wrap(errs.Invalid, err, "invalid request: "+err.Error()))
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, ok := utils.ParseID(c.Param(name))
	if !ok {
		respondError(c, errs.Errorf(errs.NotFound, "not found"))
	}
	return id, ok
}

// formUpload opens the named multipart image. A missing file yields a nil
// upload unless required is set.
func formUpload(c *gin.Context, field string, maxSize int64, required bool) (*storage.Upload, io.Closer, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		if required {
			return nil, nil, errs.Errorf(errs.Invalid, "%s required", field)
		}
		return nil, io.NopCloser(nil), nil
	}
	if err != nil {
		return nil, nil, errs.Wrap(errs.Invalid, err, "invalid upload")
	}
	return storage.OpenUpload(fh, maxSize)
}

const dateLayout = "2006-01-02"

// parseDate reads an optional YYYY-MM-DD field.
func parseDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil, errs.Errorf(errs.Invalid, "%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func pageQuery(c *gin.Context) (limit, offset int) {
	return utils.StringToInt(c.Query("limit"), 0), utils.StringToInt(c.Query("offset"), 0)
}
