package middleware

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/txserver/internal/platform/fhir"
)

// BodyLimit rejects request bodies larger than maxBytes. A declared
// Content-Length over the limit is answered with 413 and a too-costly
// OperationOutcome before the handler runs; bodies without a trustworthy
// length fail on the read that crosses the limit. maxBytes <= 0 disables it.
func BodyLimit(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if maxBytes <= 0 {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return c.JSON(http.StatusRequestEntityTooLarge, fhir.TooLargeOutcome(maxBytes))
			}
			req.Body = &cappedBody{ReadCloser: req.Body, left: maxBytes}
			return next(c)
		}
	}
}

var errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// cappedBody reads at most left bytes and one more to detect overflow.
type cappedBody struct {
	io.ReadCloser
	left int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left < 0 {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return 0, errBodyTooLarge
	}
	return n, err
}
