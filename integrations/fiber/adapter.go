package fiber

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/marshallshelly/beaconauth-plugin/auth"
)

// HTTPHandler serves a net/http handler from Fiber. The request carries
// the decorator registered by Middleware.
func HTTPHandler(h http.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		w := newResponseAdapter(c)
		h.ServeHTTP(w, newRequest(c))
		return w.flush()
	}
}

// responseAdapter buffers an http.ResponseWriter response for Fiber
type responseAdapter struct {
	c          *fiber.Ctx
	statusCode int
	headers    http.Header
	body       *bytes.Buffer
}

func newResponseAdapter(c *fiber.Ctx) *responseAdapter {
	return &responseAdapter{
		c:          c,
		statusCode: http.StatusOK,
		headers:    make(http.Header),
		body:       &bytes.Buffer{},
	}
}

func (w *responseAdapter) Header() http.Header {
	return w.headers
}

func (w *responseAdapter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *responseAdapter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
}

// flush writes the buffered response to the Fiber context
func (w *responseAdapter) flush() error {
	for key, values := range w.headers {
		for _, value := range values {
			w.c.Response().Header.Add(key, value)
		}
	}

	w.c.Status(w.statusCode)
	return w.c.Send(w.body.Bytes())
}

// newRequest builds the net/http request of a Fiber context
func newRequest(c *fiber.Ctx) *http.Request {
	parsedURL, _ := url.Parse(c.OriginalURL())
	if parsedURL == nil {
		parsedURL = &url.URL{Path: c.Path()}
	}

	req := &http.Request{
		Method:     c.Method(),
		URL:        parsedURL,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(c.Body())),
		Host:       c.Hostname(),
		RemoteAddr: c.IP(),
	}
	req.ContentLength = int64(len(c.Body()))

	for key, value := range c.Request().Header.All() {
		req.Header.Add(string(key), string(value))
	}

	ctx := c.UserContext()
	if user := User(c); user != nil {
		ctx = auth.WithUser(ctx, user)
	}
	return req.WithContext(ctx)
}
