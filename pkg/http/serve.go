package xhttp

import (
	"os"
	"os/signal"
	"reflect"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

const (
	StatusOK                  = fasthttp.StatusOK
	StatusCreated             = fasthttp.StatusCreated
	StatusAccepted            = fasthttp.StatusAccepted
	StatusFound               = fasthttp.StatusFound
	StatusBadRequest          = fasthttp.StatusBadRequest
	StatusNotFound            = fasthttp.StatusNotFound
	StatusConflict            = fasthttp.StatusConflict
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusUnprocessableEntity = fasthttp.StatusUnprocessableEntity
	StatusInternalServerError = fasthttp.StatusInternalServerError
)

func StatusText(code int) string {
	return fasthttp.StatusMessage(code)
}

// ServerOption carries the tunables we actually vary between services.
// Anything not listed here can still be set on Engine.Server directly
// before ListenAndServe.
type ServerOption struct {
	Handler            RequestHandler
	Name               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ReadBufferSize     int
	WriteBufferSize    int
	MaxRequestBodySize int
	Concurrency        int
	MaxConnsPerIP      int
	Logger             logger.Logger
}

// DefaultServerOption is tuned for the API surface of this service:
// small JSON bodies, short-lived requests, lots of tracking hits.
var DefaultServerOption = ServerOption{
	Handler:            NotFoundHandler,
	ReadTimeout:        time.Millisecond * 2500,
	WriteTimeout:       time.Millisecond * 2500,
	IdleTimeout:        time.Second * 10,
	ReadBufferSize:     1024 * 4, // also caps header size
	WriteBufferSize:    1024 * 4,
	MaxRequestBodySize: 1024 * 1024, // campaign payloads are small
	Concurrency:        30_000,
	MaxConnsPerIP:      10_000,
}

// Engine couples a fasthttp server with a router and a middleware
// chain. Routes are registered on the embedded Router; the chain is
// assembled once in DoRouting before the server starts.
type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func NewServer(opt ServerOption) *Engine {
	lg := opt.Logger
	if lg == nil {
		lg = logger.GetLogger()
	}
	return &Engine{
		Router: NewRouter(),
		Server: &fasthttp.Server{
			Handler:                      opt.Handler,
			Name:                         opt.Name,
			ReadTimeout:                  opt.ReadTimeout,
			WriteTimeout:                 opt.WriteTimeout,
			IdleTimeout:                  opt.IdleTimeout,
			ReadBufferSize:               opt.ReadBufferSize,
			WriteBufferSize:              opt.WriteBufferSize,
			MaxRequestBodySize:           opt.MaxRequestBodySize,
			Concurrency:                  opt.Concurrency,
			MaxConnsPerIP:                opt.MaxConnsPerIP,
			TCPKeepalive:                 true,
			TCPKeepalivePeriod:           time.Minute * 120,
			MaxIdleWorkerDuration:        time.Minute,
			DisablePreParseMultipartForm: true,
			LogAllErrors:                 true,
			NoDefaultServerHeader:        true,
			NoDefaultDate:                true,
			NoDefaultContentType:         true,
			CloseOnShutdown:              true,
			Logger:                       lg,
		},
	}
}

func CreateServer() *Engine {
	e := NewServer(DefaultServerOption)
	e.Router = CreateDefaultRouter()
	return e
}

func (e *Engine) ListenAndServe(addr string) error {
	if err := e.DoRouting(); err != nil {
		return err
	}
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router as the server handler and wraps it
// with the middleware chain. Middlewares run in the order they were
// added with Use, so the chain is applied in reverse.
func (e *Engine) DoRouting() error {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			e.Server.Logger.Printf("[xhttp] route: %s %s", method, r)
		}
	}
	e.Server.Handler = e.Router.Handler
	slices.Reverse(e.middle)
	for i, m := range e.middle {
		e.Server.Handler = m(e.Server.Handler)
		e.Server.Logger.Printf("[xhttp] middleware %d registered - %s", i+1, runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	return nil
}

// Use appends middleware to the chain; it runs for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

func (e *Engine) CloseOnSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig
		e.Shutdown()
	}()
}

// Shutdown gracefully stops the server without interrupting active
// connections.
func (e *Engine) Shutdown() {
	e.Server.Logger.Printf("[xhttp] server is shutting down, process id: %d", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
	}
}
