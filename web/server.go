// Package web serves the archive as HTML.
//
// Month and message pages keep the URLs of the MHonARC archive the
// site replaces: /2001-01/maillist.html, /2001-01/threads.html and
// /2001-01/msg00012.html.
//
// A request for something the archive does not have is answered
// with 404. A request that cannot name anything, such as a month 13
// or a message number that is not a number, is answered with 444 and
// no body. Clients that keep sending those are slowed down.
package web

import (
	"context"
	"errors"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crarchive.org/archivedb"
	"crarchive.org/search/index"
	"crarchive.org/util/throttle"
)

// StatusMalformed answers requests that cannot name a resource.
const StatusMalformed = 444

type Options struct {
	Title       string
	Templates   string // directory of templates overriding the built-in ones
	PageSize    int    // search hits per page
	Snippets    int    // fragments shown per search hit
	MaxQueryLen int    // longest search query accepted, in bytes

	RateLimit float64 // searches per second per client, 0 for no limit
	RateBurst int

	// Throttle slows clients sending malformed requests.
	// If nil, a default Throttle is used.
	Throttle *throttle.Throttle

	// Registry receives the server metrics.
	// If nil, a new registry is created.
	Registry *prometheus.Registry
}

type Server struct {
	DB       *archivedb.DB
	Searcher *index.Searcher
	Logf     func(format string, v ...interface{})

	opts     Options
	tmpl     *template.Template
	router   *mux.Router
	limiters *limiterPool
	throttle *throttle.Throttle
	metrics  *metrics
	registry *prometheus.Registry
}

func New(db *archivedb.DB, opts Options) (*Server, error) {
	if opts.Title == "" {
		opts.Title = "Classic Rendezvous Archive"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.MaxQueryLen <= 0 {
		opts.MaxQueryLen = 256
	}
	s := &Server{
		DB:       db,
		Searcher: &index.Searcher{Index: db.Index, Snippets: opts.Snippets},
		Logf:     log.Printf,
		opts:     opts,
		throttle: opts.Throttle,
		registry: opts.Registry,
	}
	if s.throttle == nil {
		s.throttle = &throttle.Throttle{}
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if opts.RateLimit > 0 {
		s.limiters = newLimiterPool(opts.RateLimit, opts.RateBurst)
	}
	var err error
	if s.metrics, err = newMetrics(s.registry); err != nil {
		return nil, err
	}
	if s.tmpl, err = loadTemplates(opts.Templates); err != nil {
		return nil, err
	}
	s.Searcher.Logf = func(format string, v ...interface{}) { s.Logf(format, v...) }
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.StrictSlash(false)
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.malformed)
	r.Use(s.routeName)

	get := func(name, path string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(http.MethodGet, http.MethodHead).Name(name)
	}
	get("calendar", "/", s.handleCalendar)
	get("healthz", "/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).
		Methods(http.MethodGet).Name("metrics")
	get("search", "/search", s.handleSearch)
	get("topics", "/topics/", s.handleTopics)
	get("topic", "/topic/{id}", s.handleTopic)
	get("thread", "/thread/{id}", s.handleThread)
	get("msg", "/msg/{id}", s.handleMsgID)
	get("message-id", "/message-id/{id:.+}", s.handleMessageID)
	get("att", "/att/{id}/{part}", s.handleAttachment)

	// MHonARC pages.
	const month = "/{month:[0-9]+-[0-9]+}"
	get("month", month+"/", s.handleMonthRedirect)
	get("month-noslash", month, s.handleMonthRedirect)
	get("maillist", month+"/maillist.html", s.handleMonth(archivedb.ByDate))
	get("threads", month+"/threads.html", s.handleMonth(archivedb.ByThread))
	get("msgpage", month+"/msg{seq}.html", s.handleMsgPage)
	return r
}

// ServeHTTP slows clients with recent malformed requests, serves r
// and records metrics.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ip := clientIP(r)
	s.throttle.Throttle(ip)

	sw := &statusWriter{ResponseWriter: w, route: "none"}
	s.router.ServeHTTP(sw, r)
	if sw.code == 0 {
		sw.code = http.StatusOK
	}
	if sw.code == StatusMalformed {
		s.throttle.Add(ip)
		s.metrics.malformed.Inc()
	}
	s.metrics.observe(sw.route, sw.code, time.Since(start))
}

// routeName records the matched route for metrics.
func (s *Server) routeName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sw, ok := w.(*statusWriter); ok {
			if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
				sw.route = route.GetName()
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code  int
	route string
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) logf(format string, v ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, v...)
	}
}

// malformed answers a request that names nothing, without a body.
func (s *Server) malformed(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(StatusMalformed)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "notfound.html", &page{Title: "Not found"})
}

// fail reports err from the archive. A missing resource is a 404.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, archivedb.ErrNotFound) {
		s.notFound(w, r)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logf("web: %s: %v", r.URL.Path, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.DB.Months(r.Context()); err != nil {
		s.logf("web: healthz: %v", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}
