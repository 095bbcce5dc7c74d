// Package api provides the rest-like public server for the micropub endpoints:
// client authorization, code-for-token exchange and the protected content
// acceptance routes, plus public serving of stored media files.
package api

import (
	"context"
	"crypto/sha1" //nolint:gosec // no security sensitive data, just ip anonymization
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth_chi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	log "github.com/go-pkgz/lgr"
	R "github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"

	"github.com/umputun/pubd/app/notify"
	"github.com/umputun/pubd/app/store/media"
	"github.com/umputun/pubd/app/store/posts"
	"github.com/umputun/pubd/app/store/service"
)

// Rest is a rest access server
type Rest struct {
	Version string

	DataService *service.AuthStore
	MediaStore  media.Store
	PostsStore  posts.Store
	Notifier    *notify.Service
	ClientInfo  *service.ClientInfo

	PubURL      string // base url of this server, i.e. https://pub.example.com
	MaxBodySize int64

	SSLConfig   SSLConfig
	httpsServer *http.Server
	httpServer  *http.Server
	lock        sync.Mutex
}

const hardBodyLimit = 1024 * 64 // limit size of non-media bodies

// Run the listener and request's router, activate rest server
func (s *Rest) Run(address string, port int) {
	if address == "*" {
		address = "" // listen on all interfaces
	}
	switch s.SSLConfig.SSLMode {
	case None:
		log.Printf("[INFO] activate http rest server on %s:%d", address, port)

		s.lock.Lock()
		s.httpServer = s.makeHTTPServer(address, port, s.routes())
		s.lock.Unlock()

		err := s.httpServer.ListenAndServe()
		log.Printf("[WARN] http server terminated, %s", err)
	case Static:
		log.Printf("[INFO] activate https server in 'static' mode on %s:%d", address, s.SSLConfig.Port)

		s.lock.Lock()
		s.httpsServer = s.makeHTTPSServer(address, s.SSLConfig.Port, s.routes())
		s.httpServer = s.makeHTTPServer(address, port, s.httpToHTTPSRouter())
		s.lock.Unlock()

		go func() {
			log.Printf("[INFO] activate http redirect server on %s:%d", address, port)
			err := s.httpServer.ListenAndServe()
			log.Printf("[WARN] http redirect server terminated, %s", err)
		}()

		err := s.httpsServer.ListenAndServeTLS(s.SSLConfig.Cert, s.SSLConfig.Key)
		log.Printf("[WARN] https server terminated, %s", err)
	case Auto:
		log.Printf("[INFO] activate https server in 'auto' mode on %s:%d", address, s.SSLConfig.Port)

		m := s.makeAutocertManager()
		s.lock.Lock()
		s.httpsServer = s.makeHTTPSAutocertServer(address, s.SSLConfig.Port, s.routes(), m)
		s.httpServer = s.makeHTTPServer(address, port, s.httpChallengeRouter(m))
		s.lock.Unlock()

		go func() {
			log.Printf("[INFO] activate http challenge server on %s:%d", address, port)
			err := s.httpServer.ListenAndServe()
			log.Printf("[WARN] http challenge server terminated, %s", err)
		}()

		err := s.httpsServer.ListenAndServeTLS("", "")
		log.Printf("[WARN] https server terminated, %s", err)
	}
}

// Shutdown rest http server
func (s *Rest) Shutdown() {
	log.Print("[WARN] shutdown rest server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.lock.Lock()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[DEBUG] http shutdown error, %s", err)
		}
		log.Print("[DEBUG] shutdown http server completed")
	}

	if s.httpsServer != nil {
		log.Print("[WARN] shutdown https server")
		if err := s.httpsServer.Shutdown(ctx); err != nil {
			log.Printf("[DEBUG] https shutdown error, %s", err)
		}
		log.Print("[DEBUG] shutdown https server completed")
	}
	s.lock.Unlock()
}

func (s *Rest) makeHTTPServer(address string, port int, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
}

func (s *Rest) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(R.RealIP, R.Recoverer(log.Default()))
	router.Use(R.Throttle(1000), R.AppInfo("pubd", "umputun", s.Version), R.Ping)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
	router.Use(corsMiddleware.Handler)

	ipFn := func(ip string) string { // anonymize ips in logs
		h := sha1.Sum([]byte(ip)) //nolint:gosec // no security sensitive data
		return fmt.Sprintf("%x", h[:6])
	}
	logInfo := logger.New(logger.Log(log.Default()), logger.Prefix("[INFO]"), logger.IPfn(ipFn)).Handler

	maxBody := s.MaxBodySize
	if maxBody <= 0 {
		maxBody = hardBodyLimit
	}

	// authorization flow routes
	router.Group(func(rauth chi.Router) {
		rauth.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(10, nil)))
		rauth.Use(logInfo, R.SizeLimit(maxBody))
		rauth.Get("/auth", s.authCtrl)
		rauth.Post("/token", s.tokenCtrl)
	})

	router.Route("/micropub", func(rmicro chi.Router) {
		// protected content acceptance routes
		rmicro.Group(func(rpub chi.Router) {
			rpub.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(10, nil)))
			rpub.Use(logInfo, s.tokenAuth)
			rpub.With(R.SizeLimit(maxBody)).Get("/", s.configCtrl)
			rpub.With(R.SizeLimit(maxBody)).Post("/", s.postCtrl)
			rpub.Post("/media", s.uploadMediaCtrl) // no size cap, media store enforces its own limit
		})

		// public serve of stored media
		rmicro.With(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(100, nil)),
			logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]"), logger.IPfn(ipFn)).Handler).
			Get("/media/{id}", s.serveMediaCtrl)
	})

	return router
}
