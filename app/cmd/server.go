package cmd

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/umputun/pubd/app/notify"
	"github.com/umputun/pubd/app/rest/api"
	"github.com/umputun/pubd/app/store/engine"
	"github.com/umputun/pubd/app/store/media"
	"github.com/umputun/pubd/app/store/posts"
	"github.com/umputun/pubd/app/store/service"
)

// ServerCommand with command line flags and env
type ServerCommand struct {
	Store      StoreGroup      `group:"store" namespace:"store" env-namespace:"STORE"`
	Media      MediaGroup      `group:"media" namespace:"media" env-namespace:"MEDIA"`
	Posts      PostsGroup      `group:"posts" namespace:"posts" env-namespace:"POSTS"`
	Notify     NotifyGroup     `group:"notify" namespace:"notify" env-namespace:"NOTIFY"`
	ClientInfo ClientInfoGroup `group:"client-info" namespace:"client-info" env-namespace:"CLIENT_INFO"`
	SSL        SSLGroup        `group:"ssl" namespace:"ssl" env-namespace:"SSL"`

	Address     string `long:"address" env:"PUBD_ADDRESS" default:"" description:"listening address"`
	Port        int    `long:"port" env:"PUBD_PORT" default:"8080" description:"port"`
	MaxBodySize int64  `long:"max-body-size" env:"PUBD_MAX_BODY_SIZE" default:"65536" description:"max request body size"`

	CommonOpts
}

// StoreGroup defines options group for authorization store params
type StoreGroup struct {
	Type string `long:"type" env:"TYPE" description:"type of authorization storage" choice:"fs" choice:"bolt" choice:"redis" default:"fs"` // nolint
	FS   struct {
		Path string `long:"path" env:"PATH" default:"./var" description:"parent dir for authorization files"`
	} `group:"fs" namespace:"fs" env-namespace:"FS"`
	Bolt struct {
		Path    string        `long:"path" env:"PATH" default:"./var" description:"parent dir for bolt file"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"bolt timeout"`
	} `group:"bolt" namespace:"bolt" env-namespace:"BOLT"`
	Redis struct {
		Address  string        `long:"address" env:"ADDRESS" default:"127.0.0.1:6379" description:"redis address"`
		Password string        `long:"password" env:"PASSWORD" default:"" description:"redis password"`
		DB       int           `long:"db" env:"DB" default:"0" description:"redis database"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"redis operation timeout"`
	} `group:"redis" namespace:"redis" env-namespace:"REDIS"`
}

// MediaGroup defines options group for uploaded media files storage
type MediaGroup struct {
	Type string `long:"type" env:"TYPE" description:"type of media storage" choice:"fs" choice:"bolt" default:"fs"` // nolint
	FS   struct {
		Path       string `long:"path" env:"PATH" default:"./var/media" description:"media location"`
		Partitions int    `long:"partitions" env:"PARTITIONS" default:"0" description:"partitions (subdirs)"`
	} `group:"fs" namespace:"fs" env-namespace:"FS"`
	Bolt struct {
		File string `long:"file" env:"FILE" default:"./var/media.db" description:"media bolt file location"`
	} `group:"bolt" namespace:"bolt" env-namespace:"BOLT"`
	MaxSize int `long:"max-size" env:"MAX_SIZE" default:"5000000" description:"max size of media file"`
}

// PostsGroup defines options group for accepted entries sink
type PostsGroup struct {
	Path string `long:"path" env:"PATH" default:"./var/posts" description:"accepted posts location"`
}

// NotifyGroup defines options for notification
type NotifyGroup struct {
	Type      []string `long:"type" env:"TYPE" description:"type of notification" choice:"none" choice:"webhook" choice:"telegram" default:"none" env-delim:","` //nolint
	QueueSize int      `long:"queue" env:"QUEUE" description:"size of notification queue" default:"100"`
	Webhook   struct {
		URL      string        `long:"url" env:"URL" description:"webhook notification url"`
		Template string        `long:"template" env:"TEMPLATE" default:"{{.JSON}}" description:"webhook payload template"`
		Headers  []string      `long:"headers" env:"HEADERS" env-delim:"," description:"webhook headers in Header1:Value1,Header2:Value2 format"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"webhook timeout"`
	} `group:"webhook" namespace:"webhook" env-namespace:"WEBHOOK"`
	Telegram struct {
		Token   string        `long:"token" env:"TOKEN" description:"telegram token"`
		Channel string        `long:"chan" env:"CHAN" description:"telegram channel"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"telegram timeout"`
	} `group:"telegram" namespace:"telegram" env-namespace:"TELEGRAM"`
}

// ClientInfoGroup defines options for reading client application pages
type ClientInfoGroup struct {
	Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"client page read timeout"`
	TTL     time.Duration `long:"ttl" env:"TTL" default:"15m" description:"client info cache TTL"`
}

// SSLGroup defines options group for server ssl params
type SSLGroup struct {
	Type         string `long:"type" env:"TYPE" description:"ssl (auto) support" choice:"none" choice:"static" choice:"auto" default:"none"` //nolint
	Port         int    `long:"port" env:"PORT" description:"port number for https server" default:"8443"`
	Cert         string `long:"cert" env:"CERT" description:"path to cert.pem file"`
	Key          string `long:"key" env:"KEY" description:"path to key.pem file"`
	ACMELocation string `long:"acme-location" env:"ACME_LOCATION" description:"dir where certificates will be stored by autocert manager" default:"./var/acme"`
	ACMEEmail    string `long:"acme-email" env:"ACME_EMAIL" description:"admin email for certificate notifications"`
}

// serverApp holds all active objects
type serverApp struct {
	*ServerCommand
	restSrv       *api.Rest
	dataService   *service.AuthStore
	notifyService *notify.Service
	terminated    chan struct{}
}

// Execute is the entry point for "server" command, called by flag parser
func (s *ServerCommand) Execute(_ []string) error {
	log.Printf("[INFO] start server on %s:%d", s.Address, s.Port)
	resetEnv("NOTIFY_TELEGRAM_TOKEN", "STORE_REDIS_PASSWORD")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { // catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	app, err := s.newServerApp()
	if err != nil {
		log.Printf("[PANIC] failed to setup application, %+v", err)
		return err
	}
	if err = app.run(ctx); err != nil {
		log.Printf("[ERROR] server terminated with error %+v", err)
		return err
	}
	log.Printf("[INFO] server terminated")
	return nil
}

// newServerApp prepares application and return it with all active parts
// doesn't start anything
func (s *ServerCommand) newServerApp() (*serverApp, error) {
	if !strings.HasPrefix(s.PubURL, "http://") && !strings.HasPrefix(s.PubURL, "https://") {
		return nil, errors.Errorf("invalid pubd url %s", s.PubURL)
	}
	log.Printf("[INFO] root url=%s", s.PubURL)

	storeEngine, err := s.Store.makeEngine()
	if err != nil {
		return nil, errors.Wrap(err, "failed to make authorization store engine")
	}
	dataService := &service.AuthStore{Engine: storeEngine}

	mediaStore, err := s.makeMediaStore()
	if err != nil {
		return nil, errors.Wrap(err, "failed to make media store")
	}

	postsStore, err := posts.NewFileStore(s.Posts.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to make posts store")
	}

	notifyService, err := s.makeNotify()
	if err != nil {
		log.Printf("[WARN] failed to make notify service, %s", err)
		notifyService = notify.NopService // disable notifier
	}

	sslConfig, err := s.makeSSLConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to make config of ssl server params")
	}

	srv := &api.Rest{
		Version:     s.Revision,
		DataService: dataService,
		MediaStore:  mediaStore,
		PostsStore:  postsStore,
		Notifier:    notifyService,
		ClientInfo:  service.NewClientInfo(http.Client{Timeout: s.ClientInfo.Timeout}, s.ClientInfo.TTL),
		PubURL:      s.PubURL,
		MaxBodySize: s.MaxBodySize,
		SSLConfig:   sslConfig,
	}

	return &serverApp{
		ServerCommand: s,
		restSrv:       srv,
		dataService:   dataService,
		notifyService: notifyService,
		terminated:    make(chan struct{}),
	}, nil
}

// Run all application objects
func (a *serverApp) run(ctx context.Context) error {
	go func() {
		// shutdown on context cancellation
		<-ctx.Done()
		log.Print("[INFO] shutdown initiated")
		a.restSrv.Shutdown()
		if e := a.dataService.Engine.Close(); e != nil {
			log.Printf("[WARN] failed to close authorization store, %s", e)
		}
		a.notifyService.Close()
		log.Print("[INFO] shutdown completed")
	}()

	a.restSrv.Run(a.Address, a.Port)
	close(a.terminated)
	return nil
}

// Wait for application completion (termination)
func (a *serverApp) Wait() {
	<-a.terminated
}

// makeEngine creates authorization store engine defined by the group options
func (g *StoreGroup) makeEngine() (engine.Interface, error) {
	log.Printf("[INFO] make authorization store, type=%s", g.Type)

	switch g.Type {
	case "fs":
		if err := makeDirs(g.FS.Path); err != nil {
			return nil, errors.Wrap(err, "failed to create fs store")
		}
		return engine.NewLocalFS(g.FS.Path), nil
	case "bolt":
		if err := makeDirs(g.Bolt.Path); err != nil {
			return nil, errors.Wrap(err, "failed to create bolt store")
		}
		fileName := path.Join(g.Bolt.Path, "authorizations.db")
		return engine.NewBoltDB(fileName, bolt.Options{Timeout: g.Bolt.Timeout})
	case "redis":
		return engine.NewRedis(g.Redis.Address, g.Redis.Password, g.Redis.DB, g.Redis.Timeout)
	}
	return nil, errors.Errorf("unsupported store type %s", g.Type)
}

// makeMediaStore creates store for uploaded media files
func (s *ServerCommand) makeMediaStore() (media.Store, error) {
	log.Printf("[INFO] make media store, type=%s", s.Media.Type)

	switch s.Media.Type {
	case "fs":
		if err := makeDirs(s.Media.FS.Path); err != nil {
			return nil, err
		}
		return &media.FileSystem{
			Location:   s.Media.FS.Path,
			Partitions: s.Media.FS.Partitions,
			MaxSize:    s.Media.MaxSize,
		}, nil
	case "bolt":
		if err := makeDirs(path.Dir(s.Media.Bolt.File)); err != nil {
			return nil, err
		}
		return media.NewBoltStorage(s.Media.Bolt.File, s.Media.MaxSize, bolt.Options{})
	}
	return nil, errors.Errorf("unsupported media store type %s", s.Media.Type)
}

// makeNotify creates notification service with destinations defined by options
func (s *ServerCommand) makeNotify() (*notify.Service, error) {
	var destinations []notify.Destination
	for _, t := range s.Notify.Type {
		switch t {
		case "webhook":
			wh, err := notify.NewWebhook(notify.WebhookParams{
				URL:      s.Notify.Webhook.URL,
				Template: s.Notify.Webhook.Template,
				Headers:  s.Notify.Webhook.Headers,
				Timeout:  s.Notify.Webhook.Timeout,
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to create webhook notification destination")
			}
			destinations = append(destinations, wh)
		case "telegram":
			tg, err := notify.NewTelegram(notify.TelegramParams{
				Token:   s.Notify.Telegram.Token,
				Channel: s.Notify.Telegram.Channel,
				Timeout: s.Notify.Telegram.Timeout,
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to create telegram notification destination")
			}
			destinations = append(destinations, tg)
		case "none":
		default:
			return nil, errors.Errorf("unsupported notification type %q", t)
		}
	}

	if len(destinations) == 0 {
		return notify.NopService, nil
	}
	log.Printf("[INFO] make notify, types=%s", s.Notify.Type)
	return notify.NewService(s.Notify.QueueSize, destinations...), nil
}

// makeSSLConfig translates ssl group options to api.SSLConfig
func (s *ServerCommand) makeSSLConfig() (config api.SSLConfig, err error) {
	switch s.SSL.Type {
	case "none":
		config.SSLMode = api.None
	case "static":
		if s.SSL.Cert == "" {
			return config, errors.New("path to cert.pem is required")
		}
		if s.SSL.Key == "" {
			return config, errors.New("path to key.pem is required")
		}
		config.SSLMode = api.Static
		config.Port = s.SSL.Port
		config.Cert = s.SSL.Cert
		config.Key = s.SSL.Key
	case "auto":
		config.SSLMode = api.Auto
		config.Port = s.SSL.Port
		config.ACMELocation = s.SSL.ACMELocation
		if s.SSL.ACMEEmail != "" {
			config.ACMEEmail = s.SSL.ACMEEmail
		} else if u, e := url.Parse(s.PubURL); e == nil {
			config.ACMEEmail = "admin@" + u.Hostname()
		}
	}
	return config, err
}
