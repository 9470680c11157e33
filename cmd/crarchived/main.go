// Command crarchived serves the mailing list archive over HTTP.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"io/ioutil"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"time"

	"crawshaw.io/iox"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"

	"crarchive.org/archivedb"
	"crarchive.org/config"
	"crarchive.org/util/throttle"
	"crarchive.org/web"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log.Ltime)
	} else {
		log.SetFlags(0)
	}

	flagConfig := flag.String("config", "", "TOML configuration file")
	flagAddr := flag.String("addr", "", "address for HTTP, overrides server.addr")
	flagDBDir := flag.String("dbdir", "", "archive database directory, overrides archive.dbdir")
	flagAutocertHost := flag.String("autocert_host", "", "serve HTTPS with Let's Encrypt certificates for this host")
	flagDebugAddr := flag.String("debug_addr", "", "address for debug HTTP")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatal(err)
	}
	if *flagAddr != "" {
		cfg.Server.Addr = *flagAddr
	}
	if *flagDBDir != "" {
		cfg.Archive.DBDir = *flagDBDir
	}
	if *flagAutocertHost != "" {
		cfg.Server.AutocertHost = *flagAutocertHost
	}
	if *flagDebugAddr != "" {
		cfg.Server.DebugAddr = *flagDebugAddr
	}

	filer := iox.NewFiler(0)
	tempdir, err := ioutil.TempDir("", "crarchived-")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tempdir)
	filer.SetTempdir(tempdir)

	log.Printf("crarchived (version %s)", version)
	log.Printf("database %s", cfg.DBFile())

	db, err := archivedb.Open(filer, cfg.DBFile(), cfg.Archive.PoolSize)
	if err != nil {
		log.Fatal(err)
	}
	db.Logf = log.Printf
	if db.Trimmer, err = cfg.Trimmer(); err != nil {
		log.Fatal(err)
	}
	db.GroupBySubject = cfg.Archive.GroupBySubject
	db.Index.SetCacheSize(cfg.Search.CacheSize)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := web.New(db, web.Options{
		Title:       cfg.Archive.Title,
		Templates:   cfg.Server.Templates,
		PageSize:    cfg.Search.PageSize,
		Snippets:    cfg.Search.Snippets,
		MaxQueryLen: cfg.Search.MaxQueryLen,
		RateLimit:   cfg.Search.RateLimit,
		RateBurst:   cfg.Search.RateBurst,
		Throttle:    &throttle.Throttle{Delay: cfg.Server.ThrottleDelay.Duration},
		Registry:    reg,
	})
	if err != nil {
		log.Fatal(err)
	}
	s.Logf = log.Printf

	if cfg.Server.DebugAddr != "" {
		debugMux := http.NewServeMux()
		debugMux.HandleFunc("/debug/pprof/", pprof.Index)
		debugMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		debugMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		debugMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		debugMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		debugMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		debugServer := &http.Server{Handler: debugMux}
		go func() {
			ln, err := net.Listen("tcp", cfg.Server.DebugAddr)
			if err != nil {
				log.Printf("http debug server: %v", err)
				return
			}
			log.Printf("debug HTTP starting on %s", ln.Addr())
			err = debugServer.Serve(ln)
			if err != nil && err != http.ErrServerClosed {
				log.Printf("http debug serving error: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	var redirectServer *http.Server

	serve := func() error { return httpServer.ListenAndServe() }
	if host := cfg.Server.AutocertHost; host != "" {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.Server.AutocertDir),
			HostPolicy: autocert.HostWhitelist(host),
		}
		httpServer.Addr = ":443"
		httpServer.TLSConfig = &tls.Config{
			GetCertificate: m.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
			MinVersion:     tls.VersionTLS12,
		}
		serve = func() error { return httpServer.ListenAndServeTLS("", "") }

		// Plain HTTP answers ACME challenges and redirects to HTTPS.
		redirectServer = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           m.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := redirectServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http redirect server: %v", err)
			}
		}()
		log.Printf("autocert for %s, cache %s", host, cfg.Server.AutocertDir)
	}

	go func() {
		log.Printf("HTTP starting on %s", httpServer.Addr)
		if err := serve(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
		cancel()
	}()
	<-ctx.Done()

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("crarchived: http shutdown error: %v", err)
	}
	if redirectServer != nil {
		redirectServer.Shutdown(ctx)
	}
	if err := db.Close(); err != nil {
		log.Printf("crarchived: db close error: %v", err)
	}
	if err := filer.Shutdown(ctx); err != nil {
		log.Printf("crarchived: filer shutdown error: %v", err)
	}
	log.Printf("crarchived: shut down")
}
