package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/guard"
	"auctoritas.org/internal/httpapi"
	"auctoritas.org/internal/obs"
	"auctoritas.org/internal/registry"
	"auctoritas.org/internal/secrets"
	"auctoritas.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("AUCTORITAS_COMMIT"))

	dsn := os.Getenv("AUCTORITAS_PG_DSN")
	if dsn == "" {
		log.Fatal("missing AUCTORITAS_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	cipher, err := secrets.NewCipher(os.Getenv("AUCTORITAS_ENC_KEY"))
	if err != nil {
		log.Fatalf("config cipher: %v", err)
	}
	hasher, err := secrets.NewHasher(os.Getenv("AUCTORITAS_HASH_KEY"))
	if err != nil {
		log.Fatalf("identity hasher: %v", err)
	}

	recorder := audit.NewRecorder(pg.NewAuditStore(store))

	interceptor, err := guard.NewInterceptor(recorder)
	if err != nil {
		log.Fatalf("guard: %v", err)
	}
	reg, err := registry.New(store, cipher, hasher, interceptor)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	engine, err := authz.NewEngine(store, hasher, recorder)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	var hostFilter *httpapi.HostFilter
	if rules := os.Getenv("AUCTORITAS_IP_ALLOWLIST"); rules != "" {
		hostFilter, err = httpapi.NewHostFilter(rules, recorder)
		if err != nil {
			log.Fatalf("allowlist: %v", err)
		}
	}

	api := httpapi.New(engine, reg, httpapi.ReadyProbe{Pinger: store}, hostFilter, version)

	addr := os.Getenv("AUCTORITAS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting auctoritas-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = recorder.Close(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
