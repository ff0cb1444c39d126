package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/config"
	"github.com/psds-microservice/support-chat-service/internal/database"
	"github.com/psds-microservice/support-chat-service/internal/handler"
	"github.com/psds-microservice/support-chat-service/internal/kafka"
	"github.com/psds-microservice/support-chat-service/internal/router"
	"github.com/psds-microservice/support-chat-service/internal/searchindex"
	"github.com/psds-microservice/support-chat-service/internal/service"
	"github.com/psds-microservice/support-chat-service/internal/userdir"
	"github.com/psds-microservice/support-chat-service/internal/ws"
)

// API — приложение режима api: HTTP-сервер с REST-фолбэком и WebSocket-каналом.
type API struct {
	cfg      *config.Config
	httpSrv  *http.Server
	hub      *ws.Hub
	producer *kafka.Producer
}

// NewAPI собирает приложение: миграции, БД, сервисы, комнатный хаб, роутер.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	users := userdir.NewClient(cfg.UserServiceURL)
	searchClient := searchindex.NewClient(cfg.SearchServiceURL)
	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)

	ticketSvc := service.NewTicketService(db, users)
	messageSvc := service.NewMessageService(db, users)
	hub := ws.NewHub()
	chatSvc := service.NewChatService(ticketSvc, messageSvc, users, hub, producer)

	supportHandler := handler.NewSupportHandler(ticketSvc, messageSvc, chatSvc, searchClient, producer)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(supportHandler, handler.ServeWS(hub, chatSvc, cfg.WSAllowedOrigin)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // WebSocket-соединения живут дольше любого таймаута записи
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		httpSrv:  httpSrv,
		hub:      hub,
		producer: producer,
	}, nil
}

// Run запускает hub и HTTP-сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  API v1:        %s/api/v1/", base)
	log.Printf("  WebSocket:     ws://%s:%s/ws", host, a.cfg.HTTPPort)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go a.hub.Run(hubCtx)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		stopHub()
		return fmt.Errorf("http shutdown: %w", err)
	}
	stopHub()
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka: close: %v", err)
	}
	return nil
}
