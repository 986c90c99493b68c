package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay-chat/config"
	"relay-chat/internal/handler"
	"relay-chat/internal/middleware"
	"relay-chat/internal/transport/httpdto"
	"relay-chat/internal/websocket"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type ChatRoutes struct {
	Chats       *handler.ChatHandler
	RateLimiter middleware.MessageLimiter
	Resolver    middleware.ProfileResolver
}

type NotificationRoutes struct {
	Notifications *handler.NotificationHandler
	WebSocket     *websocket.Handler
	ServiceSecret string
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(l))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// SetupCommon installs the shared middleware chain and the operational
// endpoints. Call it before any Setup*Routes.
func (s *Server) SetupCommon(gatherer prometheus.Gatherer, checks map[string]HealthCheck) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(name+": "+err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) SetupChatRoutes(r ChatRoutes) {
	chats := s.engine.Group("/api/v1/chats", middleware.RequireToken())
	{
		chats.POST("/create-chat", r.Chats.CreateChat)
		send := []gin.HandlerFunc{r.Chats.SendMessage}
		if r.RateLimiter != nil {
			send = append([]gin.HandlerFunc{middleware.MessageRateLimitMiddleware(r.RateLimiter, r.Resolver)}, send...)
		}
		chats.POST("/sendMessage/:chatId", send...)
		chats.GET("/getUserChats/:id", r.Chats.GetUserChats)
		chats.GET("/getChat/:id", r.Chats.GetChat)
		chats.GET("/getChatMessages/:id", r.Chats.GetChatMessages)
		chats.PUT("/markMessageAsViewed/:id", r.Chats.MarkMessageAsViewed)
		chats.GET("/userUnreadMessages", r.Chats.UserUnreadMessages)
		chats.PUT("/markAllAsViewed/:chatId", r.Chats.MarkAllAsViewed)
	}
}

func (s *Server) SetupNotificationRoutes(r NotificationRoutes) {
	n := r.Notifications
	notifications := s.engine.Group("/api/v1/notification")
	{
		notifications.GET("/getAllUserNotifications/:id", n.GetAllUserNotifications)
		notifications.GET("/getAllReadUserNotifications/:id", n.GetAllReadUserNotifications)
		notifications.GET("/getAllUnReadUserNotifications/:id", n.GetAllUnReadUserNotifications)
		notifications.PUT("/markAsRead/:id", n.MarkAsRead)
		notifications.PUT("/markAllAsRead/:id", n.MarkAllAsRead)
		notifications.DELETE("/delete/:id", n.Delete)
	}

	internal := notifications.Group("", middleware.ServiceAuth(r.ServiceSecret))
	{
		internal.POST("/pushNotification/:token", n.PushNotification)
		internal.POST("/sendNotificationToTopic/:topic", n.SendNotificationToTopic)
		internal.POST("/sendCallNotification", n.SendCallNotification)
		internal.POST("/send", n.Send)
		internal.POST("/broadcast", n.Broadcast)
	}

	if r.WebSocket != nil {
		s.engine.GET("/ws", r.WebSocket.Connect)
	}
}

// Start serves until SIGINT/SIGTERM or ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error in starting the server: %s", err)
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	select {
	case <-quit:
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	case <-ctx.Done():
		s.logger.Infof("Context cancelled.. Shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		return err
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}
