package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jonathanaloya/e-comm-sub000/internal/cache"
	"github.com/jonathanaloya/e-comm-sub000/internal/cart"
	"github.com/jonathanaloya/e-comm-sub000/internal/checkout"
	"github.com/jonathanaloya/e-comm-sub000/internal/events"
	"github.com/jonathanaloya/e-comm-sub000/internal/gateway"
	h "github.com/jonathanaloya/e-comm-sub000/internal/http"
	"github.com/jonathanaloya/e-comm-sub000/internal/pricing"
	"github.com/jonathanaloya/e-comm-sub000/internal/projection"
	"github.com/jonathanaloya/e-comm-sub000/internal/reconcile"
	"github.com/jonathanaloya/e-comm-sub000/internal/repository"
)

type Config struct {
	HTTPPort         string
	MongoURI         string
	MongoDBName      string
	RedisAddr        string
	RedisPassword    string
	KafkaBrokers     []string
	GatewayBaseURL   string
	GatewaySecretKey string
	WebhookSecret    string
	JWTSecret        string
	Currency         string
	RedirectURL      string
	CartCacheTTL     time.Duration
	RequestTimeout   time.Duration
	GatewayTimeout   time.Duration
	ShutdownTimeout  time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:      getEnv("MONGO_DB_NAME", "storefront"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		GatewayBaseURL:   getEnv("GATEWAY_BASE_URL", "https://api.flutterwave.com/v3"),
		GatewaySecretKey: getEnv("GATEWAY_SECRET_KEY", ""),
		WebhookSecret:    getEnv("GATEWAY_WEBHOOK_SECRET", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		Currency:         getEnv("CURRENCY", "UGX"),
		RedirectURL:      getEnv("PAYMENT_REDIRECT_URL", "http://localhost:3000/payment-complete"),
		CartCacheTTL:     getEnvDuration("CART_CACHE_TTL", cache.DefaultCartTTL),
		RequestTimeout:   30 * time.Second,
		GatewayTimeout:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid duration for %s: %q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// loadZoneFees parses DELIVERY_FEES ("zone1=2000,zone2=3500"). Zones not
// listed fall back to the flat default fee.
func loadZoneFees() map[string]float64 {
	fees := make(map[string]float64)
	for _, pair := range strings.Split(getEnv("DELIVERY_FEES", ""), ",") {
		zone, amount, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		fee, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			log.Printf("skipping malformed delivery fee entry %q", pair)
			continue
		}
		fees[zone] = fee
	}
	return fees
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := loadConfig()
	if cfg.GatewaySecretKey == "" || cfg.WebhookSecret == "" {
		log.Fatal("GATEWAY_SECRET_KEY and GATEWAY_WEBHOOK_SECRET must be set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx := context.Background()

	// MongoDB
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	log.Printf("Connected to MongoDB at %s", cfg.MongoURI)

	orderRepo := repository.NewMongoOrderRepository(mongoDB)
	cartRepo := repository.NewMongoCartRepository(mongoDB)
	catalog := repository.NewMongoProductCatalog(mongoDB)
	addresses := repository.NewMongoAddressStore(mongoDB)

	type indexed interface {
		CreateIndexes(ctx context.Context) error
	}
	for _, repo := range []interface{}{orderRepo, cartRepo} {
		if idx, ok := repo.(indexed); ok {
			if err := idx.CreateIndexes(ctx); err != nil {
				log.Fatalf("Failed to create indexes: %v", err)
			}
		}
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis connection failed:", err)
	}
	log.Printf("Redis ping succeeded")

	// Kafka
	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers...)
	defer publisher.Close()

	// Payment gateway
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout)

	// Services
	cartService := cart.NewService(cartRepo, cache.NewRedisCache(redisClient, cfg.CartCacheTTL))
	feeResolver := pricing.NewZoneFeeResolver(loadZoneFees())
	checkoutService := checkout.NewService(
		orderRepo, cartService, catalog, addresses, gatewayClient, feeResolver,
		checkout.Config{Currency: cfg.Currency, RedirectURL: cfg.RedirectURL},
	)
	engine := reconcile.NewEngine(orderRepo, cartService, gatewayClient, publisher, cfg.WebhookSecret)
	views := projection.NewService(orderRepo)

	// Handlers
	cartHandler := h.NewCartHandler(cartService, cfg.RequestTimeout)
	checkoutHandler := h.NewCheckoutHandler(checkoutService, cfg.RequestTimeout)
	paymentHandler := h.NewPaymentHandler(engine, cfg.RequestTimeout)
	ordersHandler := h.NewOrdersHandler(views, orderRepo, cfg.RequestTimeout)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Gateway-facing routes; authenticated by signature / reference,
		// not by user token.
		r.Post("/payments/webhook", paymentHandler.Webhook)
		r.Get("/payments/verify", paymentHandler.VerifyRedirect)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate(cfg.JWTSecret))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})

			r.Post("/checkout", checkoutHandler.InitiateCheckout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordersHandler.ListOrders)
				r.Get("/{order_id}", ordersHandler.GetOrder)
				r.Patch("/{order_id}/status", ordersHandler.AdvanceStatus)
			})
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Storefront API starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("server exited")
}
