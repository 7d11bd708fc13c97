package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shopkite/platform/provisioner/internal/billing"
	"github.com/shopkite/platform/provisioner/internal/certs"
	"github.com/shopkite/platform/provisioner/internal/client"
	"github.com/shopkite/platform/provisioner/internal/config"
	"github.com/shopkite/platform/provisioner/internal/db"
	"github.com/shopkite/platform/provisioner/internal/dnscheck"
	"github.com/shopkite/platform/provisioner/internal/docker"
	"github.com/shopkite/platform/provisioner/internal/http"
	"github.com/shopkite/platform/provisioner/internal/nginx"
	"github.com/shopkite/platform/provisioner/internal/repository"
	"github.com/shopkite/platform/provisioner/internal/service"
)

func main() {
	log.Println("Starting Shopkite Provisioner...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database.DSN())
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Repositories
	customerRepo := repository.NewCustomerRepository(pool)
	subscriptionRepo := repository.NewSubscriptionRepository(pool)
	instanceRepo := repository.NewInstanceRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	// External collaborators
	runtime, err := docker.NewDriver(cfg.Instance.Network)
	if err != nil {
		log.Fatalf("Failed to connect to container runtime: %v", err)
	}

	router := nginx.NewManager(cfg.Nginx.ConfigDir, cfg.Nginx.ScanDirs,
		cfg.Instance.BaseDomain, cfg.Nginx.CertLiveDir, nginx.ExecRunner{})
	certManager := certs.NewManager(cfg.Nginx.CertLiveDir, cfg.Nginx.CertbotEmail, certs.ExecRunner{})
	billingClient := billing.NewClient(cfg.Billing.APIBaseURL, cfg.Billing.SecretKey)
	notifier := client.NewNotifyClient(cfg.Notify.ServiceURL, cfg.InternalSecret)
	resolver := dnscheck.New()

	// Services
	locks := service.NewInstanceLocks()
	ports := service.NewPortAllocator(cfg.Instance.PortRangeStart, cfg.Instance.PortRangeEnd, instanceRepo)

	instanceSvc := service.NewInstanceService(cfg.Instance, runtime, router,
		instanceRepo, auditRepo, ports, locks)
	domainSvc := service.NewDomainService(cfg.Instance, router, certManager, resolver,
		instanceSvc, instanceRepo, auditRepo, locks)
	reconciler := service.NewReconciler(cfg.Instance, customerRepo, subscriptionRepo,
		instanceRepo, auditRepo, instanceSvc, router, notifier, billingClient, locks)
	maintSvc := service.NewMaintenanceService(customerRepo, subscriptionRepo,
		instanceRepo, auditRepo, instanceSvc, runtime, router, locks)

	// HTTP server
	handler := http.NewHandler(cfg.Instance.BaseDomain, instanceSvc, domainSvc,
		maintSvc, instanceRepo, auditRepo)
	webhookHandler := http.NewWebhookHandler(cfg.Billing.WebhookSecret, reconciler, auditRepo)
	dbAdminHandler := http.NewDBAdminHandler(pool)

	server := http.NewServer(cfg, handler, webhookHandler, dbAdminHandler)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	log.Println("Server exited")
}
