package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/config"
	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/exchange"
	"github.com/vitos/listing-sniper/internal/infrastructure/logger"
	"github.com/vitos/listing-sniper/internal/infrastructure/notify"
	"github.com/vitos/listing-sniper/internal/infrastructure/storage"
	"github.com/vitos/listing-sniper/internal/infrastructure/stream"
	"github.com/vitos/listing-sniper/internal/usecase"
	"github.com/vitos/listing-sniper/internal/web"
)

// notifyingTrigger opens the emergency session and immediately fans the
// opening notification out to every configured contact.
type notifyingTrigger struct {
	emergency *usecase.EmergencyService
	contacts  []string
	log       *zap.Logger
}

func (t *notifyingTrigger) OpenSession(protocolID, reason string) (*domain.EmergencySession, bool) {
	session, opened := t.emergency.OpenSession(protocolID, reason)
	if opened && session != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			plan := domain.NotificationPlan{
				Stakeholders: t.contacts,
				Urgency:      domain.UrgencyCritical,
			}
			if err := t.emergency.SendEmergencyNotification(ctx, session.ID, "emergency_opened", plan); err != nil {
				t.log.Error("emergency notification failed", zap.Error(err))
			}
		}()
	}
	return session, opened
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	armed := flag.Bool("armed", false, "enable automatic order placement on startup")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange + risk data source
	riskSource := usecase.NewPipelineRiskSource()
	mexc := exchange.NewMexcAdapter(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint,
		cfg.Exchange.RateLimit,
		log,
	)
	mexc.OnRequest(riskSource.RecordAPICall)

	// 5. Init Emergency Communication
	emergencySvc := usecase.NewEmergencyService(usecase.EmergencyOptions{
		SendTimeout:  cfg.Emergency.SendTimeout.Std(),
		HistoryGrace: cfg.Emergency.HistoryGrace.Std(),
	}, store, log)

	if cfg.Emergency.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramChannel(cfg.Emergency.Telegram.BotToken, log)
		if err != nil {
			log.Error("Failed to init telegram channel", zap.Error(err))
		} else {
			emergencySvc.RegisterChannel(tg)
		}
	}
	if cfg.Emergency.Webhook.Endpoint != "" {
		emergencySvc.RegisterChannel(notify.NewWebhookChannel(cfg.Emergency.Webhook.Endpoint, cfg.Emergency.Webhook.Timeout.Std(), log))
	}
	if cfg.Emergency.Voice.GatewayURL != "" {
		emergencySvc.RegisterChannel(notify.NewVoiceChannel(cfg.Emergency.Voice.GatewayURL, cfg.Emergency.Voice.Timeout.Std(), log))
	}

	contactIDs := make([]string, 0, len(cfg.Emergency.Contacts))
	for _, cc := range cfg.Emergency.Contacts {
		contact := domain.Contact{ID: cc.ID, Name: cc.Name}
		for _, ch := range cc.Channels {
			contact.Channels = append(contact.Channels, domain.ContactChannel{
				Type:      domain.ChannelType(ch.Type),
				Recipient: ch.Recipient,
				Priority:  ch.Priority,
				Verified:  ch.Verified,
			})
		}
		emergencySvc.RegisterContact(contact)
		contactIDs = append(contactIDs, cc.ID)
	}

	trigger := &notifyingTrigger{emergency: emergencySvc, contacts: contactIDs, log: log}

	// 6. Init Safety Coordinator
	safety := usecase.NewSafetyCoordinator(riskSource, store, trigger, cfg.Safety, log)
	if err := safety.Start(); err != nil {
		log.Fatal("Failed to start safety coordinator", zap.Error(err))
	}

	// 7. Init Detection and Execution
	detector := usecase.NewPatternDetector(usecase.DetectorOptions{
		HistorySize:   cfg.Detector.HistorySize,
		MinConfidence: cfg.Detector.MinConfidence,
	}, log)
	monitor := usecase.NewOrderMonitor(mexc, usecase.MonitorOptions{
		PollInterval:  cfg.Monitor.PollInterval.Std(),
		MaxAttempts:   cfg.Monitor.MaxAttempts,
		MaxPollErrors: cfg.Monitor.MaxPollErrors,
	}, log)
	sniper := usecase.NewSniperService(usecase.SniperOptions{
		AutoSnipeConfidence: cfg.Detector.AutoSnipeConfidence,
		OrderQuoteSize:      cfg.Detector.OrderQuoteSize,
	}, detector, mexc, monitor, safety, store, log)
	if *armed {
		sniper.Arm()
	}

	// 8. Init Stream
	streamMgr := stream.NewManager(stream.Config{
		URL:               cfg.Exchange.WSEndpoint,
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout.Std(),
		HeartbeatInterval: cfg.Stream.HeartbeatInterval.Std(),
		StaleAfter:        cfg.Stream.StaleAfter.Std(),
		ReconnectInitial:  cfg.Stream.ReconnectInitial.Std(),
		ReconnectMax:      cfg.Stream.ReconnectMax.Std(),
		MaxReconnects:     cfg.Stream.MaxReconnects,
		BreakerThreshold:  cfg.Stream.BreakerThreshold,
		BreakerCooldown:   cfg.Stream.BreakerCooldown.Std(),
	}, log)
	streamMgr.OnTick(func(tick domain.PriceTick) {
		riskSource.RecordPrice(tick.LastPrice)
		sniper.HandleTick(tick)
	})
	streamMgr.OnStatus(sniper.HandleStatus)
	streamMgr.OnDown(func(reason error) {
		safety.TriggerEmergencyResponse(fmt.Sprintf("market data stream down: %v", reason))
	})

	if err := streamMgr.Connect(context.Background()); err != nil {
		log.Fatal("Failed to connect stream", zap.Error(err))
	}
	for _, symbol := range cfg.Stream.WatchSymbols {
		if err := streamMgr.Subscribe(symbol, stream.ChannelTickers); err != nil {
			log.Error("Failed to subscribe tickers", zap.String("symbol", symbol), zap.Error(err))
		}
		if err := streamMgr.Subscribe(symbol, stream.ChannelStatus); err != nil {
			log.Error("Failed to subscribe status", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	// 9. History pruning loop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pruned := emergencySvc.PruneHistory(cfg.Emergency.HistoryGrace.Std())
				if pruned > 0 {
					log.Info("Pruned communication history", zap.Int("entries", pruned))
				}
			case <-done:
				return
			}
		}
	}()

	// 10. Start Web Server
	server := web.NewServer(cfg.Server.Port, sniper, safety, emergencySvc, streamMgr, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 11. Wait for Shutdown
	<-stop
	close(done)

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	streamMgr.Disconnect()
	sniper.Close()
	if err := safety.Stop(); err != nil {
		log.Warn("Safety coordinator stop", zap.Error(err))
	}
}
