package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ethstack/api"
	"ethstack/internal/config"
	"ethstack/internal/logger"
	"ethstack/internal/metrics"
	"ethstack/internal/observability"
	"ethstack/internal/platform"
	"ethstack/pkg/dhcp"
	"ethstack/pkg/integrations/logs"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("config loaded", map[string]any{"path": *configPath})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startLogShipping(ctx, cfg.Logging, log)

	metricsSrv := metrics.New()
	go func() {
		if err := metrics.StartServer(ctx, cfg.Metrics); err != nil {
			log.Error("metrics server error", map[string]any{"err": err.Error()})
		}
	}()
	metrics.StartRemoteWrite(ctx, cfg.Metrics.Export, metricsSrv)

	app, err := buildApp(cfg, log, metricsSrv, nil)
	if err != nil {
		log.Error("stack setup failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	app.events.WatchAlerts(ctx, metricsSrv, observability.AlertsConfig{
		DropsThreshold:      cfg.Events.Alerts.DropsThreshold,
		RxErrorsThreshold:   cfg.Events.Alerts.RxErrorsThreshold,
		RingResetsThreshold: cfg.Events.Alerts.RingResetsThreshold,
	}, time.Duration(cfg.Events.Alerts.IntervalSeconds)*time.Second)

	go func() {
		if err := app.stack.Run(ctx); err != nil {
			log.Error("network task error", map[string]any{"err": err.Error()})
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(cfg.API, log, &api.Handlers{
		Stack:   app.stack,
		DHCP:    app.dhcp,
		Metrics: metricsSrv,
		Events:  app.events,
	})
	server := &http.Server{Addr: cfg.API.Address, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server error", map[string]any{"err": err.Error()})
		}
	}()
	if cfg.API.HTTP3.Enabled {
		go func() {
			if err := api.StartHTTP3Server(ctx, cfg.API.HTTP3, router); err != nil {
				log.Error("http3 server error", map[string]any{"err": err.Error()})
			}
		}()
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	log.Info("shutdown", nil)
}

func startLogShipping(ctx context.Context, cfg config.LoggingConfig, log *logger.Logger) {
	shippers := []*logs.Shipper{
		logs.NewLoki(cfg.LokiURL, "ethstack", cfg.QueueSize),
		logs.NewElastic(cfg.ElasticURL, cfg.QueueSize),
	}
	for _, s := range shippers {
		if s == nil {
			continue
		}
		log.AddHook(s.Hook)
		go s.Run(ctx)
	}
}

type app struct {
	stack    *network.Stack
	dhcp     map[string]*dhcp.Client
	bindings []*platform.Binding
	events   *observability.Store
}

// buildApp creates the stack and brings up every configured interface. An
// interface whose drivers fail to initialize stays registered but idle.
func buildApp(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, now func() time.Time) (*app, error) {
	a := &app{
		dhcp:   map[string]*dhcp.Client{},
		events: observability.NewStore(cfg.Events.Limit),
	}
	log.AddHook(a.events.LogHook())
	a.stack = network.NewStack(network.Options{
		Log:                  log,
		Metrics:              m,
		Now:                  now,
		TickInterval:         cfg.Stack.TickInterval(),
		NicTickInterval:      cfg.Stack.NicTickInterval(),
		ProtocolTickInterval: cfg.Stack.ProtocolTickInterval(),
		TxTimeout:            cfg.Stack.TxTimeout(),
	})
	a.stack.OnLinkChange(a.events.RecordLink)

	for _, ic := range cfg.Interfaces {
		if err := a.addInterface(ic, log); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) addInterface(ic config.InterfaceConfig, log *logger.Logger) error {
	binding, err := platform.Build(ic)
	if err != nil {
		return err
	}
	a.bindings = append(a.bindings, binding)
	iface, err := a.stack.AddInterface(binding.Config)
	if err != nil {
		return err
	}
	for _, group := range ic.Multicast {
		addr, err := nic.ParseMacAddr(group)
		if err != nil {
			return err
		}
		if err := iface.AcceptMacAddr(addr); err != nil {
			return err
		}
	}
	if err := a.stack.ConfigureInterface(iface); err != nil {
		log.Warn("interface left unconfigured", map[string]any{"iface": ic.Name, "err": err.Error()})
		return nil
	}
	binding.Connect()

	if !ic.DHCP.Enabled {
		return nil
	}
	client, err := dhcp.NewClient(a.dhcpSettings(iface, ic.DHCP))
	if err != nil {
		return err
	}
	a.dhcp[ic.Name] = client
	return client.Start()
}

func (a *app) dhcpSettings(iface *network.Interface, dc config.DHCPConfig) dhcp.Settings {
	settings := dhcp.DefaultSettings()
	settings.Interface = iface
	settings.RapidCommit = dc.RapidCommit
	settings.ManualDNS = dc.ManualDNS
	settings.Timeout = dc.Timeout()
	settings.Hostname = dc.Hostname
	if dc.ClientID != "" {
		settings.ClientID = []byte(dc.ClientID)
	}
	settings.StateChangeEvent = func(_ *dhcp.Client, iface *network.Interface, state dhcp.State) {
		a.events.RecordDHCPState(iface.Name(), state.String())
	}
	settings.TimeoutEvent = func(_ *dhcp.Client, iface *network.Interface) {
		a.events.RecordDHCPTimeout(iface.Name())
	}
	return settings
}

func (a *app) Close() {
	for _, client := range a.dhcp {
		client.Deinit()
	}
	for _, b := range a.bindings {
		_ = b.Close()
	}
}
