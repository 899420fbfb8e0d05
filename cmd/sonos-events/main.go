// Command sonos-events wires the reactive event pipeline together: load
// config, start the callback server and broker, run the subscription
// manager with (optionally) the firewall detector as its polling advisor, and expose the
// resulting change stream over a websocket for a UI to consume.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avandenbos/sonos-reactive/internal/broker"
	"github.com/avandenbos/sonos-reactive/internal/callback"
	"github.com/avandenbos/sonos-reactive/internal/changestream"
	"github.com/avandenbos/sonos-reactive/internal/changestream/wsbridge"
	"github.com/avandenbos/sonos-reactive/internal/config"
	"github.com/avandenbos/sonos-reactive/internal/firewall"
	"github.com/avandenbos/sonos-reactive/internal/handles"
	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/pipeline"
	"github.com/avandenbos/sonos-reactive/internal/sonos/soap"
	"github.com/avandenbos/sonos-reactive/internal/store"
	"github.com/avandenbos/sonos-reactive/internal/subscription"
	"github.com/avandenbos/sonos-reactive/internal/watchcache"
)

var log = logging.For("main")

// firewallAdvisor adapts *firewall.Detector's named Status type to the
// plain string subscription.FirewallAdvisor expects, keeping subscription
// free of an import on firewall (which already imports subscription for
// its probe client).
type firewallAdvisor struct{ detector *firewall.Detector }

func (a firewallAdvisor) Status(deviceIP string) string {
	return string(a.detector.Status(deviceIP))
}

func (a firewallAdvisor) BelievedResponsive(deviceIP string, eventTimeout time.Duration) bool {
	return a.detector.BelievedResponsive(deviceIP, eventTimeout)
}

// playbackHandler is a manual-testing aid: it exercises the handles façade
// (Get, not Watch, so hitting this endpoint never triggers a lazy
// subscription) so an operator can poll current playback state over HTTP
// without a UI.
func playbackHandler(registry *handles.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		val, ok := registry.Speaker(model.SpeakerId(id)).PlaybackState().Get()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"state": val.Enum})
	}
}

func main() {
	dumpConfig := flag.Bool("dump-config", false, "print the resolved configuration as YAML and exit")
	wsAddr := flag.String("ws-addr", ":8090", "address the change-stream websocket bridge listens on")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}

	st := store.New(cfg.ChangeStreamCapacity)
	evtBroker := broker.New(cfg.ChangeStreamCapacity)

	callbackServer, err := callback.Bind(evtBroker, cfg.CallbackPortRangeStart, cfg.CallbackPortRangeEnd)
	if err != nil {
		log.Errorf("failed to bind callback server: %v", err)
		os.Exit(1)
	}

	subClient := subscription.NewClient(10 * time.Second)
	subManager := subscription.NewManager(subscription.Config{
		SubscriptionTimeoutSeconds: cfg.SubscriptionTimeoutSeconds,
		RenewalThresholdSeconds:    cfg.RenewalThresholdSeconds,
		MaxRenewalAttempts:         cfg.MaxRenewalAttempts,
		RenewalBackoffBaseMs:       cfg.RenewalBackoffBaseMs,
		EventTimeoutSeconds:        cfg.EventTimeoutSeconds,
	}, subClient, evtBroker, callbackServer)
	evtBroker.SetEventObserver(subManager)
	subManager.Start()

	var detector *firewall.Detector
	if cfg.EnableProactiveFirewallDetection {
		detector = firewall.NewDetector(subClient, evtBroker, evtBroker, callbackServer, 5*time.Second)
	}

	soapClient := soap.NewClient(10 * time.Second)
	poller := firewall.NewPoller(soapClient, evtBroker, detector, time.Duration(cfg.PollingBaseIntervalMs)*time.Millisecond)

	if detector != nil {
		subManager.AttachFirewall(firewallAdvisor{detector}, poller)
	}

	cache := watchcache.New(time.Duration(cfg.WatchCacheTimeoutMs) * time.Millisecond)
	registry := handles.NewRegistry(st, cache, subManager)

	stream := changestream.New(st.Changes())
	wsHandler := wsbridge.NewHandler(stream, 64, changestream.DropOldest)

	go pipeline.Run(evtBroker, st)
	go pipeline.LogParseFailures(evtBroker)

	mux := http.NewServeMux()
	mux.Handle("/ws/changes", wsHandler)
	mux.HandleFunc("/speakers/{id}/playback", playbackHandler(registry))
	wsServer := &http.Server{Addr: *wsAddr, Handler: mux}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("websocket bridge server stopped: %v", err)
		}
	}()

	log.Infof("sonos-reactive running: callback=%s ws=%s", callbackServer.BaseURL(), *wsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poller.StopAll()
	if err := subManager.ShutdownAll(shutdownCtx); err != nil {
		log.Warnf("shutdown: unsubscribe errors: %v", err)
	}
	wsServer.Close()
	callbackServer.Shutdown()
}
