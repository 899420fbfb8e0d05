package firewall

import (
	"context"
	"sync"
	"time"

	"github.com/avandenbos/sonos-reactive/internal/eventparser"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/sonos/soap"
)

// SOAPClient is the narrow surface Poller needs from the SOAP client: the
// read-only GetXxx actions a Polling-mode record uses to synthesize an
// event, reusing the soap package's own response types rather than
// redeclaring them.
type SOAPClient interface {
	GetTransportInfo(ctx context.Context, ip string) (soap.TransportInfo, error)
	GetPositionInfo(ctx context.Context, ip string) (soap.PositionInfo, error)
	GetVolume(ctx context.Context, ip string) (soap.VolumeInfo, error)
	GetMute(ctx context.Context, ip string) (soap.MuteInfo, error)
}

// Submitter is the narrow surface Poller needs from the broker (C7): feed
// a synthesized TypedEvent into the same unified stream real NOTIFYs use.
type Submitter interface {
	Submit(evt model.TypedEvent)
}

// Poller runs one ticking task per Polling-mode subscription, invoking the
// SOAP client at a base interval and submitting a synthetic TypedEvent
// through the broker's normal path.
type Poller struct {
	soap         SOAPClient
	sink         Submitter
	detector     *Detector
	baseInterval time.Duration

	mu    sync.Mutex
	tasks map[model.SubscriptionKey]context.CancelFunc
}

// NewPoller builds a Poller. detector may be nil if proactive detection is
// disabled; RecordSOAPSuccess is then simply skipped.
func NewPoller(client SOAPClient, sink Submitter, detector *Detector, baseInterval time.Duration) *Poller {
	return &Poller{
		soap:         client,
		sink:         sink,
		detector:     detector,
		baseInterval: baseInterval,
		tasks:        make(map[model.SubscriptionKey]context.CancelFunc),
	}
}

// Start launches a polling task for key against deviceIP, replacing any
// existing task for the same key. A non-empty reason tags the task's
// first synthesized event as a resync (EventSource = Resync{reason})
// rather than a steady-state PollingDetection tick, so downstream can
// tell a mode transition's baseline read apart from ordinary polling.
func (p *Poller) Start(key model.SubscriptionKey, deviceIP string, reason string) {
	p.Stop(key)

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.tasks[key] = cancel
	p.mu.Unlock()

	go p.run(ctx, key, deviceIP, reason)
}

// Stop cancels a key's polling task, if one is running.
func (p *Poller) Stop(key model.SubscriptionKey) {
	p.mu.Lock()
	cancel, ok := p.tasks[key]
	delete(p.tasks, key)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every running polling task, for shutdown.
func (p *Poller) StopAll() {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = make(map[model.SubscriptionKey]context.CancelFunc)
	p.mu.Unlock()
	for _, cancel := range tasks {
		cancel()
	}
}

func (p *Poller) run(ctx context.Context, key model.SubscriptionKey, deviceIP string, reason string) {
	ticker := time.NewTicker(p.baseInterval)
	defer ticker.Stop()

	p.tick(ctx, key, deviceIP, reason)
	for {
		select {
		case <-ticker.C:
			p.tick(ctx, key, deviceIP, "")
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context, key model.SubscriptionKey, deviceIP string, reason string) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	source := model.EventSource{Kind: model.SourcePollingDetection, Interval: p.baseInterval}
	if reason != "" {
		source = model.EventSource{Kind: model.SourceResync, Reason: reason}
	}

	switch key.Service {
	case model.ServiceAVTransport:
		p.pollAVTransport(reqCtx, key, deviceIP, source)
	case model.ServiceRenderingControl, model.ServiceGroupRenderingControl:
		p.pollRenderingControl(reqCtx, key, deviceIP, source)
	default:
		// Topology/GroupManagement/DeviceProperties have no polling
		// fallback: their NOTIFYs carry system-wide state a GetXxx action
		// can't reconstruct one speaker at a time.
	}
}

func (p *Poller) pollAVTransport(ctx context.Context, key model.SubscriptionKey, deviceIP string, source model.EventSource) {
	transport, err := p.soap.GetTransportInfo(ctx, deviceIP)
	if err != nil {
		log.Warnf("poll GetTransportInfo failed speaker=%s: %v", key.Speaker, err)
		return
	}
	position, err := p.soap.GetPositionInfo(ctx, deviceIP)
	if err != nil {
		log.Warnf("poll GetPositionInfo failed speaker=%s: %v", key.Speaker, err)
		return
	}
	if p.detector != nil {
		p.detector.RecordSOAPSuccess(deviceIP)
	}

	track, _ := eventparser.ParseDIDLLite(position.TrackMetaData)

	p.sink.Submit(model.TypedEvent{
		Speaker: key.Speaker,
		Service: key.Service,
		Source:  source,
		AVTransport: &model.AVTransportRecord{
			TransportState:  transport.CurrentTransportState,
			TransportStatus: transport.CurrentTransportStatus,
			Track:           track,
			TrackDurationMs: eventparser.ParsePositionMs(position.TrackDuration),
			RelTimeMs:       eventparser.ParsePositionMs(position.RelTime),
		},
	})
}

func (p *Poller) pollRenderingControl(ctx context.Context, key model.SubscriptionKey, deviceIP string, source model.EventSource) {
	volume, err := p.soap.GetVolume(ctx, deviceIP)
	if err != nil {
		log.Warnf("poll GetVolume failed speaker=%s: %v", key.Speaker, err)
		return
	}
	mute, err := p.soap.GetMute(ctx, deviceIP)
	if err != nil {
		log.Warnf("poll GetMute failed speaker=%s: %v", key.Speaker, err)
		return
	}
	if p.detector != nil {
		p.detector.RecordSOAPSuccess(deviceIP)
	}

	v := volume.CurrentVolume
	m := mute.CurrentMute

	evt := model.TypedEvent{Speaker: key.Speaker, Service: key.Service, Source: source}
	if key.Service == model.ServiceGroupRenderingControl {
		evt.GroupRenderingControl = &model.GroupRenderingControlRecord{Volume: &v, Muted: &m}
	} else {
		evt.RenderingControl = &model.RenderingControlRecord{Volume: &v, Muted: &m}
	}
	p.sink.Submit(evt)
}
