package main

import (
	"context"
	"os"
	"sync"
	"time"

	"agsteer/internal/config"
	"agsteer/internal/gps"
	"agsteer/internal/logging"
	"agsteer/internal/pipeline"
	"agsteer/internal/replay"
	"agsteer/internal/sim"
	"agsteer/internal/switches"
	"agsteer/internal/telemetry"
	"agsteer/internal/udp"
	"agsteer/internal/web"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// lockedPipeline serializes cycles fed from more than one goroutine (network
// NMEA alongside a receiver or the simulator).
type lockedPipeline struct {
	*pipeline.Pipeline
	mu sync.Mutex
}

func (l *lockedPipeline) Cycle(raw []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Pipeline.Cycle(raw)
}

func (l *lockedPipeline) CycleDecoded(fix gps.Fix) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Pipeline.CycleDecoded(fix)
}

type liveRuntime struct {
	cfg  config.Config
	log  zerolog.Logger
	logs *web.LogBuffer

	sender   *udp.Sender
	recorder *replay.Recorder
	frameLog *replay.Writer
	pipe     *lockedPipeline

	listener *udp.Listener
	gpsSvc   *gps.Service
	gpio     *switches.GPIO
	runner   *sim.Runner
	records  []replay.Record

	influx    *telemetry.InfluxSink
	store     *telemetry.Store
	storeSink *telemetry.StoreSink
	sinks     []telemetry.Sink
}

func newLiveRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger, logs *web.LogBuffer) (*liveRuntime, error) {
	r := &liveRuntime{cfg: cfg, log: log, logs: logs}
	if err := r.init(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *liveRuntime) init(ctx context.Context) error {
	cfg := r.cfg

	sender, err := udp.NewSender(cfg.UDP.Dest, cfg.UDP.Queue, logging.Component(r.log, "udp"))
	if err != nil {
		return errors.Wrap(err, "udp sender")
	}
	r.sender = sender

	var transport pipeline.Transport = sender
	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return errors.Wrap(err, "frame log")
		}
		r.frameLog = w
		r.recorder = replay.NewRecorder(sender, w, time.Now)
		transport = r.recorder
		r.log.Info().Str("path", cfg.Record.Path).Msg("recording outbound frames")
	}

	plog := logging.Component(r.log, "pipeline")
	opts := []pipeline.Option{
		pipeline.WithLogger(plog),
		pipeline.WithSampledLogger(logging.Sampled(plog)),
	}
	if cfg.Switches.GPIO.Enable {
		g, err := switches.OpenGPIO(cfg.Switches.GPIO.Pins())
		if err != nil {
			return errors.Wrap(err, "switch gpio")
		}
		r.gpio = g
		opts = append(opts, pipeline.WithSwitchSource(g.Inputs))
	}

	p, err := pipeline.New(pipeline.Config{
		Guidance:      cfg.Guidance.Engine(),
		Switches:      cfg.Switches.Machine(),
		AntennaPivotM: cfg.Pipeline.AntennaPivotM,
		AutoOrigin:    cfg.Pipeline.AutoOrigin,
		LatencyWindow: cfg.Pipeline.LatencyWindow,
		IntentBuffer:  cfg.Pipeline.IntentBuffer,
	}, transport, opts...)
	if err != nil {
		return err
	}
	r.pipe = &lockedPipeline{Pipeline: p}

	if cfg.Origin.Enable {
		p.SetOrigin(cfg.Origin.LatLon())
	}
	tr, err := cfg.Track.Build()
	if err != nil {
		return errors.Wrap(err, "track")
	}
	if tr != nil {
		p.SetTrack(tr)
	}

	if cfg.Sim.Enable {
		script, err := sim.LoadScript(cfg.Sim.Scenario)
		if err != nil {
			return err
		}
		scn, err := sim.NewScenario(script)
		if err != nil {
			return err
		}
		r.runner, err = sim.NewRunner(scn, r.pipe, logging.Component(r.log, "sim"))
		if err != nil {
			return err
		}
	}

	if cfg.Replay.Enable {
		f, err := os.Open(cfg.Replay.Path)
		if err != nil {
			return errors.Wrap(err, "replay log")
		}
		r.records, err = replay.NewReader(f).ReadAll()
		_ = f.Close()
		if err != nil {
			return errors.Wrap(err, "replay log")
		}
	}

	if cfg.GPS.Enable {
		r.gpsSvc = gps.New(gps.Config{
			Enable:   true,
			Source:   cfg.GPS.Source,
			Device:   cfg.GPS.Device,
			Baud:     cfg.GPS.Baud,
			GPSDAddr: cfg.GPS.GPSDAddr,
			Logger:   r.log,
		}, gps.Handlers{
			Packet: func(raw []byte) { r.pipe.Cycle(raw) },
			Fix:    func(fix gps.Fix) { r.pipe.CycleDecoded(fix) },
		})
	}

	if cfg.UDP.Listen != "" {
		l, err := udp.Listen(cfg.UDP.Listen, udp.Routes{
			NMEA:  func(b []byte) { r.pipe.Cycle(b) },
			Frame: func(b []byte) { _ = r.pipe.HandleInbound(b) },
		}, logging.Component(r.log, "udp"))
		if err != nil {
			return errors.Wrap(err, "udp listener")
		}
		r.listener = l
	}

	tel := logging.Component(r.log, "telemetry")
	if cfg.Telemetry.Influx.Enable {
		sink, err := telemetry.NewInfluxSink(ctx, cfg.Telemetry.Influx.Sink(), tel)
		if err != nil {
			return err
		}
		r.influx = sink
		r.sinks = append(r.sinks, sink)
	}
	if cfg.Telemetry.Store.Enable {
		st, err := telemetry.OpenStore(cfg.Telemetry.Store.Store(), tel)
		if err != nil {
			return err
		}
		r.store = st
		trackName := ""
		if tr := p.Track(); tr != nil {
			trackName = tr.Name
		}
		origin := cfg.Origin.LatLon()
		if pl := p.Plane(); pl != nil {
			origin = pl.Origin()
		}
		sess, err := st.StartSession(ctx, time.Now(), trackName, origin)
		if err != nil {
			return err
		}
		r.storeSink = telemetry.NewStoreSink(st, sess.ID, cfg.Telemetry.Store.Batch)
		r.sinks = append(r.sinks, r.storeSink)
		tel.Info().Uint("session", sess.ID).Str("driver", cfg.Telemetry.Store.Driver).Msg("store session started")
	}
	return nil
}

func (r *liveRuntime) mode() string {
	switch {
	case r.runner != nil:
		return "sim"
	case r.cfg.Replay.Enable:
		return "replay"
	case r.gpsSvc != nil:
		return "gps"
	default:
		return "network"
	}
}

func (r *liveRuntime) components() map[string]any {
	out := map[string]any{
		"mode":     r.mode(),
		"udp_dest": r.sender.Dest(),
		"sender":   r.sender.Stats(),
	}
	if r.listener != nil {
		out["listener"] = r.listener.Stats()
	}
	if r.gpsSvc != nil {
		out["gps"] = r.gpsSvc.Status()
	}
	if r.recorder != nil {
		rec := map[string]any{"path": r.cfg.Record.Path}
		if err := r.recorder.Err(); err != nil {
			rec["error"] = err.Error()
		}
		out["record"] = rec
	}
	if r.influx != nil {
		out["influx_points"] = r.influx.Written()
	}
	if r.storeSink != nil {
		out["store_session"] = r.storeSink.Session()
	}
	return out
}

// Run starts every configured source and blocks until ctx is done, a
// component fails, or a one-shot simulation or replay completes.
func (r *liveRuntime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !r.cfg.Replay.Enable {
		if err := r.pipe.SendSteerSettings(r.cfg.Steer.Settings()); err != nil {
			r.log.Warn().Err(err).Msg("steer settings not sent")
		}
		if err := r.pipe.SendSteerConfig(r.cfg.Steer.Hardware()); err != nil {
			r.log.Warn().Err(err).Msg("steer config not sent")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				select {
				case errCh <- errors.Wrap(err, name):
				default:
				}
				cancel()
			}
		}()
	}

	start("intents", r.drainIntents)

	if len(r.sinks) > 0 {
		ch, unsubscribe := r.pipe.Subscribe(256)
		start("telemetry", func(ctx context.Context) error {
			defer unsubscribe()
			telemetry.Run(ctx, ch, r.cfg.Telemetry.FlushInterval, logging.Component(r.log, "telemetry"), r.sinks...)
			return nil
		})
	}

	if r.listener != nil {
		start("udp listener", r.listener.Serve)
	}

	if r.gpsSvc != nil {
		// A missing receiver is not fatal; the web status reports it.
		if err := r.gpsSvc.Start(ctx); err != nil {
			r.log.Warn().Err(err).Msg("gps init failed")
		}
	}

	if r.runner != nil {
		start("sim", func(ctx context.Context) error {
			if err := r.runner.Run(ctx, r.cfg.Sim.Loop); err != nil {
				return err
			}
			cancel()
			return nil
		})
	}

	if r.cfg.Replay.Enable {
		start("replay", func(ctx context.Context) error {
			err := r.playback(ctx)
			if err == nil {
				cancel()
			}
			return err
		})
	}

	if r.cfg.Web.Enable {
		h := web.Handler(r.pipe, web.Options{
			Logs:       r.logs,
			Components: r.components,
			Log:        logging.Component(r.log, "web"),
		})
		r.log.Info().Str("listen", r.cfg.Web.Listen).Msg("web ui listening")
		start("web", func(ctx context.Context) error {
			return web.Serve(ctx, r.cfg.Web.Listen, h)
		})
	}

	<-ctx.Done()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (r *liveRuntime) drainIntents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-r.pipe.Intents():
			r.log.Info().Stringer("intent", in).Msg("switch intent")
		}
	}
}

// playback sends recorded frames straight to the module. Frames the sender
// queue cannot take are dropped, as they would be live.
func (r *liveRuntime) playback(ctx context.Context) error {
	r.log.Info().Str("path", r.cfg.Replay.Path).Int("records", len(r.records)).
		Float64("speed", r.cfg.Replay.Speed).Bool("loop", r.cfg.Replay.Loop).Msg("replay started")
	err := replay.Play(r.records, r.cfg.Replay.Speed, r.cfg.Replay.Loop, ctxSleeper{ctx: ctx}, func(frame []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.sender.Send(frame); err != nil && !errors.Is(err, udp.ErrQueueFull) {
			return err
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}

func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	if r.gpsSvc != nil {
		r.gpsSvc.Close()
	}
	if r.listener != nil {
		_ = r.listener.Close()
	}
	if r.gpio != nil {
		_ = r.gpio.Close()
	}
	if r.influx != nil {
		if err := r.influx.Close(); err != nil {
			r.log.Warn().Err(err).Msg("influx close failed")
		}
	}
	if r.store != nil {
		if r.storeSink != nil {
			if err := r.store.EndSession(context.Background(), r.storeSink.Session(), time.Now()); err != nil {
				r.log.Warn().Err(err).Msg("store session end failed")
			}
		}
		_ = r.store.Close()
	}
	if r.frameLog != nil {
		if err := r.frameLog.Close(); err != nil {
			r.log.Warn().Err(err).Msg("frame log close failed")
		}
	}
	if r.sender != nil {
		_ = r.sender.Close()
	}
}
