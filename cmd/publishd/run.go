package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/arzzra/live_publish/pkg/control"
	"github.com/arzzra/live_publish/pkg/graph"
	"github.com/arzzra/live_publish/pkg/publish"
	"github.com/arzzra/live_publish/pkg/testsrc"
)

type runOptions struct {
	record   string
	stream   string
	duration time.Duration
}

// streamTarget адрес получателя в виде host:audio_port:video_port
type streamTarget struct {
	host      string
	audioPort int
	videoPort int
}

func newRunCommand() *cobra.Command {
	var configPath string
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Запустить источник и публикацию",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}

			return runPublisher(ctx, cfg, opts, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.record, "record", "", "Record to file")
	cmd.Flags().StringVar(&opts.stream, "stream", "", "Stream RTP to host:audio_port:video_port")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after duration (0 runs until interrupted)")
	return cmd
}

func parseStreamTarget(s string) (streamTarget, error) {
	var t streamTarget

	rest, vport, ok := cutLast(s, ":")
	if !ok {
		return t, fmt.Errorf("ожидается host:audio_port:video_port, получено %q", s)
	}
	host, aport, ok := cutLast(rest, ":")
	if !ok {
		return t, fmt.Errorf("ожидается host:audio_port:video_port, получено %q", s)
	}

	var err error
	if t.audioPort, err = strconv.Atoi(aport); err != nil {
		return t, fmt.Errorf("порт аудио %q: %w", aport, err)
	}
	if t.videoPort, err = strconv.Atoi(vport); err != nil {
		return t, fmt.Errorf("порт видео %q: %w", vport, err)
	}
	t.host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if t.host == "" {
		return t, fmt.Errorf("не указан адрес получателя")
	}
	return t, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func runPublisher(ctx context.Context, cfg fileConfig, opts runOptions, logger *slog.Logger, out io.Writer) error {
	var target *streamTarget
	if opts.stream != "" {
		t, err := parseStreamTarget(opts.stream)
		if err != nil {
			return err
		}
		target = &t
	}

	pubCfg, err := cfg.publishConfig(logger)
	if err != nil {
		return fmt.Errorf("publish config: %w", err)
	}
	srcCfg, err := cfg.sourceConfig(logger)
	if err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pubCfg.Fanout.Registerer = reg

	p, err := publish.New(pubCfg)
	if err != nil {
		return err
	}
	src, err := testsrc.New("testsrc", srcCfg)
	if err == nil {
		err = p.AddSource(src)
	}
	if err != nil {
		_ = p.Stop()
		return err
	}

	finished := make(chan struct{})
	var finishOnce sync.Once
	p.Domain().Bus().AddWatch(func(msg graph.Message) {
		if msg.Type == graph.MessageEOS && msg.Source == src.Name() {
			finishOnce.Do(func() { close(finished) })
		}
	})
	p.Subscribe(func(ev publish.Event) {
		if ev.Failed {
			logger.Error("Ветка отключена из-за ошибки",
				slog.String("branch", ev.Name),
				slog.String("id", ev.ID),
				slog.String("error", ev.Message))
			return
		}
		logger.Info("Ветка завершила поток", slog.String("branch", ev.Name), slog.String("id", ev.ID))
	})

	var api *control.Server
	if cfg.HTTP.Listen != "" {
		api = control.NewServer(p, reg, logger)
		if _, err := api.Start(cfg.HTTP.Listen); err != nil {
			_ = p.Stop()
			return err
		}
	}

	if err := p.Start(ctx); err != nil {
		_ = p.Stop()
		if api != nil {
			_ = api.Shutdown(context.Background())
		}
		return err
	}

	if opts.record != "" && !p.StartRecord(opts.record) {
		logger.Error("Не удалось начать запись", slog.String("location", opts.record))
	}
	if target != nil {
		if p.StartStream(target.host, target.audioPort, target.videoPort) {
			if desc, err := p.SessionDescription(); err == nil {
				if raw, err := desc.Marshal(); err == nil {
					fmt.Fprint(out, string(raw))
				}
			}
		} else {
			logger.Error("Не удалось начать отправку", slog.String("target", opts.stream))
		}
	}

	select {
	case <-ctx.Done():
	case <-finished:
		logger.Info("Источник завершил поток")
	}

	stopErr := p.Stop()

	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ошибка остановки HTTP сервера", slog.String("error", err.Error()))
		}
	}
	return stopErr
}
