package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/podstate/cmd/podstate-agent/app/options"
	"github.com/autopeer-io/podstate/internal/alerts"
	"github.com/autopeer-io/podstate/internal/notify"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/manager"
	"github.com/autopeer-io/podstate/internal/podstate/watchdog"
	"github.com/autopeer-io/podstate/internal/server"
	httpserver "github.com/autopeer-io/podstate/internal/server/http"
	mqttserver "github.com/autopeer-io/podstate/internal/server/mqtt"
	"github.com/autopeer-io/podstate/internal/store"
	"github.com/autopeer-io/podstate/pkg/log"
	pkgmqtt "github.com/autopeer-io/podstate/pkg/mqtt"
	"github.com/autopeer-io/podstate/pkg/mqtt/topic"
)

const commandName = "podstate-agent"

// NewAgentCommand builds the root command and its subcommands.
func NewAgentCommand(ctx context.Context) *cobra.Command {
	opts := options.NewAgentOptions()
	var v *viper.Viper

	cmd := &cobra.Command{
		Use:   commandName,
		Short: "Keep the authoritative state of an insulin pod session",
		Long: `The podstate agent reconciles pod status reports into a persisted snapshot,
tracks temporary basal commands whose outcome is unknown, and publishes a
change event for every observed difference.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if v, err = opts.NewViper(cmd.Flags()); err != nil {
				return err
			}
			if err := opts.Load(v); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			log.Init(opts.Log)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer log.Sync()
			return run(ctx, opts, v)
		},
	}

	namedfs := opts.Flags()
	for _, f := range namedfs.FlagSets {
		cmd.PersistentFlags().AddFlagSet(f)
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	globalfs := namedfs.FlagSet("global")
	globalflag.AddGlobalFlags(globalfs, cmd.Name())
	cmd.Flags().AddFlagSet(globalfs)
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, 80)

	cmd.AddCommand(
		newInspectCommand(ctx, opts),
		newResetCommand(ctx, opts),
	)
	return cmd
}

func run(ctx context.Context, opts *options.AgentOptions, v *viper.Viper) error {
	podID := opts.PodState.PodID
	logger := log.WithValues("podId", podID)
	logger.Info("Starting podstate agent", "store", opts.Store.Backend, "mqtt", opts.Mqtt.Enabled, "http", opts.Http.Enabled)

	st, err := store.New(ctx, opts.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer st.Close()

	center := alerts.NewCenter(nil)
	bus := notify.NewBus(podID, opts.PodState.EventBuffer, nil)
	notifiers := notify.Multi{bus}
	runnables := server.NewManager(eventLogger(bus, logger))

	var topics *topic.Builder
	if opts.Mqtt.Enabled {
		topics = topic.NewBuilder(opts.Mqtt.TopicRoot)

		egress, err := pkgmqtt.NewClient(opts.Mqtt.ToClientConfig("notifier"))
		if err != nil {
			return fmt.Errorf("failed to create mqtt notifier client: %w", err)
		}
		mqttNotifier := notify.NewMQTTNotifier(egress, topics, podID, opts.Mqtt.QoS, opts.PodState.EventBuffer)
		notifiers = append(notifiers, mqttNotifier)
		runnables.Add(mqttNotifier)
	}

	mgr := manager.New(st, notifiers, center,
		manager.WithLogger(log.WithName("manager").WithValues("podId", podID)),
		manager.WithUncertainDeadline(opts.PodState.UncertainDeadline),
		manager.WithRetryPolicy(opts.RetryPolicy()),
		manager.WithAlertPoster(center),
	)

	runnables.Add(&watchdog.Watchdog{
		Target:    mgr,
		Log:       log.Logr().WithName("watchdog"),
		Threshold: opts.PodState.RefreshFailedAfter,
		Interval:  opts.PodState.WatchInterval,
	})

	if opts.Mqtt.Enabled {
		ingress, err := pkgmqtt.NewClient(opts.Mqtt.ToClientConfig("ingress"))
		if err != nil {
			return fmt.Errorf("failed to create mqtt ingress client: %w", err)
		}
		runnables.Add(mqttserver.NewServer(ingress, topics, podID, opts.Mqtt.QoS, mgr))
	}

	if opts.Http.Enabled {
		runnables.Add(httpserver.NewServer(opts.Http, mgr, center, st.Ping))
	}

	if err := mgr.Load(ctx); err != nil {
		if !core.IsWarning(err) {
			return fmt.Errorf("failed to load pod state: %w", err)
		}
		logger.Warn("Pod state loaded but not persisted", "error", err)
	}

	if opts.ConfigFile != "" {
		watchConfig(v, mgr)
	}

	return runnables.Start(ctx)
}

// watchConfig re-applies the settings that can change at runtime.
func watchConfig(v *viper.Viper, mgr *manager.Manager) {
	v.OnConfigChange(func(e fsnotify.Event) {
		next := options.NewAgentOptions()
		if err := next.Load(v); err != nil {
			log.Error(err, "Ignoring unreadable config change", "file", e.Name)
			return
		}
		if errs := next.PodState.Validate(); len(errs) > 0 {
			log.Error(errs[0], "Ignoring invalid config change", "file", e.Name)
			return
		}

		mgr.SetUncertainDeadline(next.PodState.UncertainDeadline)
		if err := log.SetLevel(next.Log.Level); err != nil {
			log.Error(err, "Ignoring log level change", "level", next.Log.Level)
		}
		log.Info("Config reloaded", "file", e.Name, "op", e.Op.String(),
			"uncertainDeadline", next.PodState.UncertainDeadline, "logLevel", next.Log.Level)
	})
	v.WatchConfig()
}

// eventLogger drains the in-process bus into the debug log.
func eventLogger(bus *notify.Bus, logger log.Logger) server.Runnable {
	return server.RunnableFunc(func(ctx context.Context) error {
		events, cancel := bus.Subscribe(0)
		defer cancel()
		for {
			select {
			case ev := <-events:
				logger.Debug("Pod state change", "kind", ev.Kind, "at", ev.At)
			case <-ctx.Done():
				return nil
			}
		}
	})
}
