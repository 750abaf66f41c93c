// Command field-agent runs the on-device controller: it samples the
// climate sensor, keeps the pin action table in sync with the cloud,
// and drives the actuator pins.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrogo-wsu/field-agent/internal/actuate"
	"github.com/agrogo-wsu/field-agent/internal/cloud"
	"github.com/agrogo-wsu/field-agent/internal/config"
	"github.com/agrogo-wsu/field-agent/internal/device"
	"github.com/agrogo-wsu/field-agent/internal/events"
	"github.com/agrogo-wsu/field-agent/internal/gpio"
	"github.com/agrogo-wsu/field-agent/internal/pairing"
	"github.com/agrogo-wsu/field-agent/internal/sensor"
	"github.com/agrogo-wsu/field-agent/internal/status"
	"github.com/agrogo-wsu/field-agent/internal/web"
)

// rootOptions holds the flags shared by all subcommands. Defaults come
// from the environment (and an optional .env file) so a systemd unit
// can configure the agent without editing the command line.
type rootOptions struct {
	configPath string
	broker     string
	httpAddr   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	settings := config.LoadEnv()
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "field-agent",
		Short:         "AgroGo field device controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", settings.ConfigPath, "device config file path")
	cmd.PersistentFlags().StringVar(&opts.broker, "broker", settings.Broker, "MQTT broker address (empty to disable)")
	cmd.PersistentFlags().StringVar(&opts.httpAddr, "http", settings.HTTPAddr, "HTTP status address (empty to disable)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPairCommand(opts))
	cmd.AddCommand(newPinTestCommand())
	cmd.AddCommand(newSensorTestCommand())

	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the controller daemon (pairs first when unpaired)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts)
		},
	}
}

func newPairCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Pair the device with an account, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.NewStore(opts.configPath)
			cfg, err := store.Load()
			if err != nil {
				return err
			}
			if err := ensureDeviceID(store, cfg); err != nil {
				return err
			}
			return pairDevice(store, cfg)
		},
	}
}

func runDaemon(opts *rootOptions) error {
	store := config.NewStore(opts.configPath)
	cfg, err := store.Load()
	if err != nil {
		return err
	}
	if err := ensureDeviceID(store, cfg); err != nil {
		return err
	}

	// A fresh device claims an account before it starts actuating.
	if !cfg.Paired {
		if err := pairDevice(store, cfg); err != nil {
			return err
		}
	}

	writer, err := gpio.NewRealWriter(gpio.DefaultPins())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer writer.Close()

	sched := actuate.NewScheduler(writer)

	reader, err := sensor.NewDHT11(sensor.DefaultDataPin)
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	defer reader.Close()

	client := cloud.NewClient(cfg.Backend, cfg.DeviceID, cfg.FirebaseUID)

	// MQTT is optional: the device keeps actuating when the broker is
	// unreachable or unconfigured.
	var publisher events.Publisher
	var mqttStatus events.ConnectionStatus
	if opts.broker != "" {
		real, err := events.NewRealPublisher(opts.broker, cfg.DeviceID)
		if err != nil {
			log.Printf("mqtt connect failed, continuing without events: %v", err)
		} else {
			publisher = real
			mqttStatus = real
			defer real.Close()
		}
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		SamplingSec: int64(cfg.SamplingInterval),
		RefetchSec:  int64(cfg.ConfigRefetchInterval),
		Broker:      opts.broker,
		HTTPAddr:    opts.httpAddr,
		ConfigPath:  store.Path(),
		Timezone:    cfg.Timezone,
	})
	tracker.SetIdentity(cfg.DeviceID, cfg.Paired)
	tracker.SetTable(len(cfg.PinActionTable), lastFetchTime(cfg))

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := events.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", opts.httpAddr)
	}

	// An unexpected panic must not leave actuators latched HIGH.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic: %v", r)
			sched.ForceAllLow()
			panic(r)
		}
	}()

	log.Printf("started: device=%s sampling=%v refetch=%v broker=%q",
		cfg.DeviceID, cfg.SamplingPeriod(), cfg.RefetchPeriod(), opts.broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps := loopDeps{
		store:      store,
		cfg:        cfg,
		client:     client,
		reader:     reader,
		sched:      sched,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
	}
	return runLoop(deps, time.Now, realAfter, sigCh)
}

// ensureDeviceID fills in and persists the device id on first boot.
func ensureDeviceID(store *config.Store, cfg *config.Config) error {
	if cfg.DeviceID != "" {
		return nil
	}
	mac, err := device.MACAddress()
	if err != nil {
		return fmt.Errorf("resolve device id: %w", err)
	}
	cfg.DeviceID = mac
	if err := store.Save(cfg); err != nil {
		return fmt.Errorf("persist device id: %w", err)
	}
	log.Printf("device id assigned: %s", mac)
	return nil
}

// pairDevice shows the pairing QR code and blocks until the backend
// reports the device was claimed, or the process is interrupted.
func pairDevice(store *config.Store, cfg *config.Config) error {
	if cfg.PairingNonce == "" {
		cfg.PairingNonce = pairing.NewNonce()
		if err := store.Save(cfg); err != nil {
			return fmt.Errorf("persist pairing nonce: %w", err)
		}
	}

	client := cloud.NewClient(cfg.Backend, cfg.DeviceID, "")
	url := pairing.BuildURL(cfg.Backend.PairingAppURL, cfg.DeviceID, cfg.PairingNonce)
	pairing.ShowQR(os.Stdout, url)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uid, err := pairing.WaitForPairing(ctx, client, pairing.DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("pairing: %w", err)
	}

	cfg.FirebaseUID = uid
	cfg.Paired = true
	cfg.PairingNonce = ""
	if err := store.Save(cfg); err != nil {
		return fmt.Errorf("persist pairing: %w", err)
	}
	log.Printf("device paired: uid=%s", uid)
	return nil
}

// newPinTestCommand exercises each actuator pin so a wiring problem
// shows up before the device goes into the field.
func newPinTestCommand() *cobra.Command {
	var pin int
	cmd := &cobra.Command{
		Use:   "pintest",
		Short: "Cycle actuator pins HIGH 5s / LOW 2s until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			pins := gpio.DefaultPins()
			if pin >= 0 {
				pins = []int{pin}
			}
			writer, err := gpio.NewRealWriter(pins)
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer writer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for ctx.Err() == nil {
				for _, p := range pins {
					fmt.Printf("pin %d HIGH\n", p)
					if err := writer.SetLevel(p, true); err != nil {
						return err
					}
					if !sleepCtx(ctx, 5*time.Second) {
						break
					}
					fmt.Printf("pin %d LOW\n", p)
					if err := writer.SetLevel(p, false); err != nil {
						return err
					}
					if !sleepCtx(ctx, 2*time.Second) {
						break
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pin, "pin", -1, "test a single BCM pin (default: all actuator pins)")
	return cmd
}

// newSensorTestCommand prints climate readings until interrupted.
func newSensorTestCommand() *cobra.Command {
	var dataPin int
	cmd := &cobra.Command{
		Use:   "sensortest",
		Short: "Read and print the climate sensor every 2s until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := sensor.NewDHT11(dataPin)
			if err != nil {
				return fmt.Errorf("init sensor: %w", err)
			}
			defer reader.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for ctx.Err() == nil {
				r, err := reader.Read()
				if err != nil {
					fmt.Printf("read error: %v\n", err)
				} else {
					fmt.Printf("temperature=%.1fC humidity=%.1f%%\n", *r.Temperature, *r.Humidity)
				}
				if !sleepCtx(ctx, 2*time.Second) {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&dataPin, "pin", sensor.DefaultDataPin, "BCM pin the sensor data line is wired to")
	return cmd
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func realAfter(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func lastFetchTime(cfg *config.Config) time.Time {
	if cfg.LastConfigFetch == 0 {
		return time.Time{}
	}
	return time.Unix(cfg.LastConfigFetch, 0)
}
