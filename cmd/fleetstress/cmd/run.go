package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/fleetstress/fleetstress/lib/cloudapi"
	"github.com/fleetstress/fleetstress/lib/config"
	"github.com/fleetstress/fleetstress/lib/device"
	"github.com/fleetstress/fleetstress/lib/scenario"
	fleetlogger "github.com/fleetstress/fleetstress/lib/util/logger"
	"github.com/fleetstress/fleetstress/lib/util/signals"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

var (
	scenarioPath string
	cloudAPIAddr string
)

var log = fleetlogger.GetFleetLogger()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect a fleet of simulated devices and drive them through a scenario",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "path to a scenario YAML file (optional; without it the fleet just connects and idles)")
	runCmd.Flags().StringVar(&cloudAPIAddr, "cloud-api", "", "base URL of the cloud REST API to claim devices against (optional)")
}

func runRun(cmd *cobra.Command, args []string) error {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	runID := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	runLog := log.WithField("run_id", runID.String())

	cfg := config.FromViper()

	serverPEM := []byte(cfg.Server.ServerPubKeyPEM)
	if len(serverPEM) == 0 {
		pemPath := viper.GetString("server.pub_key_path")
		if pemPath == "" {
			return oops.Errorf("run: server.pub_key_pem or server.pub_key_path must be set")
		}
		data, err := os.ReadFile(pemPath)
		if err != nil {
			return oops.Wrapf(err, "run: read server public key %s", pemPath)
		}
		serverPEM = data
	}
	server, err := device.LoadServerIdentity(serverPEM)
	if err != nil {
		return err
	}

	count := cfg.Fleet.Count
	throttleMS := cfg.Fleet.ThrottleMS
	webhookEvery := time.Duration(cfg.Fleet.WebhookEvery) * time.Second

	var sc *scenario.Scenario
	if scenarioPath != "" {
		sc, err = scenario.Load(scenarioPath)
		if err != nil {
			return err
		}
		count = sc.DeviceCount
		throttleMS = sc.ThrottleMS
	}

	fleet, err := device.NewFleet(device.FleetOptions{
		Server:       server,
		Addr:         cfg.Server.Addr,
		Count:        count,
		DataDir:      cfg.Fleet.DataDir,
		ThrottleMS:   throttleMS,
		ConnectRate:  rate.Limit(cfg.Runtime.ConnectRatePerSec),
		ConnectBurst: cfg.Runtime.ConnectBurst,
		OnDeviceState: func(idx int, st device.State) {
			runLog.WithField("device_idx", idx).WithField("state", st.String()).Debug("device state transition")
		},
	})
	if err != nil {
		return err
	}

	if cloudAPIAddr != "" {
		claimFleetDevices(cmd.Context(), runLog, fleet, cloudAPIAddr)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	signals.RegisterInterruptHandler(func() { cancel() })
	go signals.Handle()

	if cfg.Runtime.Duration > 0 {
		go func() {
			time.Sleep(time.Duration(cfg.Runtime.Duration) * time.Second)
			cancel()
		}()
	}

	if sc != nil {
		go driveScenario(ctx, fleet, sc)
	}

	runLog.WithField("device_count", count).Info("fleet run starting")
	fmt.Printf("fleetstress run %s: %d devices against %s\n", runID.String(), count, cfg.Server.Addr)
	return fleet.Run(ctx, webhookEvery)
}

// claimFleetDevices registers every device in the fleet with the cloud's
// REST API before sessions connect, so the server's handshake recognizes
// their public keys (spec §6).
func claimFleetDevices(ctx context.Context, runLog *fleetlogger.Entry, fleet *device.DeviceFleet, apiAddr string) {
	client := cloudapi.NewClient(apiAddr)
	for _, sess := range fleet.Sessions() {
		pem, err := sess.PublicKeyPEM()
		if err != nil {
			runLog.WithError(err).Warn("failed to export device public key, skipping claim")
			continue
		}
		if err := client.ClaimDevice(ctx, sess.DeviceIDHex(), pem); err != nil {
			runLog.WithError(err).WithField("device_id", sess.DeviceIDHex()).Warn("failed to claim device with cloud API")
		}
	}
}

func driveScenario(ctx context.Context, fleet *device.DeviceFleet, sc *scenario.Scenario) {
	sessions := fleet.Sessions()
	for _, step := range sc.Steps {
		timer := time.NewTimer(step.After)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		for _, idx := range step.Group.DeviceIndices(len(sessions)) {
			sess := sessions[idx]
			switch step.Command {
			case scenario.CommandConnect:
				sess.Connect()
			case scenario.CommandSendWebhook:
				if step.Event != "" {
					sess.SendEvent(step.Event, nil)
				} else {
					sess.SendWebhook()
				}
			case scenario.CommandDisconnect:
				sess.Disconnect()
			}
		}
	}
}
