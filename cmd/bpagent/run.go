package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/channel"
	"github.com/samsamfire/bplib/pkg/clform"
	"github.com/samsamfire/bplib/pkg/config"
	"github.com/samsamfire/bplib/pkg/store"
	"github.com/samsamfire/bplib/pkg/store/badgerstore"
	"github.com/samsamfire/bplib/pkg/store/memstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runAgent(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	localStr, _ := flags.GetString("local")
	remoteStr, _ := flags.GetString("remote")
	listenAddr, _ := flags.GetString("listen")
	peerAddr, _ := flags.GetString("peer")
	transportKind, _ := flags.GetString("transport")
	storeKind, _ := flags.GetString("store")
	storeDir, _ := flags.GetString("store-dir")
	requestCustody, _ := flags.GetBool("request-custody")
	wrapName, _ := flags.GetString("wrap")
	acsRateMs, _ := flags.GetUint64("acs-rate-ms")
	profileFile, _ := flags.GetString("profile-file")
	profileName, _ := flags.GetString("profile")
	metricsAddr, _ := flags.GetString("metrics-addr")
	verbose, _ := flags.GetBool("verbose")

	logger := logrus.StandardLogger()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	localEID, err := bpblock.ParseEID(localStr)
	if err != nil {
		return fmt.Errorf("--local: %w", err)
	}
	remoteEID, err := bpblock.ParseEID(remoteStr)
	if err != nil {
		return fmt.Errorf("--remote: %w", err)
	}

	backing, err := openStore(storeKind, storeDir)
	if err != nil {
		return err
	}

	agent := channel.NewAgent(8, backing, nil)
	agent.SetLogger(logger)

	var metrics *channel.Metrics
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = channel.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
		logger.Infof("serving metrics on %s/metrics", metricsAddr)
	}
	agent.SetMetrics(metrics)

	configure, err := buildConfigure(profileFile, profileName, requestCustody, wrapName, acsRateMs)
	if err != nil {
		return err
	}

	ch, err := agent.OpenWithOptions(localEID, remoteEID, configure)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	transport, err := openTransport(transportKind, listenAddr, peerAddr)
	if err != nil {
		return err
	}
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	go outboundLoop(ctx, ch, transport, logger)
	go inboundLoop(ctx, ch, transport, logger)
	go tickLoop(ctx, agent, logger)
	go deliverLoop(ctx, ch, logger)

	<-ctx.Done()
	return nil
}

func openStore(kind, dir string) (store.Store, error) {
	switch kind {
	case "mem":
		return memstore.New(0), nil
	case "badger":
		return badgerstore.Open(dir)
	default:
		return nil, fmt.Errorf("unknown --store %q (want mem or badger)", kind)
	}
}

func openTransport(kind, listenAddr, peerAddr string) (clform.Transport, error) {
	switch kind {
	case "udp":
		return clform.NewUDPConvergenceLayer(listenAddr, peerAddr, 65536)
	case "tcp":
		if peerAddr != "" {
			return clform.DialTCPConvergenceLayer(context.Background(), peerAddr)
		}
		return clform.ListenTCPConvergenceLayer(context.Background(), listenAddr)
	default:
		return nil, fmt.Errorf("unknown --transport %q (want udp or tcp)", kind)
	}
}

func buildConfigure(profileFile, profileName string, requestCustody bool, wrapName string, acsRateMs uint64) (func(*bplib.Options), error) {
	var base func(*bplib.Options)
	switch {
	case profileFile != "" && profileName == "":
		return nil, fmt.Errorf("--profile is required when --profile-file is set")
	case profileFile == "" && profileName != "":
		return nil, fmt.Errorf("--profile-file is required when --profile is set")
	case profileFile != "":
		profiles, err := config.LoadProfiles(profileFile)
		if err != nil {
			return nil, err
		}
		base, err = config.Configure(profiles, profileName)
		if err != nil {
			return nil, err
		}
	}

	wrap, err := parseWrapPolicy(wrapName)
	if err != nil {
		return nil, err
	}

	return func(o *bplib.Options) {
		if base != nil {
			base(o)
		}
		o.RequestCustody = requestCustody
		o.Wrap = wrap
		o.ACSRateMs = acsRateMs
	}, nil
}

func parseWrapPolicy(s string) (bplib.WrapPolicy, error) {
	switch s {
	case "resend":
		return bplib.WrapResend, nil
	case "block":
		return bplib.WrapBlock, nil
	case "drop":
		return bplib.WrapDrop, nil
	default:
		return 0, fmt.Errorf("unknown --wrap %q (want resend, block, or drop)", s)
	}
}

// outboundLoop drains Load into the transport, one bundle at a time.
func outboundLoop(ctx context.Context, ch *channel.Channel, transport clform.Transport, logger logrus.FieldLogger) {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return
		}
		var flags bplib.Flags
		n, err := ch.Load(ctx, buf, 200, &flags)
		if err != nil {
			if err != bplib.ErrTimeout {
				logger.WithError(err).Warn("load failed")
			}
			continue
		}
		if flags != 0 {
			logger.Debugf("load flags: %#x", flags)
		}
		if err := transport.Send(ctx, buf[:n]); err != nil {
			logger.WithError(err).Warn("send failed")
		}
	}
}

// inboundLoop feeds whatever the transport delivers to Process.
func inboundLoop(ctx context.Context, ch *channel.Channel, transport clform.Transport, logger logrus.FieldLogger) {
	for {
		if ctx.Err() != nil {
			return
		}
		data, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).Warn("receive failed")
			}
			continue
		}
		var flags bplib.Flags
		if err := ch.Process(ctx, data, 200, &flags); err != nil {
			logger.WithError(err).Warn("process failed")
			continue
		}
		if flags != 0 {
			logger.Debugf("process flags: %#x", flags)
		}
	}
}

// tickLoop drives ACS rate-triggered finalize for every channel on agent.
func tickLoop(ctx context.Context, agent *channel.Agent, logger logrus.FieldLogger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if flags := agent.Tick(); flags != 0 {
				logger.Debugf("tick flags: %#x", flags)
			}
		}
	}
}

// deliverLoop prints delivered payloads to stdout, one line per bundle.
func deliverLoop(ctx context.Context, ch *channel.Channel, logger logrus.FieldLogger) {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return
		}
		var flags bplib.Flags
		n, err := ch.Accept(ctx, buf, 200, &flags)
		if err != nil {
			if err != bplib.ErrTimeout {
				logger.WithError(err).Warn("accept failed")
			}
			continue
		}
		fmt.Printf("delivered %d bytes: %q\n", n, buf[:n])
	}
}
