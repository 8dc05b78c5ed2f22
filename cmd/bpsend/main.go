// Command bpsend stores one payload on a fresh channel and prints the
// resulting encoded bundle(s) to stdout, hex-encoded one per line. It's the
// one-shot half of the pair with cmd/bpagent: bpsend makes a single Store
// call, drains whatever Load produces, and exits.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/channel"
	"github.com/samsamfire/bplib/pkg/config"
	"github.com/samsamfire/bplib/pkg/store/memstore"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bpsend",
	Short: "Store one payload and print the encoded bundle(s)",
	RunE:  runSend,
}

func init() {
	rootCmd.Flags().String("local", "", "local endpoint id, \"node.service\" (required)")
	rootCmd.Flags().String("remote", "", "remote endpoint id, \"node.service\" (required)")
	rootCmd.Flags().String("payload", "", "payload text to send")
	rootCmd.Flags().String("payload-file", "", "file to read the payload from instead of --payload")
	rootCmd.Flags().Uint64("lifetime", 3600, "bundle lifetime in seconds")
	rootCmd.Flags().Bool("request-custody", false, "request custody transfer")
	rootCmd.Flags().String("wrap", "resend", "active-table wrap policy: resend, block, or drop")
	rootCmd.Flags().String("profile-file", "", "optional INI file of named channel option profiles")
	rootCmd.Flags().String("profile", "", "profile name to apply from --profile-file")

	rootCmd.MarkFlagRequired("local")
	rootCmd.MarkFlagRequired("remote")
}

func runSend(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	localStr, _ := flags.GetString("local")
	remoteStr, _ := flags.GetString("remote")
	payloadText, _ := flags.GetString("payload")
	payloadFile, _ := flags.GetString("payload-file")
	lifetime, _ := flags.GetUint64("lifetime")
	requestCustody, _ := flags.GetBool("request-custody")
	wrapName, _ := flags.GetString("wrap")
	profileFile, _ := flags.GetString("profile-file")
	profileName, _ := flags.GetString("profile")

	payload, err := readPayload(payloadText, payloadFile)
	if err != nil {
		return err
	}

	localEID, err := bpblock.ParseEID(localStr)
	if err != nil {
		return fmt.Errorf("--local: %w", err)
	}
	remoteEID, err := bpblock.ParseEID(remoteStr)
	if err != nil {
		return fmt.Errorf("--remote: %w", err)
	}

	wrap, err := parseWrap(wrapName)
	if err != nil {
		return err
	}

	var base func(*bplib.Options)
	if profileFile != "" {
		if profileName == "" {
			return fmt.Errorf("--profile is required when --profile-file is set")
		}
		profiles, err := config.LoadProfiles(profileFile)
		if err != nil {
			return err
		}
		base, err = config.Configure(profiles, profileName)
		if err != nil {
			return err
		}
	}

	agent := channel.NewAgent(1, memstore.New(0), nil)
	ch, err := agent.OpenWithOptions(localEID, remoteEID, func(o *bplib.Options) {
		if base != nil {
			base(o)
		}
		o.Lifetime = lifetime
		o.RequestCustody = requestCustody
		o.Wrap = wrap
	})
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	ctx := context.Background()
	if err := ch.Store(ctx, payload, 0); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	buf := make([]byte, 65536)
	for {
		var loadFlags bplib.Flags
		n, err := ch.Load(ctx, buf, 0, &loadFlags)
		if err != nil {
			if err == bplib.ErrTimeout {
				break
			}
			return fmt.Errorf("load: %w", err)
		}
		fmt.Println(hex.EncodeToString(buf[:n]))
	}
	return nil
}

func readPayload(text, file string) ([]byte, error) {
	switch {
	case file != "":
		return os.ReadFile(file)
	case text != "":
		return []byte(text), nil
	default:
		return nil, fmt.Errorf("one of --payload or --payload-file is required")
	}
}

func parseWrap(s string) (bplib.WrapPolicy, error) {
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
