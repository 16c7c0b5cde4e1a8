package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	ini "gopkg.in/ini.v1"
)

var (
	flagConfig      string
	flagAccountName string
	flagSIPAddress  string
	flagPassword    string
	flagDisplayName string
	flagProxy       string
	flagTraceSIP    bool
	flagTraceEngine bool
	flagECTail      int
	flagSampleRate  int
	flagCodecs      []string
	flagNoSound     bool
	flagXCAPRoot    string
	flagExpires     int
)

func main() {
	root := &cobra.Command{
		Use:           "sipconsole",
		Short:         "Interactive SIP audio session and presence authorization console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "config.ini", "configuration file")
	pf.StringVarP(&flagAccountName, "account-name", "a", "", "account section to read, [account.NAME] in the configuration file")
	pf.StringVar(&flagSIPAddress, "sip-address", "", "SIP address of the user in the form user@domain")
	pf.StringVarP(&flagPassword, "password", "p", "", "password to authenticate the local account")
	pf.StringVarP(&flagDisplayName, "display-name", "n", "", "display name of the local account")
	pf.StringVarP(&flagProxy, "outbound-proxy", "o", "", "outbound SIP proxy, IP[:PORT]")
	pf.BoolVarP(&flagTraceSIP, "trace-sip", "s", false, "dump raw contents of incoming and outgoing SIP messages")
	pf.BoolVarP(&flagTraceEngine, "trace-engine", "j", false, "print engine diagnostic output")

	callCmd := &cobra.Command{
		Use:   "call [target-user@domain]",
		Short: "Wait for an incoming audio call, or dial the target",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCall,
	}
	callCmd.Flags().IntVarP(&flagECTail, "ec-tail-length", "t", 50, "echo cancellation tail length in ms, 0 disables")
	callCmd.Flags().IntVarP(&flagSampleRate, "sample-rate", "r", 32, "sample rate in kHz: 8, 16 or 32")
	callCmd.Flags().StringSliceVarP(&flagCodecs, "codecs", "c", nil, "audio codecs to allow, in preference order")
	callCmd.Flags().BoolVarP(&flagNoSound, "disable-sound", "S", false, "do not initialize the soundcard")

	winfoCmd := &cobra.Command{
		Use:   "winfo",
		Short: "Subscribe to presence.winfo and maintain the presence rules",
		Args:  cobra.NoArgs,
		RunE:  runWinfo,
	}
	winfoCmd.Flags().StringVarP(&flagXCAPRoot, "xcap-root", "x", "", "XCAP root for the pres-rules document")
	winfoCmd.Flags().IntVarP(&flagExpires, "expires", "e", 300, "Expires value to set in SUBSCRIBE")

	root.AddCommand(callCmd, winfoCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings reads the configuration file and applies flag overrides.
func loadSettings(cmd *cobra.Command) (*Settings, *ini.File, error) {
	cfg, err := ini.LooseLoad(flagConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", flagConfig, err)
	}
	settings, err := LoadSettings(cfg, flagAccountName)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("sip-address") {
		settings.sipAddress = flagSIPAddress
	}
	if flags.Changed("password") {
		settings.password = flagPassword
	}
	if flags.Changed("display-name") {
		settings.displayName = flagDisplayName
	}
	if flags.Changed("outbound-proxy") {
		settings.outboundProxy = flagProxy
	}
	if flags.Changed("trace-sip") {
		settings.traceSIP = flagTraceSIP
	}
	if flags.Changed("trace-engine") {
		settings.traceEngine = flagTraceEngine
	}
	if flags.Changed("ec-tail-length") {
		settings.ecTailLength = flagECTail
	}
	if flags.Changed("sample-rate") {
		settings.sampleRate = flagSampleRate
	}
	if flags.Changed("codecs") {
		settings.codecs = flagCodecs
	}
	if flags.Changed("disable-sound") {
		settings.disableSound = flagNoSound
	}
	if flags.Changed("xcap-root") {
		settings.xcapRoot = flagXCAPRoot
	}
	if flags.Changed("expires") {
		settings.subscribeExpires = flagExpires
	}

	if err := settings.Validate(); err != nil {
		return nil, nil, err
	}
	reportAccounts(cfg, settings)
	return settings, cfg, nil
}

// reportAccounts mirrors the startup account summary.
func reportAccounts(cfg *ini.File, settings *Settings) {
	var accounts []string
	for _, sec := range cfg.Sections() {
		switch {
		case sec.Name() == "account":
			accounts = append(accounts, "default")
		case strings.HasPrefix(sec.Name(), "account."):
			accounts = append(accounts, fmt.Sprintf("%q", strings.TrimPrefix(sec.Name(), "account.")))
		}
	}
	sort.Strings(accounts)
	if len(accounts) > 0 {
		fmt.Printf("Accounts available: %s\n", strings.Join(accounts, ", "))
	}
	if flagAccountName == "" {
		fmt.Printf("Using default account: %s\n", settings.SIPAddress())
	} else if !settings.PeerToPeer() {
		fmt.Printf("Using account %q: %s\n", flagAccountName, settings.SIPAddress())
	}
}

// runControlled wires the producers and the engine around the given
// controller loop, waits for its completion handle and tears everything down
// in order: reader released and terminal restored, engine stopped, files
// closed. abnormal reports whether the loop faulted.
func runControlled(settings *Settings, cfg *ini.File, start func(queue *eventQueue, eng Engine) (done <-chan struct{}, abnormal *bool, err error)) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLogging()

	queue := newEventQueue()
	trace := newTraceLogger(settings.TraceFilePath(), coreLog)
	defer trace.close()
	if settings.TraceSIP() {
		fmt.Printf("Logging SIP trace to file %q\n", settings.TraceFilePath())
	}

	adapter := newEventAdapter(queue, trace, settings.TraceSIP(), settings.TraceEngine())
	eng := newSIPEngine(settings, adapter.handle, engineLog)
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	reader, err := newTerminalReader(queue, coreLog)
	if err != nil {
		return fmt.Errorf("terminal reader: %w", err)
	}
	defer reader.close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			queue.enqueue(command{kind: cmdQuit})
		}
	}()

	done, abnormal, err := start(queue, eng)
	if err != nil {
		return err
	}
	<-done
	queue.close()
	if *abnormal {
		return fmt.Errorf("terminated abnormally")
	}
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	settings, cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	target := ""
	if len(args) == 1 {
		target = args[0]
	}
	return runControlled(settings, cfg, func(queue *eventQueue, eng Engine) (<-chan struct{}, *bool, error) {
		ctrl := newSessionController(settings, eng, queue, target, os.Stdout, coreLog)
		go ctrl.run()
		return ctrl.done, &ctrl.abnormal, nil
	})
}

func runWinfo(cmd *cobra.Command, args []string) error {
	settings, cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if !settings.UsePresence() {
		return fmt.Errorf("presence is not enabled for this account; set use_presence_agent=true in the config file")
	}
	return runControlled(settings, cfg, func(queue *eventQueue, eng Engine) (<-chan struct{}, *bool, error) {
		var store documentStore
		if settings.XCAPRoot() != "" {
			store = newXCAPClient(settings.XCAPRoot(), settings.AccountID(), settings.Password(), coreLog)
		}
		ctrl := newWatcherController(settings, eng, queue, store, os.Stdout, coreLog)
		go ctrl.run()
		return ctrl.done, &ctrl.abnormal, nil
	})
}
