package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mcdev12/coopblocks/go/internal/config"
)

// flags mirrors the persistent command-line options. Values reach the
// config only when the flag was set on the command line or through the
// matching COOP_* variable.
type flags struct {
	configPath  string
	name        string
	backend     string
	transport   string
	logLevel    string
	logFile     string
	seed        int64
	leaderboard bool
	natsURL     string
	listen      string
	publicURL   string
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("COOP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	f := &flags{}
	cfg := &config.Config{}

	cmd := &cobra.Command{
		Use:     "coop",
		Short:   "Cooperative two-player falling blocks over a relay or a direct peer channel.",
		Version: releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(f.configPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), f, &loaded)
			if err := loaded.Validate(); err != nil {
				return err
			}
			if err := setupLogging(loaded); err != nil {
				return err
			}
			*cfg = loaded
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	def := config.Default()
	fs.StringVarP(&f.configPath, "config", "c", "coop.yaml", "path to a YAML config file (env: COOP_CONFIG)")
	fs.StringVarP(&f.name, "name", "n", "", "player name shown on the leaderboard (env: COOP_NAME)")
	fs.StringVarP(&f.backend, "backend", "b", string(def.Backend), "relay store: memory, nats or postgres (env: COOP_BACKEND)")
	fs.StringVarP(&f.transport, "transport", "t", string(def.Transport), "sync transport: relay, peer or hybrid (env: COOP_TRANSPORT)")
	fs.StringVar(&f.logLevel, "log-level", def.LogLevel, "log level (env: COOP_LOG_LEVEL)")
	fs.StringVar(&f.logFile, "log-file", def.LogFile, "log destination while the game screen is open (env: COOP_LOG_FILE)")
	fs.Int64Var(&f.seed, "seed", 0, "fixed piece seed, host only (env: COOP_SEED)")
	fs.BoolVar(&f.leaderboard, "leaderboard", false, "record final scores in Postgres (env: COOP_LEADERBOARD)")
	fs.StringVar(&f.natsURL, "nats-url", def.NATS.URL, "NATS server for the nats backend (env: COOP_NATS_URL)")
	fs.StringVar(&f.listen, "listen", def.Peer.ListenAddr, "peer listener address (env: COOP_LISTEN)")
	fs.StringVar(&f.publicURL, "public-url", "", "extra peer candidate URL to advertise (env: COOP_PUBLIC_URL)")

	fs.VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(fl.Name, fl)
		_ = v.BindEnv(fl.Name)
		if !fl.Changed && v.IsSet(fl.Name) {
			_ = fs.Set(fl.Name, fmt.Sprintf("%v", v.Get(fl.Name)))
		}
	})

	cmd.AddCommand(
		newHostCmd(cfg),
		newJoinCmd(cfg),
		newLocalCmd(cfg),
		newLeaderboardCmd(cfg),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("coop v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// applyFlags copies every explicitly set option over the loaded config.
func applyFlags(fs *pflag.FlagSet, f *flags, cfg *config.Config) {
	fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "name":
			cfg.PlayerName = f.name
		case "backend":
			cfg.Backend = config.Backend(f.backend)
		case "transport":
			cfg.Transport = config.Transport(f.transport)
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "log-file":
			cfg.LogFile = f.logFile
		case "seed":
			cfg.Seed = f.seed
		case "leaderboard":
			cfg.Leaderboard = f.leaderboard
		case "nats-url":
			cfg.NATS.URL = f.natsURL
		case "listen":
			cfg.Peer.ListenAddr = f.listen
		case "public-url":
			cfg.Peer.PublicURL = f.publicURL
		}
	})
}

func setupLogging(cfg config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// logToFile sends log output to path while the terminal UI is open and
// returns a function that restores console logging.
func logToFile(path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	prev := log.Logger
	log.Logger = zerolog.New(file).With().Timestamp().Logger()
	return func() {
		log.Logger = prev
		file.Close()
	}, nil
}
