package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/mcdev12/coopblocks/go/internal/config"
	"github.com/mcdev12/coopblocks/go/internal/coop/game"
	"github.com/mcdev12/coopblocks/go/internal/coop/peer"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/coop/relay"
	"github.com/mcdev12/coopblocks/go/internal/coop/term"
)

func newHostCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Create a room and play as player 1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return play(cmd.Context(), *cfg, protocol.Host, "")
		},
	}
}

func newJoinCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join [room]",
		Short: "Join a room as player 2 (the room is not needed with --transport peer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := ""
			if len(args) == 1 {
				room = args[0]
			}
			if room == "" && cfg.Transport != config.TransportPeer {
				return errors.New("join needs a room id")
			}
			return play(cmd.Context(), *cfg, protocol.Guest, room)
		},
	}
}

// handshaker is implemented by the manually signalled peer transport.
type handshaker interface {
	CreateOffer(ctx context.Context) (string, error)
	AcceptOffer(ctx context.Context, offer string) (string, error)
	AcceptAnswer(ctx context.Context, answer string) error
}

func play(ctx context.Context, cfg config.Config, role protocol.Role, room string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner()

	svc, err := setupServices(ctx, cfg, cfg.Transport != config.TransportPeer)
	if err != nil {
		return err
	}
	defer svc.Close()

	senderID := uuid.NewString()
	if svc.Rooms != nil {
		if role == protocol.Host {
			info, err := svc.Rooms.CreateRoom(ctx, senderID)
			if err != nil {
				return err
			}
			room = info.ID
			pterm.Success.Printfln("Room %s created. Ask your partner to run: coop join %s", room, room)
		} else {
			if _, err := svc.Rooms.JoinRoom(ctx, room, senderID); err != nil {
				return err
			}
			pterm.Success.Printfln("Joined room %s", room)
		}
	}

	provider, err := newProvider(cfg, svc, room, senderID)
	if err != nil {
		return err
	}

	session := game.NewSession(sessionConfig(cfg, role), provider, svc.Recorder)
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := session.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop session")
		}
		if role == protocol.Host && svc.Rooms != nil {
			if err := svc.Rooms.DeleteRoom(context.Background(), room); err != nil {
				log.Warn().Err(err).Msg("failed to delete room")
			}
		}
	}()

	if hs, ok := provider.(handshaker); ok && cfg.Transport == config.TransportPeer {
		if err := manualHandshake(ctx, hs, role); err != nil {
			return err
		}
	}
	if err := waitForPeer(ctx, provider); err != nil {
		return err
	}

	return runScreen(ctx, cfg, room, role, provider, []*game.Session{session}, func(in term.Input) *game.Session {
		return session
	})
}

func sessionConfig(cfg config.Config, role protocol.Role) game.Config {
	gc := game.DefaultConfig(role)
	gc.Seed = cfg.Seed
	gc.SyncInterval = cfg.Game.SyncInterval
	gc.BaseDropInterval = cfg.Game.BaseDropInterval
	if name := strings.TrimSpace(cfg.PlayerName); name != "" {
		if role == protocol.Host {
			gc.Player1Name = name
		} else {
			gc.Player2Name = name
		}
	}
	return gc
}

func newProvider(cfg config.Config, svc *Services, room, senderID string) (protocol.Provider, error) {
	switch cfg.Transport {
	case config.TransportRelay:
		return relay.New(svc.Store, relay.DefaultConfig(room, senderID), nil), nil
	case config.TransportPeer:
		return peer.New(peerConfig(cfg, senderID), nil), nil
	case config.TransportHybrid:
		return peer.NewHybrid(svc.Store, room, peerConfig(cfg, senderID), nil), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func peerConfig(cfg config.Config, senderID string) peer.Config {
	pc := peer.DefaultConfig(senderID)
	pc.ListenAddr = cfg.Peer.ListenAddr
	pc.PublicURL = cfg.Peer.PublicURL
	pc.HandshakeTimeout = cfg.Peer.HandshakeTimeout
	return pc
}

// manualHandshake exchanges descriptions through the user: one side prints
// its description (and a QR code of it), the other pastes it.
func manualHandshake(ctx context.Context, hs handshaker, role protocol.Role) error {
	if role == protocol.Host {
		offer, err := hs.CreateOffer(ctx)
		if err != nil {
			return err
		}
		showDescription("Send this offer to your partner", offer)
		for {
			answer, err := prompt("Paste your partner's answer")
			if err != nil {
				return err
			}
			err = hs.AcceptAnswer(ctx, answer)
			if err == nil {
				return nil
			}
			pterm.Error.Println(err.Error())
		}
	}

	for {
		offer, err := prompt("Paste the host's offer")
		if err != nil {
			return err
		}
		answer, err := hs.AcceptOffer(ctx, offer)
		if err != nil {
			pterm.Error.Println(err.Error())
			continue
		}
		showDescription("Send this answer back to the host", answer)
		return nil
	}
}

func showDescription(title, desc string) {
	pterm.DefaultSection.Println(title)
	pterm.Println(desc)
	if qr, err := qrcode.New(desc, qrcode.Low); err == nil {
		pterm.Println(qr.ToSmallString(false))
	}
}

func prompt(text string) (string, error) {
	answer, err := pterm.DefaultInteractiveTextInput.Show(text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// waitForPeer blocks until the provider connects, fails or ctx ends.
func waitForPeer(ctx context.Context, provider protocol.Provider) error {
	states := make(chan protocol.ConnectionState, 8)
	provider.OnConnectionStateChange(func(s protocol.ConnectionState) {
		select {
		case states <- s:
		default:
		}
	})
	if provider.ConnectionState() == protocol.Connected {
		return nil
	}

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for your partner...")
	for {
		select {
		case <-ctx.Done():
			_ = spinner.Stop()
			return ctx.Err()
		case s := <-states:
			switch s {
			case protocol.Connected:
				spinner.Success("Connected")
				return nil
			case protocol.Failed:
				spinner.Fail("Connection failed")
				return errors.New("could not connect to partner")
			}
		}
	}
}

func printBanner() {
	pterm.DefaultHeader.WithFullWidth().Println("coopblocks")
}

// runScreen opens the terminal UI over sessions[0] and routes key presses to
// the session chosen by route until the user quits. Pause and restart go to
// sessions[0].
func runScreen(
	ctx context.Context,
	cfg config.Config,
	room string,
	role protocol.Role,
	provider protocol.Provider,
	sessions []*game.Session,
	route func(term.Input) *game.Session,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	restore, err := logToFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer restore()

	screen, err := term.Open()
	if err != nil {
		return err
	}
	defer screen.Close()

	status := func() term.Status {
		return term.Status{
			Room:       room,
			Role:       role,
			Connection: provider.ConnectionState(),
			Latency:    provider.Latency(),
		}
	}
	primary := sessions[0]
	primary.OnRender(func(st protocol.State) {
		screen.SetStatus(status())
		if err := screen.Draw(st); err != nil {
			log.Warn().Err(err).Msg("failed to draw")
		}
	})

	errs := make(chan error, len(sessions))
	for _, s := range sessions {
		go func(s *game.Session) { errs <- s.Run(ctx) }(s)
	}

	inputs := screen.Inputs(ctx)
	for {
		select {
		case err := <-errs:
			if err != nil {
				return err
			}
		case in, ok := <-inputs:
			if !ok {
				return nil
			}
			switch in.Command {
			case term.CommandQuit:
				return nil
			case term.CommandPause:
				primary.TogglePause(ctx)
			case term.CommandRestart:
				// The guest follows the host's new seed.
				if err := primary.Restart(ctx); err != nil {
					log.Warn().Err(err).Msg("restart failed")
				}
			case term.CommandAction:
				if s := route(in); s != nil {
					s.HandleInput(ctx, in.Action)
				}
			}
		}
	}
}
