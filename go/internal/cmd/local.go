package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/coopblocks/go/internal/config"
	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/game"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/coop/relay"
	"github.com/mcdev12/coopblocks/go/internal/coop/term"
	"github.com/mcdev12/coopblocks/go/internal/leaderboard"
	"github.com/mcdev12/coopblocks/go/internal/relaystore"
	"github.com/mcdev12/coopblocks/go/internal/rooms"
)

func newLocalCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "local",
		Short: "Play both slots on one keyboard (WASD for P1, arrows for P2)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return playLocal(cmd.Context(), *cfg)
		},
	}
}

// playLocal runs a host and a guest session in one process, synchronised
// through an in-memory relay.
func playLocal(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := relaystore.NewMemoryStore()
	defer store.Close()

	var recorder leaderboard.Recorder = leaderboard.LogRecorder{}
	if cfg.Leaderboard {
		repo, closeRepo, err := setupLeaderboard(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer closeRepo()
		recorder = repo
	}

	hostID, guestID := uuid.NewString(), uuid.NewString()
	manager := rooms.NewManager(store, nil)
	info, err := manager.CreateRoom(ctx, hostID)
	if err != nil {
		return err
	}
	if _, err := manager.JoinRoom(ctx, info.ID, guestID); err != nil {
		return err
	}
	pterm.Info.Printfln("Local room %s", info.ID)

	hostProvider := relay.New(store, relay.DefaultConfig(info.ID, hostID), nil)
	guestProvider := relay.New(store, relay.DefaultConfig(info.ID, guestID), nil)

	// Both sessions reach the same game over; only the host records it.
	host := game.NewSession(sessionConfig(cfg, protocol.Host), hostProvider, recorder)
	guest := game.NewSession(sessionConfig(cfg, protocol.Guest), guestProvider, nil)

	if err := host.Start(ctx); err != nil {
		return err
	}
	defer stopSession(host)
	if err := guest.Start(ctx); err != nil {
		return err
	}
	defer stopSession(guest)

	if err := waitForPeer(ctx, hostProvider); err != nil {
		return fmt.Errorf("local relay: %w", err)
	}

	sessions := []*game.Session{host, guest}
	return runScreen(ctx, cfg, info.ID, protocol.Host, hostProvider, sessions, func(in term.Input) *game.Session {
		if in.Layout == board.Slot2 {
			return guest
		}
		return host
	})
}

func stopSession(s *game.Session) {
	if err := s.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop session")
	}
}
