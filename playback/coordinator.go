package playback

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Canceler truncates an upstream response at the given playback position
type Canceler interface {
	CancelResponse(ctx context.Context, trackID string, sampleOffset int64) error
}

// Coordinator implements barge-in: when the user starts talking it stops
// local playback and cancels the response at the point the user heard.
type Coordinator struct {
	player   *Player
	canceler Canceler
}

func NewCoordinator(player *Player, canceler Canceler) *Coordinator {
	return &Coordinator{player: player, canceler: canceler}
}

// Interrupt halts playback and, if a track was playing, sends one cancel for
// it. CancelResponse must not wait for an acknowledgement.
func (c *Coordinator) Interrupt(ctx context.Context) (TrackOffset, bool) {
	pos, ok := c.player.Interrupt()
	if !ok {
		return pos, false
	}

	log.Debug().Str("track", pos.TrackID).Int64("offset", pos.Offset).Msg("interrupting response")
	if err := c.canceler.CancelResponse(ctx, pos.TrackID, pos.Offset); err != nil {
		log.Warn().Err(err).Str("track", pos.TrackID).Msg("failed to cancel response")
	}
	return pos, true
}
