package playback

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const (
	// SampleRate of the agent audio, PCM16 mono
	SampleRate     = 24000
	bytesPerSample = 2

	// 20ms of audio per sink write
	defaultChunkSamples = SampleRate / 50
)

// TrackOffset is the playback position of one track of agent audio
type TrackOffset struct {
	TrackID string
	Offset  int64 // samples handed to the sink
}

type chunk struct {
	trackID string
	pcm     []byte
}

// Player streams queued PCM16 audio to a sink and keeps the playback track
// bookkeeping used for barge-in.
type Player struct {
	sink       io.Writer
	chunkBytes int
	wake       chan struct{}

	mu          sync.Mutex
	queue       []chunk
	writing     bool
	current     string
	offset      int64
	generation  uint64
	interrupted [2]string // most recent first
}

// NewPlayer creates a player writing to sink. Nothing is played until Run.
func NewPlayer(sink io.Writer) *Player {
	return &Player{
		sink:       sink,
		chunkBytes: defaultChunkSamples * bytesPerSample,
		wake:       make(chan struct{}, 1),
	}
}

// Add queues audio for a track. Audio for an interrupted track is ignored
// and Add reports false.
func (p *Player) Add(trackID string, pcm []byte) bool {
	p.mu.Lock()
	if p.wasInterrupted(trackID) {
		p.mu.Unlock()
		return false
	}
	for len(pcm) > 0 {
		n := min(p.chunkBytes, len(pcm))
		p.queue = append(p.queue, chunk{trackID: trackID, pcm: pcm[:n]})
		pcm = pcm[n:]
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// Run hands queued audio to the sink until ctx is done or the sink fails
func (p *Player) Run(ctx context.Context) error {
	for {
		c, gen, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
			}
			continue
		}

		n, err := p.sink.Write(c.pcm)
		p.played(c.trackID, gen, n)
		if err != nil {
			return fmt.Errorf("playback.Run: %w", err)
		}
	}
}

func (p *Player) next() (chunk, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return chunk{}, 0, false
	}
	c := p.queue[0]
	p.queue = p.queue[1:]
	if c.trackID != p.current {
		p.current = c.trackID
		p.offset = 0
	}
	p.writing = true
	return c, p.generation, true
}

func (p *Player) played(trackID string, gen uint64, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writing = false
	// An interrupt happened while the sink was busy
	if gen != p.generation || trackID != p.current {
		return
	}
	p.offset += int64(n / bytesPerSample)
}

func (p *Player) activeLocked() (TrackOffset, bool) {
	if p.writing {
		return TrackOffset{TrackID: p.current, Offset: p.offset}, true
	}
	if len(p.queue) == 0 {
		return TrackOffset{}, false
	}
	id := p.queue[0].trackID
	if id == p.current {
		return TrackOffset{TrackID: id, Offset: p.offset}, true
	}
	return TrackOffset{TrackID: id}, true
}

// wasInterrupted reports whether trackID is one of the last two interrupted
// tracks. Late audio only ever arrives for the track that was just cut off.
func (p *Player) wasInterrupted(trackID string) bool {
	return trackID != "" && (trackID == p.interrupted[0] || trackID == p.interrupted[1])
}

// Position returns the active track and its offset without changing anything
func (p *Player) Position() (TrackOffset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

// Interrupt stops playback. Queued audio is discarded, and further audio for
// the active track is ignored. It returns the active track and how much of it
// was played, or false when nothing was playing.
func (p *Player) Interrupt() (TrackOffset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.activeLocked()
	if ok && pos.TrackID != p.interrupted[0] {
		p.interrupted[1] = p.interrupted[0]
		p.interrupted[0] = pos.TrackID
	}
	p.queue = nil
	p.writing = false
	p.current = ""
	p.offset = 0
	p.generation++
	return pos, ok
}
