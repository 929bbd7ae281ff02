package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/asticode/go-astits"
)

// ErrNoPCR is returned when a transport stream carries no program clock
// references, which means it cannot be timed and is almost certainly junk.
var ErrNoPCR = errors.New("no PCR found in transport stream")

// pcrWrap is the period of the 33-bit 90 kHz PCR base (~26.5 h); the scan
// unwraps across at most one rollover per observation.
const pcrWrap = time.Duration(1<<33) * time.Second / 90000

// quickScanPackets bounds the junk-file guard to roughly the first 4 MiB.
const quickScanPackets = 20000

// TSInfo summarises a raw MPEG-TS capture.
type TSInfo struct {
	// Duration is the span of the PCR timeline, first to last reference.
	Duration time.Duration
	// Packets is the number of TS packets scanned.
	Packets int
	// PCRCount is the number of clock references seen.
	PCRCount int
}

// ProbeTS derives the duration of a capture file from its PCR timeline.
// It is the fallback for captures ffprobe refuses to read: the scan is
// byte-level, tolerates a corrupt tail, and uses whatever clock references
// survived. Truncated or desynced data after the first PCR ends the scan
// rather than failing it.
func ProbeTS(ctx context.Context, path string) (*TSInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transport stream: %w", err)
	}
	defer f.Close()

	return probeTSPackets(ctx, f, 0)
}

// QuickScanTS checks that the first few thousand packets of a capture carry
// at least one PCR. Recovery uses it to tell a salvageable capture from a
// zero-byte-padded junk file before promoting it to the pipeline.
func QuickScanTS(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening transport stream: %w", err)
	}
	defer f.Close()

	info, err := probeTSPackets(ctx, f, quickScanPackets)
	if err != nil {
		return err
	}
	if info.PCRCount == 0 {
		return ErrNoPCR
	}
	return nil
}

// probeTSPackets walks TS packets collecting PCR bounds. maxPackets of 0
// scans the whole stream.
func probeTSPackets(ctx context.Context, r io.Reader, maxPackets int) (*TSInfo, error) {
	dmx := astits.NewDemuxer(ctx, bufio.NewReaderSize(r, 1<<20))

	info := &TSInfo{}
	var first, last, wrapOffset time.Duration

	for maxPackets == 0 || info.Packets < maxPackets {
		pkt, err := dmx.NextPacket()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			if info.PCRCount > 0 {
				// Desync in the tail of a crashed capture; the timeline up
				// to this point is still usable.
				break
			}
			return nil, fmt.Errorf("demuxing transport stream: %w", err)
		}
		info.Packets++

		if pkt.AdaptationField == nil || !pkt.AdaptationField.HasPCR || pkt.AdaptationField.PCR == nil {
			continue
		}
		cur := pkt.AdaptationField.PCR.Duration()
		if info.PCRCount == 0 {
			first = cur
		} else if cur < last && last-cur > pcrWrap/2 {
			wrapOffset += pcrWrap
		}
		last = cur
		info.PCRCount++

		if info.PCRCount%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	if info.PCRCount == 0 {
		if maxPackets == 0 {
			return nil, ErrNoPCR
		}
		return info, nil
	}
	info.Duration = last + wrapOffset - first
	return info, nil
}
