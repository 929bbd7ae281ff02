package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcrPacket builds one 188-byte TS packet whose adaptation field carries a
// PCR with the given 90 kHz base.
func pcrPacket(base int64) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47 // sync byte
	pkt[1] = 0x01 // PID 0x0100
	pkt[2] = 0x00
	pkt[3] = 0x20 // adaptation field only
	pkt[4] = 183  // adaptation field fills the packet
	pkt[5] = 0x10 // PCR flag
	// 33-bit base, 6 reserved bits, 9-bit extension.
	v := uint64(base)<<15 | uint64(0x3F)<<9
	for i := 0; i < 6; i++ {
		pkt[6+i] = byte(v >> (8 * (5 - i)))
	}
	for i := 12; i < 188; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// nullPacket builds a PID 0x1FFF stuffing packet with no PCR.
func nullPacket() []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = 0x1F
	pkt[2] = 0xFF
	pkt[3] = 0x10 // payload only
	for i := 4; i < 188; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func writeTS(t *testing.T, packets ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.ts")
	var buf bytes.Buffer
	for _, p := range packets {
		buf.Write(p)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestProbeTS_DurationFromPCR(t *testing.T) {
	// PCRs at 0 s, 5 s and 10 s on the 90 kHz clock.
	path := writeTS(t,
		pcrPacket(0),
		nullPacket(),
		pcrPacket(5*90000),
		nullPacket(),
		pcrPacket(10*90000),
	)

	info, err := ProbeTS(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, info.Duration)
	assert.Equal(t, 3, info.PCRCount)
	assert.Equal(t, 5, info.Packets)
}

func TestProbeTS_UnwrapsPCRRollover(t *testing.T) {
	// One second before the 33-bit rollover, then one second after it.
	path := writeTS(t,
		pcrPacket(1<<33-90000),
		pcrPacket(90000),
		nullPacket(),
	)

	info, err := ProbeTS(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, info.Duration)
}

func TestProbeTS_ToleratesCorruptTail(t *testing.T) {
	junk := make([]byte, 188) // full packet of zeroes, no sync byte
	path := writeTS(t,
		pcrPacket(0),
		nullPacket(),
		pcrPacket(30*90000),
		junk,
	)

	info, err := ProbeTS(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, info.Duration)
	assert.Equal(t, 2, info.PCRCount)
}

func TestProbeTS_NoPCR(t *testing.T) {
	path := writeTS(t, nullPacket(), nullPacket(), nullPacket())

	_, err := ProbeTS(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoPCR)
}

func TestProbeTS_MissingFile(t *testing.T) {
	_, err := ProbeTS(context.Background(), filepath.Join(t.TempDir(), "nope.ts"))
	assert.Error(t, err)
}

func TestQuickScanTS(t *testing.T) {
	t.Run("capture with PCR passes", func(t *testing.T) {
		path := writeTS(t, pcrPacket(0), nullPacket(), pcrPacket(90000))
		assert.NoError(t, QuickScanTS(context.Background(), path))
	})

	t.Run("null-only junk fails", func(t *testing.T) {
		path := writeTS(t, nullPacket(), nullPacket(), nullPacket())
		assert.ErrorIs(t, QuickScanTS(context.Background(), path), ErrNoPCR)
	})

	t.Run("garbage bytes fail", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.ts")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x00}, 4096), 0o644))
		assert.Error(t, QuickScanTS(context.Background(), path))
	})
}
