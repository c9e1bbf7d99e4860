package capture

import (
	"fmt"
	"sort"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

// Branch records which rule picked the negotiated format.
type Branch int

const (
	BranchNone Branch = iota
	BranchRGB
	BranchYUV
	BranchCurrent
)

func (b Branch) String() string {
	switch b {
	case BranchRGB:
		return "rgb"
	case BranchYUV:
		return "yuv"
	case BranchCurrent:
		return "device-current"
	}
	return "none"
}

// Negotiation is the outcome of format negotiation.
type Negotiation struct {
	Format Format
	Branch Branch

	// NeedsConversion is false only when frames arrive as RGB24 already.
	NeedsConversion bool
}

// SelectFormat applies the preference order: the first RGB24 or RGB32
// candidate, else the first YUY2 or YUYV candidate.
func SelectFormat(caps []Format) (Format, Branch, bool) {
	var (
		yuv   Format
		found bool
	)
	for _, c := range caps {
		if c.PixelFormat.IsRGB() {
			return c, BranchRGB, true
		}
		if !found && c.PixelFormat.IsYUV422() {
			yuv = c
			found = true
		}
	}
	if found {
		return yuv, BranchYUV, true
	}
	return Format{}, BranchNone, false
}

// preferSize moves candidates matching the requested size to the front,
// keeping relative order otherwise.
func preferSize(caps []Format, req FormatRequest) []Format {
	if req.Width <= 0 || req.Height <= 0 {
		return caps
	}
	out := append([]Format(nil), caps...)
	sort.SliceStable(out, func(i, j int) bool {
		mi := out[i].Width == req.Width && out[i].Height == req.Height
		mj := out[j].Width == req.Width && out[j].Height == req.Height
		return mi && !mj
	})
	return out
}

// Negotiate picks a format from caps and applies it with set. When nothing
// suitable is advertised, or set rejects the choice, the device's current
// format is accepted as is. Only a failure to read the current format is
// fatal.
func Negotiate(caps []Format, req FormatRequest, set func(Format) (Format, error), current func() (Format, error)) (Negotiation, string, error) {
	var note string
	if choice, branch, ok := SelectFormat(preferSize(caps, req)); ok {
		if req.FPS > 0 {
			choice.FrameInterval100ns = IntervalForFPS(req.FPS)
		}
		applied, err := set(choice)
		if err == nil {
			return newNegotiation(applied, branch), "", nil
		}
		note = fmt.Sprintf("set %s rejected: %v", choice, err)
	} else {
		note = fmt.Sprintf("no RGB or YUV 4:2:2 format among %d candidates", len(caps))
	}

	cur, err := current()
	if err != nil {
		return Negotiation{}, note, fmt.Errorf("%w: read current format: %v", ErrFormatNegotiationFailed, err)
	}
	if cur.Width <= 0 || cur.Height <= 0 {
		return Negotiation{}, note, fmt.Errorf("%w: device reports %dx%d", ErrFormatNegotiationFailed, cur.Width, cur.Height)
	}
	return newNegotiation(cur, BranchCurrent), note, nil
}

func newNegotiation(f Format, b Branch) Negotiation {
	return Negotiation{
		Format:          f,
		Branch:          b,
		NeedsConversion: f.PixelFormat != pixfmt.RGB24,
	}
}
