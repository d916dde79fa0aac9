package transcode

import (
	"fmt"
	"strconv"

	"github.com/your-org/shortsplit/internal/ffmpeg"
)

// EncoderProfile selects the video encoder and the arguments it needs.
// The concrete types are HardwareProfile and SoftwareProfile.
type EncoderProfile interface {
	// Name identifies the profile in logs.
	Name() string
	videoArgs(src ffmpeg.SourceVideo) []string
}

// HardwareProfile encodes on an NVENC GPU with a constant-quality target.
type HardwareProfile struct {
	Codec       string
	Preset      string
	RateControl string
	CQ          int
}

// DefaultHardwareProfile is h264_nvenc, preset fast, VBR at CQ 20.
func DefaultHardwareProfile() HardwareProfile {
	return HardwareProfile{Codec: "h264_nvenc", Preset: "fast", RateControl: "vbr", CQ: 20}
}

func (p HardwareProfile) Name() string { return "hardware:" + p.Codec }

func (p HardwareProfile) videoArgs(ffmpeg.SourceVideo) []string {
	return []string{
		"-c:v", p.Codec,
		"-preset", p.Preset,
		"-rc", p.RateControl,
		"-cq", strconv.Itoa(p.CQ),
	}
}

// SoftwareProfile encodes with x264, targeting the source's own bit rate.
type SoftwareProfile struct {
	Codec  string
	Preset string
	CRF    int
	// DefaultBitRate is used when the source bit rate is unknown.
	DefaultBitRate int64
	MaxRateFactor  float64
	BufSizeFactor  float64
}

// DefaultSoftwareProfile is libx264 slow at CRF 18 with an 8 Mbps fallback.
func DefaultSoftwareProfile() SoftwareProfile {
	return SoftwareProfile{
		Codec:          "libx264",
		Preset:         "slow",
		CRF:            18,
		DefaultBitRate: 8_000_000,
		MaxRateFactor:  1.5,
		BufSizeFactor:  2,
	}
}

func (p SoftwareProfile) Name() string { return "software:" + p.Codec }

// TargetBitRate is the source bit rate, or the default when the source has none.
func (p SoftwareProfile) TargetBitRate(src ffmpeg.SourceVideo) int64 {
	if src.BitRate > 0 {
		return src.BitRate
	}
	return p.DefaultBitRate
}

func (p SoftwareProfile) videoArgs(src ffmpeg.SourceVideo) []string {
	rate := p.TargetBitRate(src)
	pixFmt := src.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	return []string{
		"-c:v", p.Codec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", pixFmt,
		"-b:v", strconv.FormatInt(rate, 10),
		"-maxrate", strconv.FormatInt(int64(float64(rate)*p.MaxRateFactor), 10),
		"-bufsize", strconv.FormatInt(int64(float64(rate)*p.BufSizeFactor), 10),
	}
}

// AudioProfile is shared by both encoder profiles.
type AudioProfile struct {
	Codec   string
	BitRate string
}

// DefaultAudioProfile is AAC at 320k.
func DefaultAudioProfile() AudioProfile {
	return AudioProfile{Codec: "aac", BitRate: "320k"}
}

func (a AudioProfile) args() []string {
	return []string{"-c:a", a.Codec, "-b:a", a.BitRate}
}

// Profile kinds accepted by SelectProfile.
const (
	KindSoftware = "software"
	KindHardware = "hardware"
)

// SelectProfile returns hw or sw depending on kind.
func SelectProfile(kind string, hw HardwareProfile, sw SoftwareProfile) (EncoderProfile, error) {
	switch kind {
	case KindHardware:
		return hw, nil
	case KindSoftware, "":
		return sw, nil
	default:
		return nil, fmt.Errorf("unknown encoder profile: %s", kind)
	}
}
