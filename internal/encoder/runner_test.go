package encoder

import (
	"strings"
	"testing"
)

func TestParseEncoderList(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []Encoder
	}{
		{
			name: "software only",
			out:  "Encoders:\n V..... libx264  H.264 / AVC\n",
			want: []Encoder{EncoderSoftware},
		},
		{
			name: "nvidia",
			out:  "Encoders:\n V..... libx264\n V..... h264_nvenc  NVIDIA NVENC H.264 encoder\n",
			want: []Encoder{EncoderNVENC, EncoderSoftware},
		},
		{
			name: "intel and vaapi",
			out:  "V..... h264_qsv\nV..... h264_vaapi\nV..... libx264\n",
			want: []Encoder{EncoderQSV, EncoderVAAPI, EncoderSoftware},
		},
		{
			name: "macos",
			out:  "V..... h264_videotoolbox  VideoToolbox H.264\n",
			want: []Encoder{EncoderVideoToolbox, EncoderSoftware},
		},
		{
			name: "empty output still has fallback",
			out:  "",
			want: []Encoder{EncoderSoftware},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := parseEncoderList(tt.out)
			if len(caps.Encoders) != len(tt.want) {
				t.Fatalf("got %v, want %v", caps.Encoders, tt.want)
			}
			for i, e := range tt.want {
				if caps.Encoders[i] != e {
					t.Errorf("encoder[%d] = %s, want %s", i, caps.Encoders[i], e)
				}
			}
			if !caps.Has(EncoderSoftware) {
				t.Error("software fallback missing")
			}
		})
	}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name     string
		encoders []Encoder
		disabled bool
		want     Encoder
	}{
		{name: "nvenc wins", encoders: []Encoder{EncoderQSV, EncoderNVENC, EncoderSoftware}, want: EncoderNVENC},
		{name: "qsv over vaapi", encoders: []Encoder{EncoderVAAPI, EncoderQSV, EncoderSoftware}, want: EncoderQSV},
		{name: "videotoolbox over vaapi", encoders: []Encoder{EncoderVAAPI, EncoderVideoToolbox, EncoderSoftware}, want: EncoderVideoToolbox},
		{name: "software only", encoders: []Encoder{EncoderSoftware}, want: EncoderSoftware},
		{name: "hardware disabled", encoders: []Encoder{EncoderNVENC, EncoderSoftware}, disabled: true, want: EncoderSoftware},
		{name: "empty capabilities", encoders: nil, want: EncoderSoftware},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := &Capabilities{Encoders: tt.encoders}
			if got := caps.SelectBest(tt.disabled); got != tt.want {
				t.Errorf("SelectBest = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildClipArgs(t *testing.T) {
	spec := ClipSpec{
		InputPath:  "/videos/cam1.mp4",
		OutputPath: "/out/clip.mp4",
		StartMs:    1500,
		EndMs:      11500,
		Encoder:    EncoderSoftware,
		Quality:    QualityMedium,
	}

	args := BuildClipArgs(spec)
	joined := strings.Join(args, " ")

	wantPrefix := "-y -ss 1.500 -i /videos/cam1.mp4 -t 10.000 -c:v libx264"
	if !strings.HasPrefix(joined, wantPrefix) {
		t.Errorf("args = %q, want prefix %q", joined, wantPrefix)
	}
	if !strings.Contains(joined, "-preset medium -crf 23") {
		t.Errorf("software args missing preset/crf: %q", joined)
	}
	if !strings.Contains(joined, "-c:a aac -b:a 192k") {
		t.Errorf("audio args missing: %q", joined)
	}
	if args[len(args)-1] != "/out/clip.mp4" {
		t.Errorf("output path must be last, got %q", args[len(args)-1])
	}
}

func TestBuildClipArgsHardware(t *testing.T) {
	tests := []struct {
		encoder Encoder
		want    string
		absent  string
	}{
		{EncoderNVENC, "-preset p4 -b:v 5M", "-crf"},
		{EncoderQSV, "-preset medium -b:v 5M", "-crf"},
		{EncoderVideoToolbox, "-b:v 5M", "-preset"},
		{EncoderVAAPI, "-b:v 5M", "-preset"},
	}

	for _, tt := range tests {
		t.Run(string(tt.encoder), func(t *testing.T) {
			args := BuildClipArgs(ClipSpec{
				InputPath:  "in.mp4",
				OutputPath: "out.mp4",
				StartMs:    0,
				EndMs:      5000,
				Encoder:    tt.encoder,
				Quality:    QualityHigh,
			})
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, tt.want) {
				t.Errorf("%s args = %q, want %q", tt.encoder, joined, tt.want)
			}
			if strings.Contains(joined, tt.absent) {
				t.Errorf("%s args should not contain %q: %q", tt.encoder, tt.absent, joined)
			}
		})
	}
}

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [{
			"codec_name": "h264",
			"width": 1920,
			"height": 1080,
			"r_frame_rate": "30000/1001",
			"duration": "125.500000"
		}]
	}`)

	info, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.DurationMs != 125500 {
		t.Errorf("DurationMs = %d, want 125500", info.DurationMs)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("dimensions = %dx%d", info.Width, info.Height)
	}
	if info.Codec != "h264" {
		t.Errorf("Codec = %q", info.Codec)
	}
	if info.FPS < 29.96 || info.FPS > 29.98 {
		t.Errorf("FPS = %f, want ~29.97", info.FPS)
	}
}

func TestParseProbeOutputFormatFallback(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_name": "hevc", "width": 1280, "height": 720, "r_frame_rate": "25/1"}],
		"format": {"duration": "60.000000"}
	}`)

	info, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.DurationMs != 60000 {
		t.Errorf("DurationMs = %d, want 60000 from format fallback", info.DurationMs)
	}
	if info.FPS != 25 {
		t.Errorf("FPS = %f, want 25", info.FPS)
	}
}

func TestParseProbeOutputErrors(t *testing.T) {
	if _, err := parseProbeOutput([]byte(`{"streams": []}`)); err == nil {
		t.Error("no streams should error")
	}
	if _, err := parseProbeOutput([]byte(`not json`)); err == nil {
		t.Error("bad json should error")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997002997},
		{"60", 60},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in     string
		want   Quality
		wantOK bool
	}{
		{"", QualityMedium, true},
		{"medium", QualityMedium, true},
		{"fast", QualityFastPreview, true},
		{"high", QualityHigh, true},
		{"best", QualityBest, true},
		{"veryslow", QualityBest, true},
		{"bogus", QualityMedium, false},
	}
	for _, tt := range tests {
		got, ok := ParseQuality(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseQuality(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRunResultErrorDetail(t *testing.T) {
	if d := (RunResult{ExitCode: 0}).ErrorDetail(); d != "" {
		t.Errorf("success detail = %q, want empty", d)
	}
	if d := (RunResult{ExitCode: 1, TimedOut: true}).ErrorDetail(); !strings.Contains(d, "timeout") {
		t.Errorf("timeout detail = %q", d)
	}
	if d := (RunResult{ExitCode: 1, StderrTail: "boom"}).ErrorDetail(); !strings.Contains(d, "boom") {
		t.Errorf("stderr detail = %q", d)
	}

	long := strings.Repeat("x", 2000) + "END"
	d := (RunResult{ExitCode: 1, StderrTail: long}).ErrorDetail()
	if !strings.HasSuffix(d, "END") {
		t.Errorf("detail should keep the stderr tail, got %q", d[len(d)-10:])
	}
	if len(d) > maxErrorDetail+32 {
		t.Errorf("detail length = %d, want bounded near %d", len(d), maxErrorDetail)
	}
}
