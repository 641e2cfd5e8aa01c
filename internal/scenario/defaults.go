package scenario

import "github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"

// DefaultNames is the curated scenario set used unless every scenario is requested
var DefaultNames = []string{
	"play_15s",
	"reverse_playback",
	"fast_forward",
	"seek_forward",
	"seek_backward",
	"seek_with_stop",
	"switch_audio_track",
	"switch_audio_track_while_paused",
	"switch_subtitle_track",
	"switch_subtitle_track_while_paused",
	"disable_subtitle_track_while_paused",
	"change_state_intensive",
	"scrub_forward_seeking",
}

// Builtins returns the known metadata of the default scenarios, in DefaultNames order
func Builtins() []*Scenario {
	seeking := Properties{Seek: true, NeedsClockSync: true, NeedsPreroll: true}

	props := map[string]Properties{
		"play_15s":         {Summary: "Play the stream for 15 seconds", Duration: 15 * models.Second, NeedsClockSync: true},
		"reverse_playback": {Summary: "Play the stream in reverse", Seek: true, ReversePlayback: true, NeedsClockSync: true, NeedsPreroll: true},
		"fast_forward":     {Summary: "Fast forward at increasing rates", Seek: true, NeedsClockSync: true, NeedsPreroll: true, MinMediaDuration: 5 * models.Second},
		"seek_forward":     seeking,
		"seek_backward":    seeking,
		"seek_with_stop":   seeking,
		"switch_audio_track": {
			Summary: "Switch audio track while playing", NeedsPreroll: true, MinAudioTracks: 2, Duration: 20 * models.Second,
		},
		"switch_audio_track_while_paused": {
			Summary: "Switch audio track while paused", NeedsPreroll: true, MinAudioTracks: 2,
		},
		"switch_subtitle_track": {
			Summary: "Switch subtitle track while playing", NeedsPreroll: true, MinSubtitleTracks: 2, Duration: 20 * models.Second,
		},
		"switch_subtitle_track_while_paused": {
			Summary: "Switch subtitle track while paused", NeedsPreroll: true, MinSubtitleTracks: 2,
		},
		"disable_subtitle_track_while_paused": {
			Summary: "Disable subtitles while paused", NeedsPreroll: true, MinSubtitleTracks: 1,
		},
		"change_state_intensive": {Summary: "Change pipeline state many times", NeedsPreroll: true, HandlesStates: true},
		"scrub_forward_seeking":  {Summary: "Scrub forward with many flushing seeks", Seek: true, NeedsPreroll: true, HandlesStates: true},
	}

	out := make([]*Scenario, 0, len(DefaultNames))
	for _, name := range DefaultNames {
		out = append(out, New(name, props[name]))
	}
	return out
}
